// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "fmt"

// LayerKind identifies a validation layer.
//
// Kinds are a closed enum: the execution order, the weight table, and the
// terminating set are all indexed by kind, so adding a layer without
// extending the tables fails to compile rather than silently running with
// a zero weight.
type LayerKind int

const (
	// KindContext is the anti-hallucination check: every edit must
	// reference a path present in the context files.
	KindContext LayerKind = iota

	// KindSyntax parses patched files and rejects structural errors.
	KindSyntax

	// KindPlaceholder rejects stub markers and dummy implementations.
	KindPlaceholder

	// KindTypeHints grades type-annotation quality (advisory only).
	KindTypeHints

	// KindImports resolves names used by the patch to imports,
	// definitions, or context symbols.
	KindImports

	// KindDefinitionOrder flags uses that precede their definition.
	KindDefinitionOrder

	// KindManifest validates external configuration such as container
	// manifests touched by the patch.
	KindManifest

	// KindSecurity scans added lines for dangerous patterns and secrets.
	KindSecurity

	// KindDependencyCompat detects known-incompatible dependency and
	// test-library combinations.
	KindDependencyCompat

	// KindStyle is retired. Kept at zero weight for score-shape
	// compatibility with stored verdicts.
	KindStyle

	// KindComplexity is retired (zero weight).
	KindComplexity

	// KindFunctionInventory checks edited calls against the metadata
	// function inventory. Skips when metadata is absent. Zero weight.
	KindFunctionInventory

	// KindFrameworkConsistency checks the patch against detected
	// frameworks from metadata. Skips when metadata is absent. Zero weight.
	KindFrameworkConsistency

	// KindDocstrings is retired (zero weight).
	KindDocstrings

	// KindLogicBugs is the assisted logic-bug detector.
	KindLogicBugs

	// KindRequirementsCoverage is the assisted requirements-coverage check.
	KindRequirementsCoverage

	// KindTestGeneration optionally generates a smoke test for the patch.
	KindTestGeneration

	// KindTestExecution optionally runs generated tests in a sandbox.
	KindTestExecution

	numKinds
)

// kindNames maps kinds to their stable string identifiers. The array length
// is checked against the enum at compile time.
var kindNames = [numKinds]string{
	KindContext:              "context",
	KindSyntax:               "syntax",
	KindPlaceholder:          "placeholder",
	KindTypeHints:            "type_hints",
	KindImports:              "imports",
	KindDefinitionOrder:      "definition_order",
	KindManifest:             "manifest",
	KindSecurity:             "security",
	KindDependencyCompat:     "dependency_compat",
	KindStyle:                "style",
	KindComplexity:           "complexity",
	KindFunctionInventory:    "function_inventory",
	KindFrameworkConsistency: "framework_consistency",
	KindDocstrings:           "docstrings",
	KindLogicBugs:            "logic_bugs",
	KindRequirementsCoverage: "requirements_coverage",
	KindTestGeneration:       "test_generation",
	KindTestExecution:        "test_execution",
}

// String returns the stable identifier for the kind.
func (k LayerKind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("unknown(%d)", int(k))
	}
	return kindNames[k]
}

// layerWeights is the fixed aggregation weight per kind, used when the
// apply check is unavailable and confidence falls back to a weighted
// average. Syntax and the anti-hallucination context check dominate;
// retired and optional layers carry zero weight. The table is sized by the
// enum so a new kind without a weight entry is a compile error.
var layerWeights = [numKinds]float64{
	KindContext:              0.25,
	KindSyntax:               0.25,
	KindPlaceholder:          0.08,
	KindTypeHints:            0.04,
	KindImports:              0.10,
	KindDefinitionOrder:      0.10,
	KindManifest:             0.04,
	KindSecurity:             0.05,
	KindDependencyCompat:     0.05,
	KindStyle:                0,
	KindComplexity:           0,
	KindFunctionInventory:    0,
	KindFrameworkConsistency: 0,
	KindDocstrings:           0,
	KindLogicBugs:            0.02,
	KindRequirementsCoverage: 0.02,
	KindTestGeneration:       0,
	KindTestExecution:        0,
}

// Weight returns the aggregation weight for the kind.
func (k LayerKind) Weight() float64 {
	if k < 0 || k >= numKinds {
		return 0
	}
	return layerWeights[k]
}

// terminatingKinds are the layers whose critical issues halt the pipeline
// immediately with a partial verdict.
var terminatingKinds = [numKinds]bool{
	KindContext:          true,
	KindSyntax:           true,
	KindPlaceholder:      true,
	KindImports:          true,
	KindDefinitionOrder:  true,
	KindManifest:         true,
	KindDependencyCompat: true,
}

// Terminating returns true if a critical issue from this layer stops the
// pipeline before remaining layers run.
func (k LayerKind) Terminating() bool {
	if k < 0 || k >= numKinds {
		return false
	}
	return terminatingKinds[k]
}

// Assisted returns true if the layer calls the external reasoning service.
// Assisted layers are fail-open: any service failure yields a neutral score.
func (k LayerKind) Assisted() bool {
	switch k {
	case KindLogicBugs, KindRequirementsCoverage, KindTestGeneration:
		return true
	default:
		return false
	}
}

// ExecutionOrder is the fixed order layers run in. Later layers depend on
// earlier ones having short-circuited doomed patches, so the order is part
// of the pipeline contract.
func ExecutionOrder() []LayerKind {
	return []LayerKind{
		KindContext,
		KindSyntax,
		KindPlaceholder,
		KindTypeHints,
		KindImports,
		KindDefinitionOrder,
		KindManifest,
		KindSecurity,
		KindDependencyCompat,
		KindStyle,
		KindComplexity,
		KindFunctionInventory,
		KindFrameworkConsistency,
		KindDocstrings,
		KindLogicBugs,
		KindRequirementsCoverage,
		KindTestGeneration,
		KindTestExecution,
	}
}
