// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package layers

import (
	"log/slog"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/reason"
)

// Options selects the optional pieces of the layer set.
type Options struct {
	// Client is the reasoning backend for assisted layers. Nil disables
	// them; they pass neutrally.
	Client reason.Client

	// Sandbox enables generated-test execution. Nil skips it.
	Sandbox Sandbox

	// Logger receives assisted-layer degradation warnings.
	Logger *slog.Logger
}

// Default returns the full layer set in no particular order; the pipeline
// itself imposes the execution order.
func Default(opts Options) []pipeline.Layer {
	artifacts := NewTestArtifacts()
	return []pipeline.Layer{
		NewContext(),
		NewSyntax(),
		NewPlaceholder(),
		NewTypeHints(),
		NewImports(),
		NewDefinitionOrder(),
		NewManifest(),
		NewSecurity(),
		NewDependencyCompat(),
		NewRetired(pipeline.KindStyle),
		NewRetired(pipeline.KindComplexity),
		NewRetired(pipeline.KindDocstrings),
		NewFunctionInventory(),
		NewFrameworkConsistency(),
		NewLogicBugs(opts.Client, opts.Logger),
		NewRequirementsCoverage(opts.Client, opts.Logger),
		NewTestGeneration(opts.Client, artifacts, opts.Logger),
		NewTestExecution(opts.Sandbox, artifacts, opts.Logger),
	}
}
