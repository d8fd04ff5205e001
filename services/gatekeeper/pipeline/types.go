// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline runs an ordered sequence of validation layers over a
// candidate patch and aggregates their findings into a single verdict.
//
// # Description
//
// The pipeline is the system's only real correctness gate: everything
// upstream of it (issue analysis, retrieval, generation) can hallucinate,
// and the verdict produced here decides whether a patch is ever surfaced.
// Deterministic layers are pure functions of the patch and context files;
// assisted layers consult the external reasoning service and degrade to a
// neutral opinion on any failure.
//
// # Thread Safety
//
// A Pipeline is safe for concurrent use after construction. Each Validate
// call owns its own state; the patch and context set are never mutated.
package pipeline

import (
	"context"
	"time"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
)

// Severity grades an issue as detected by a layer.
type Severity string

const (
	// SeverityCritical blocks a patch and, from terminating layers,
	// stops the pipeline.
	SeverityCritical Severity = "critical"

	// SeverityHigh blocks when too many accumulate.
	SeverityHigh Severity = "high"

	// SeverityMedium is a quality concern that never blocks.
	SeverityMedium Severity = "medium"

	// SeverityLow is a minor observation.
	SeverityLow Severity = "low"

	// SeverityAdvisoryMedium is a demoted medium surfaced for human review.
	SeverityAdvisoryMedium Severity = "advisory-medium"

	// SeverityAdvisoryLow is a demoted low surfaced for human review.
	SeverityAdvisoryLow Severity = "advisory-low"
)

// Advisory returns true for the advisory severities, which never block.
func (s Severity) Advisory() bool {
	return s == SeverityAdvisoryMedium || s == SeverityAdvisoryLow
}

// Blocking returns true for severities that can contribute to invalidity.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// rank orders severities for feedback rendering (lower renders first).
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityAdvisoryMedium:
		return 4
	case SeverityAdvisoryLow:
		return 5
	default:
		return 6
	}
}

// Issue is a single finding from a validation layer.
//
// BaseSeverity is immutable, exactly as the layer detected it.
// EffectiveSeverity is derived by Classify and is the only severity the
// rest of the system consults; no component rewrites another's records.
type Issue struct {
	// Layer identifies the layer that produced the issue.
	Layer LayerKind `json:"layer"`

	// BaseSeverity is the severity as detected.
	BaseSeverity Severity `json:"base_severity"`

	// EffectiveSeverity is the severity after advisory classification.
	EffectiveSeverity Severity `json:"effective_severity"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// FilePath is the affected file (empty if not file-specific).
	FilePath string `json:"file_path,omitempty"`

	// Line is the affected 1-based line (0 if not line-specific).
	Line int `json:"line,omitempty"`

	// Suggestion describes a direction for fixing the issue.
	Suggestion string `json:"suggestion,omitempty"`

	// FixInstruction is a concrete instruction the generator can act on.
	FixInstruction string `json:"fix_instruction,omitempty"`

	// MissingImport marks unresolved-name issues the refiner can repair
	// by adding an import, as opposed to regenerating the patch.
	MissingImport bool `json:"missing_import,omitempty"`

	// EmptyEditFormat marks the auto-fixable empty-old-text format class.
	EmptyEditFormat bool `json:"empty_edit_format,omitempty"`
}

// Classify derives the effective severity for an issue.
//
// Advisory demotion is a pure function of the layer and base severity:
// quality layers (type hints, security non-blocking findings) and assisted
// findings below high are surfaced for human review rather than blocking.
func Classify(layer LayerKind, base Severity) Severity {
	demote := func() Severity {
		switch base {
		case SeverityMedium:
			return SeverityAdvisoryMedium
		case SeverityLow:
			return SeverityAdvisoryLow
		default:
			return base
		}
	}

	switch layer {
	case KindTypeHints, KindSecurity, KindFunctionInventory,
		KindFrameworkConsistency, KindTestGeneration:
		return demote()
	case KindLogicBugs, KindRequirementsCoverage:
		return demote()
	default:
		return base
	}
}

// NewIssue builds an issue with its effective severity derived.
func NewIssue(layer LayerKind, base Severity, message string) Issue {
	return Issue{
		Layer:             layer,
		BaseSeverity:      base,
		EffectiveSeverity: Classify(layer, base),
		Message:           message,
	}
}

// LayerResult is the pure output of one layer.
type LayerResult struct {
	// Score is the layer's quality score in [0,1].
	Score float64 `json:"score"`

	// Issues are the findings, if any.
	Issues []Issue `json:"issues,omitempty"`
}

// Neutral is the fail-open result assisted layers return when the
// reasoning service is unavailable: full score, no opinion.
func Neutral() LayerResult {
	return LayerResult{Score: 1.0}
}

// Understanding is read-only analysis from the issue-understanding
// collaborator, used only to build critiques and assisted-layer prompts.
type Understanding struct {
	// RootCause summarizes the diagnosed cause of the issue.
	RootCause string `json:"root_cause,omitempty"`

	// Requirements are the concrete requirements a fix must satisfy.
	Requirements []string `json:"requirements,omitempty"`

	// RiskLevel is the collaborator's risk assessment (low/medium/high).
	RiskLevel string `json:"risk_level,omitempty"`
}

// Metadata is optional static-analysis input. Absence must not block
// validation; layers that need it simply skip.
type Metadata struct {
	// Functions is the known function inventory, name to defining file.
	Functions map[string]string `json:"functions,omitempty"`

	// Frameworks are the detected frameworks/libraries of the project.
	Frameworks []string `json:"frameworks,omitempty"`

	// Dependencies maps dependency name to pinned version (with or
	// without a leading "v").
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Input is everything a layer may consult. Layers treat every field as
// read-only.
type Input struct {
	// Patch is the normalized candidate patch.
	Patch *patch.Patch

	// Context is the indexed context-file set.
	Context *patch.ContextSet

	// Apply is the apply-check outcome, including patched file content
	// for every operation that applied cleanly.
	Apply *patch.ApplyResult

	// Understanding is optional collaborator analysis.
	Understanding *Understanding

	// Metadata is optional static-analysis input.
	Metadata *Metadata
}

// PatchedContent returns the post-patch content for a path, falling back
// to the context file when the patch did not touch it.
func (in *Input) PatchedContent(path string) (string, bool) {
	key := patch.NormalizePath(path)
	if in.Apply != nil {
		if content, ok := in.Apply.Files[key]; ok {
			return content, true
		}
	}
	if in.Context != nil {
		if f, ok := in.Context.Get(key); ok {
			return f.Content, true
		}
	}
	return "", false
}

// Layer is a single, independently testable check.
//
// Deterministic layers must be synchronous, non-blocking, and return
// identical results for identical inputs. Assisted layers may block on the
// reasoning service but must be fail-open.
type Layer interface {
	// Kind identifies the layer.
	Kind() LayerKind

	// Evaluate runs the check. Issues are reported by return value,
	// never by panicking or by an error channel.
	Evaluate(ctx context.Context, in *Input) LayerResult
}

// Verdict is the pipeline's aggregated outcome.
type Verdict struct {
	// Valid is true when the patch may be surfaced.
	Valid bool `json:"valid"`

	// Confidence is the aggregated confidence in [0,1]. It is produced
	// even for invalid verdicts so callers can rank failed attempts.
	Confidence float64 `json:"confidence"`

	// Issues are all findings, in layer execution order.
	Issues []Issue `json:"issues,omitempty"`

	// LayerScores maps layer identifier to its score for every layer
	// that ran.
	LayerScores map[string]float64 `json:"layer_scores"`

	// Summary is a one-line human-readable outcome.
	Summary string `json:"summary"`

	// Feedback is structured guidance the generator can act on. Non-empty
	// whenever the verdict is invalid.
	Feedback string `json:"feedback,omitempty"`

	// ApplyPassed records whether the apply check succeeded.
	ApplyPassed bool `json:"apply_passed"`

	// HaltedAt names the terminating layer when the pipeline exited
	// early, empty otherwise.
	HaltedAt string `json:"halted_at,omitempty"`

	// Duration is how long validation took.
	Duration time.Duration `json:"duration"`

	// ValidatedAt is when validation occurred.
	ValidatedAt time.Time `json:"validated_at"`
}

// CriticalCount returns the number of effective-critical issues.
func (v *Verdict) CriticalCount() int {
	n := 0
	for _, is := range v.Issues {
		if is.EffectiveSeverity == SeverityCritical {
			n++
		}
	}
	return n
}

// HighCount returns the number of effective-high issues.
func (v *Verdict) HighCount() int {
	n := 0
	for _, is := range v.Issues {
		if is.EffectiveSeverity == SeverityHigh {
			n++
		}
	}
	return n
}

// BlockingHighCount returns the number of effective-high issues from
// non-assisted layers. Assisted findings reduce confidence but never
// decide validity on their own, so only deterministic highs count
// against the high-issue budget.
func (v *Verdict) BlockingHighCount() int {
	n := 0
	for _, is := range v.Issues {
		if is.EffectiveSeverity == SeverityHigh && !is.Layer.Assisted() {
			n++
		}
	}
	return n
}

// TerminatingCritical returns the first critical issue from a terminating
// layer, if any.
func (v *Verdict) TerminatingCritical() (Issue, bool) {
	for _, is := range v.Issues {
		if is.EffectiveSeverity == SeverityCritical && is.Layer.Terminating() {
			return is, true
		}
	}
	return Issue{}, false
}

// AdvisoryOnly returns true when every issue is advisory.
func (v *Verdict) AdvisoryOnly() bool {
	for _, is := range v.Issues {
		if !is.EffectiveSeverity.Advisory() {
			return false
		}
	}
	return true
}
