// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package refine drives the bounded critique, revise, re-validate loop
// over a failing or low-confidence verdict.
//
// # Description
//
// Refinement is polish, not regeneration: it is only entered when the
// candidate is close enough to fixing that targeted revision is cheaper
// than starting over, and it aborts the moment a revision measurably makes
// things worse. The controller owns producing a new Patch each iteration
// and is the only component allowed to replace one.
package refine

import (
	"fmt"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// TerminationReason is the closed set of ways a refinement run ends.
type TerminationReason string

const (
	// ReasonFormatIssuesOnly: the only blocking findings are the
	// empty-edit format class, which upstream auto-fixes.
	ReasonFormatIssuesOnly TerminationReason = "format_issues_only"

	// ReasonHighInitialConfidence: the verdict was already confident
	// enough that revision could only disturb it.
	ReasonHighInitialConfidence TerminationReason = "high_initial_confidence"

	// ReasonTooLowToRefine: confidence is so low the patch should be
	// regenerated from scratch rather than polished.
	ReasonTooLowToRefine TerminationReason = "too_low_to_refine"

	// ReasonDegradationDetected: a revision dropped confidence past the
	// rollback threshold and was discarded.
	ReasonDegradationDetected TerminationReason = "degradation_detected"

	// ReasonNoImprovement: the revision neither raised confidence
	// meaningfully nor shrank the issue list.
	ReasonNoImprovement TerminationReason = "no_improvement"

	// ReasonHighConfidence: the target confidence was reached with no
	// critical issues remaining.
	ReasonHighConfidence TerminationReason = "high_confidence"

	// ReasonMaxIterations: the iteration budget ran out.
	ReasonMaxIterations TerminationReason = "max_iterations"
)

// Skipped reports whether the reason means no iteration ever ran.
func (r TerminationReason) Skipped() bool {
	switch r {
	case ReasonFormatIssuesOnly, ReasonHighInitialConfidence, ReasonTooLowToRefine:
		return true
	default:
		return false
	}
}

// Phase is the controller's state.
type Phase string

const (
	// PhaseEntry is deciding whether refinement is worth attempting.
	PhaseEntry Phase = "entry"

	// PhaseIterating is inside the critique/revise/re-validate loop.
	PhaseIterating Phase = "iterating"

	// PhaseDone is terminal.
	PhaseDone Phase = "done"
)

// validTransitions is the allowed phase graph. Transitions outside it are
// programming errors.
var validTransitions = map[Phase][]Phase{
	PhaseEntry:     {PhaseIterating, PhaseDone},
	PhaseIterating: {PhaseIterating, PhaseDone},
	PhaseDone:      {},
}

// canTransition reports whether from may move to to.
func canTransition(from, to Phase) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Thresholds are the tuned policy constants of the controller.
type Thresholds struct {
	// SkipConfidence: at or above this, refinement is skipped outright.
	SkipConfidence float64 `yaml:"skip_confidence" validate:"gte=0,lte=1"`

	// FloorConfidence: below this, the patch is not worth polishing.
	FloorConfidence float64 `yaml:"floor_confidence" validate:"gte=0,lte=1"`

	// TargetConfidence ends iteration early once reached with zero
	// criticals.
	TargetConfidence float64 `yaml:"target_confidence" validate:"gte=0,lte=1"`

	// MaxIterations bounds the loop. Tuned down from an earlier 3 after
	// repeated passes showed monotonic quality loss.
	MaxIterations int `yaml:"max_iterations" validate:"gte=0"`

	// DegradationDrop: a confidence drop beyond this aborts and rolls
	// back the revision.
	DegradationDrop float64 `yaml:"degradation_drop" validate:"gte=0,lte=1"`

	// MinImprovement: below this, with no fewer issues, iteration stops.
	MinImprovement float64 `yaml:"min_improvement" validate:"gte=0,lte=1"`
}

// DefaultThresholds returns the tuned controller constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SkipConfidence:   0.85,
		FloorConfidence:  0.10,
		TargetConfidence: 0.85,
		MaxIterations:    1,
		DegradationDrop:  0.05,
		MinImprovement:   0.01,
	}
}

// Iteration is one append-only audit record of a loop pass.
type Iteration struct {
	// Critique is the ranked problem list sent to the reviser.
	Critique string `json:"critique"`

	// FocusAreas are the layers whose findings drove the critique.
	FocusAreas []string `json:"focus_areas"`

	// ConfidenceBefore is the pre-revision confidence.
	ConfidenceBefore float64 `json:"confidence_before"`

	// ConfidenceAfter is the post-revision confidence.
	ConfidenceAfter float64 `json:"confidence_after"`

	// IssueCountBefore is the pre-revision issue count.
	IssueCountBefore int `json:"issue_count_before"`

	// IssueCountAfter is the post-revision issue count.
	IssueCountAfter int `json:"issue_count_after"`
}

// Verdict is the outcome of one refinement run.
type Verdict struct {
	// RevisedPatch is the patch the caller should proceed with. It is the
	// pre-iteration patch whenever a revision was rolled back.
	RevisedPatch *patch.Patch `json:"revised_patch"`

	// Validation is the pipeline verdict for RevisedPatch.
	Validation *pipeline.Verdict `json:"validation"`

	// Iterations is the audit trail, one record per loop pass.
	Iterations []Iteration `json:"iterations,omitempty"`

	// FinalConfidence is the confidence of RevisedPatch.
	FinalConfidence float64 `json:"final_confidence"`

	// Improved is true when refinement raised confidence.
	Improved bool `json:"improved"`

	// TerminationReason says how the run ended.
	TerminationReason TerminationReason `json:"termination_reason"`
}

// String summarizes the verdict for logs.
func (v *Verdict) String() string {
	return fmt.Sprintf("refinement %s after %d iteration(s), confidence %.2f, improved=%t",
		v.TerminationReason, len(v.Iterations), v.FinalConfidence, v.Improved)
}
