// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package refine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/telemetry"
)

// Reviser requests a revised patch addressing exactly the critiqued
// problems. It is implemented by the external generation collaborator.
type Reviser interface {
	// Revise returns a new patch. The current patch is read-only.
	Revise(ctx context.Context, current *patch.Patch, critique string, focusAreas []string) (*patch.Patch, error)
}

// Controller runs the refinement state machine.
//
// Thread Safety: safe for concurrent use; each Refine call owns its state.
type Controller struct {
	pipe       *pipeline.Pipeline
	reviser    Reviser
	thresholds Thresholds
	logger     *slog.Logger
}

// NewController builds a controller over the given pipeline and reviser.
func NewController(pipe *pipeline.Pipeline, reviser Reviser, thresholds Thresholds, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{pipe: pipe, reviser: reviser, thresholds: thresholds, logger: logger}
}

// Refine decides whether revision is worth attempting and, if so, drives
// the critique/revise/re-validate loop.
//
// Description:
//
//	The entry rules go first: verdicts that are already confident, hopeless,
//	or failing only on auto-fixable format issues are skipped without a
//	single reviser call. Inside the loop, a revision that drops confidence
//	past the degradation threshold is discarded and the pre-iteration patch
//	returned; refinement must never make things worse.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	cand - The current candidate patch.
//	files - Context files for re-validation.
//	verdict - The pipeline verdict that triggered refinement.
//	opts - Collaborator inputs passed through to re-validation.
//
// Outputs:
//
//	*Verdict - The refinement outcome, never nil on nil error.
//	error - Reviser failure or context cancellation.
func (c *Controller) Refine(ctx context.Context, cand *patch.Patch, files []patch.ContextFile, verdict *pipeline.Verdict, opts *pipeline.Options) (*Verdict, error) {
	logger := telemetry.LoggerWithTrace(ctx, c.logger)
	phase := PhaseEntry

	if reason, skip := c.entryDecision(verdict); skip {
		c.mustTransition(&phase, PhaseDone)
		logger.Info("refinement skipped", "reason", reason, "confidence", verdict.Confidence)
		return &Verdict{
			RevisedPatch:      cand,
			Validation:        verdict,
			FinalConfidence:   verdict.Confidence,
			Improved:          false,
			TerminationReason: reason,
		}, nil
	}

	c.mustTransition(&phase, PhaseIterating)
	initial := verdict.Confidence
	current := cand
	currentVerdict := verdict
	var iterations []Iteration

	finish := func(reason TerminationReason) *Verdict {
		c.mustTransition(&phase, PhaseDone)
		v := &Verdict{
			RevisedPatch:      current,
			Validation:        currentVerdict,
			Iterations:        iterations,
			FinalConfidence:   currentVerdict.Confidence,
			Improved:          currentVerdict.Confidence > initial,
			TerminationReason: reason,
		}
		logger.Info("refinement finished",
			"reason", reason,
			"iterations", len(iterations),
			"confidence_initial", initial,
			"confidence_final", v.FinalConfidence,
		)
		return v
	}

	for n := 1; n <= c.thresholds.MaxIterations; n++ {
		c.mustTransition(&phase, PhaseIterating)

		critique, focus := c.critiqueFor(currentVerdict, opts)
		logger.Debug("requesting revision", "iteration", n, "focus_areas", focus)

		revised, err := c.reviser.Revise(ctx, current, critique, focus)
		if err != nil {
			return nil, fmt.Errorf("revising patch (iteration %d): %w", n, err)
		}

		revVerdict, err := c.pipe.Validate(ctx, revised, files, opts)
		if err != nil {
			return nil, err
		}

		iterations = append(iterations, Iteration{
			Critique:         critique,
			FocusAreas:       focus,
			ConfidenceBefore: currentVerdict.Confidence,
			ConfidenceAfter:  revVerdict.Confidence,
			IssueCountBefore: len(currentVerdict.Issues),
			IssueCountAfter:  len(revVerdict.Issues),
		})

		delta := revVerdict.Confidence - currentVerdict.Confidence
		switch {
		case -delta > c.thresholds.DegradationDrop:
			// Discard the revision; the pre-iteration patch stands.
			logger.Warn("revision degraded confidence, rolling back",
				"before", currentVerdict.Confidence,
				"after", revVerdict.Confidence,
			)
			return finish(ReasonDegradationDetected), nil

		case revVerdict.Confidence >= c.thresholds.TargetConfidence && revVerdict.CriticalCount() == 0:
			current, currentVerdict = revised, revVerdict
			return finish(ReasonHighConfidence), nil

		case delta < c.thresholds.MinImprovement && len(revVerdict.Issues) >= len(currentVerdict.Issues):
			if revVerdict.Confidence >= currentVerdict.Confidence {
				current, currentVerdict = revised, revVerdict
			}
			return finish(ReasonNoImprovement), nil
		}

		current, currentVerdict = revised, revVerdict
	}

	return finish(ReasonMaxIterations), nil
}

// entryDecision applies the skip rules, in order.
func (c *Controller) entryDecision(verdict *pipeline.Verdict) (TerminationReason, bool) {
	blocking := blockingIssues(verdict)

	if len(blocking) > 0 && allFormatIssues(blocking) {
		return ReasonFormatIssuesOnly, true
	}
	if verdict.Confidence >= c.thresholds.SkipConfidence {
		return ReasonHighInitialConfidence, true
	}
	if verdict.Confidence < c.thresholds.FloorConfidence && !allMissingImports(blocking) {
		return ReasonTooLowToRefine, true
	}
	return "", false
}

func (c *Controller) critiqueFor(verdict *pipeline.Verdict, opts *pipeline.Options) (string, []string) {
	var understanding *pipeline.Understanding
	if opts != nil {
		understanding = opts.Understanding
	}
	return buildCritique(verdict, understanding)
}

// mustTransition advances the phase, logging any transition the graph does
// not allow. A bad transition is a bug, not a runtime condition.
func (c *Controller) mustTransition(phase *Phase, to Phase) {
	if !canTransition(*phase, to) && *phase != to {
		c.logger.Error("invalid refinement phase transition", "from", *phase, "to", to)
	}
	*phase = to
}

func blockingIssues(verdict *pipeline.Verdict) []pipeline.Issue {
	var out []pipeline.Issue
	for _, is := range verdict.Issues {
		if is.EffectiveSeverity.Blocking() {
			out = append(out, is)
		}
	}
	return out
}

func allFormatIssues(issues []pipeline.Issue) bool {
	for _, is := range issues {
		if !is.EmptyEditFormat {
			return false
		}
	}
	return true
}

// allMissingImports reports whether every blocking issue is the
// missing-import class, the one low-confidence failure refinement can
// still repair cheaply.
func allMissingImports(issues []pipeline.Issue) bool {
	if len(issues) == 0 {
		return false
	}
	for _, is := range issues {
		if !is.MissingImport {
			return false
		}
	}
	return true
}
