// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/refine"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/telemetry"
)

// Generator regenerates a candidate patch from validation feedback. It is
// implemented by the external generation collaborator.
//
// Feedback is the only input that changes between attempts; the generator
// never retries blind.
type Generator interface {
	Generate(ctx context.Context, feedback string) (*patch.Patch, error)
}

// Config tunes the orchestrator.
type Config struct {
	// Budgets are the per-category regeneration caps.
	Budgets Budgets `yaml:"budgets"`

	// Timeouts bound each phase independently.
	Timeouts Timeouts `yaml:"timeouts"`

	// StabilityPasses is how many consecutive valid verdicts a pass
	// needs before it is trusted. Assisted layers are non-deterministic;
	// one green run proves little.
	StabilityPasses int `yaml:"stability_passes" validate:"gte=1"`
}

// DefaultConfig returns the tuned orchestrator settings.
func DefaultConfig() Config {
	return Config{
		Budgets:         DefaultBudgets(),
		Timeouts:        DefaultTimeouts(),
		StabilityPasses: 2,
	}
}

// Orchestrator ties validation, refinement, and regeneration together.
//
// Thread Safety: safe for concurrent use; each Run owns its state.
type Orchestrator struct {
	pipe       *pipeline.Pipeline
	controller *refine.Controller
	generator  Generator
	config     Config
	logger     *slog.Logger
}

// New builds an orchestrator. The refinement controller may be nil, in
// which case failing verdicts go straight to regeneration.
func New(pipe *pipeline.Pipeline, controller *refine.Controller, generator Generator, config Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StabilityPasses < 1 {
		config.StabilityPasses = 1
	}
	return &Orchestrator{
		pipe:       pipe,
		controller: controller,
		generator:  generator,
		config:     config,
		logger:     logger,
	}
}

// Run validates a candidate, refining and regenerating until a verdict is
// trusted or the category budget runs out.
//
// Description:
//
//	Each validation failure is classified into its worst matching category;
//	the category's budget caps further regeneration attempts. A valid
//	verdict is only trusted after the configured number of consecutive
//	passes. When all budgets are exhausted the best verdict seen is
//	returned with Succeeded=false; exhaustion is not an error.
//
// Outputs:
//
//	*Result - Always non-nil on nil error.
//	error - Context cancellation, a phase timeout, or a generator failure.
func (o *Orchestrator) Run(ctx context.Context, initial *patch.Patch, files []patch.ContextFile, opts *pipeline.Options) (*Result, error) {
	logger := telemetry.LoggerWithTrace(ctx, o.logger)

	if initial.IsEmpty() {
		return nil, fmt.Errorf("no candidate patch to validate")
	}

	result := &Result{}
	current := initial
	regenerations := 0

	for attempt := 1; ; attempt++ {
		verdict, err := o.validatePhase(ctx, current, files, opts)
		if err != nil {
			return nil, err
		}

		refined := false
		var refVerdict *refine.Verdict

		if !verdict.Valid && o.controller != nil {
			refVerdict, err = o.refinePhase(ctx, current, files, verdict, opts)
			if err != nil {
				// Refinement failing is not fatal to the outer loop; the
				// unrefined verdict still drives regeneration.
				logger.Warn("refinement failed, continuing with original verdict", "error", err)
			} else if !refVerdict.TerminationReason.Skipped() {
				refined = true
				current = refVerdict.RevisedPatch
				verdict = refVerdict.Validation
				result.Refinement = refVerdict
			}
		}

		category := Classify(verdict)
		result.Attempts = append(result.Attempts, Attempt{
			Number:     attempt,
			Category:   category,
			Confidence: verdict.Confidence,
			Valid:      verdict.Valid,
			Refined:    refined,
			Summary:    verdict.Summary,
		})
		o.trackBest(result, current, verdict)

		if verdict.Valid {
			stable, stableVerdict, err := o.confirmStable(ctx, current, files, verdict, opts)
			if err != nil {
				return nil, err
			}
			if stable {
				result.Patch = current
				result.Verdict = stableVerdict
				result.Succeeded = true
				logger.Info("patch validated",
					"attempts", attempt,
					"confidence", stableVerdict.Confidence,
				)
				return result, nil
			}
			// The pass did not reproduce; treat the flaky verdict as the
			// failure driving the next attempt.
			verdict = stableVerdict
			category = Classify(verdict)
			logger.Warn("valid verdict did not reproduce, retrying", "category", category)
		}

		budget := o.config.Budgets.For(category)
		if regenerations >= budget {
			result.FailureReason = fmt.Sprintf("attempt budget exhausted for category %s (%d regenerations)", category, regenerations)
			logger.Warn("retry budget exhausted",
				"category", category,
				"regenerations", regenerations,
				"best_confidence", result.Verdict.Confidence,
			)
			return result, nil
		}

		if verdict.Feedback == "" {
			result.FailureReason = "no feedback available to drive regeneration"
			logger.Warn("terminal verdict without feedback")
			return result, nil
		}

		regenerations++
		logger.Info("regenerating patch",
			"category", category,
			"regeneration", regenerations,
			"budget", budget,
		)
		current, err = o.generatePhase(ctx, verdict.Feedback)
		if err != nil {
			return nil, err
		}
	}
}

// trackBest keeps the highest-confidence verdict for exhaustion reporting.
func (o *Orchestrator) trackBest(result *Result, p *patch.Patch, v *pipeline.Verdict) {
	if result.Verdict == nil || v.Confidence > result.Verdict.Confidence {
		result.Patch = p
		result.Verdict = v
	}
}

// confirmStable re-validates a passing patch until the required number of
// consecutive passes is reached. The first valid verdict counts as pass
// one. Returns the last verdict either way.
func (o *Orchestrator) confirmStable(ctx context.Context, p *patch.Patch, files []patch.ContextFile, first *pipeline.Verdict, opts *pipeline.Options) (bool, *pipeline.Verdict, error) {
	last := first
	for pass := 2; pass <= o.config.StabilityPasses; pass++ {
		v, err := o.validatePhase(ctx, p, files, opts)
		if err != nil {
			return false, nil, err
		}
		last = v
		if !v.Valid {
			return false, v, nil
		}
	}
	return true, last, nil
}

func (o *Orchestrator) validatePhase(ctx context.Context, p *patch.Patch, files []patch.ContextFile, opts *pipeline.Options) (*pipeline.Verdict, error) {
	ctx, cancel := phaseContext(ctx, o.config.Timeouts.Validation)
	defer cancel()

	v, err := o.pipe.Validate(ctx, p, files, opts)
	if err != nil {
		return nil, phaseError("validation", o.config.Timeouts.Validation, err)
	}
	return v, nil
}

func (o *Orchestrator) refinePhase(ctx context.Context, p *patch.Patch, files []patch.ContextFile, verdict *pipeline.Verdict, opts *pipeline.Options) (*refine.Verdict, error) {
	ctx, cancel := phaseContext(ctx, o.config.Timeouts.Refinement)
	defer cancel()

	rv, err := o.controller.Refine(ctx, p, files, verdict, opts)
	if err != nil {
		return nil, phaseError("refinement", o.config.Timeouts.Refinement, err)
	}
	return rv, nil
}

func (o *Orchestrator) generatePhase(ctx context.Context, feedback string) (*patch.Patch, error) {
	ctx, cancel := phaseContext(ctx, o.config.Timeouts.Generation)
	defer cancel()

	p, err := o.generator.Generate(ctx, feedback)
	if err != nil {
		return nil, phaseError("generation", o.config.Timeouts.Generation, err)
	}
	if p.IsEmpty() {
		return nil, fmt.Errorf("generator returned an empty patch")
	}
	return p, nil
}

func phaseContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// phaseError upgrades a deadline error into a named phase timeout so the
// caller can report which phase blew its bound.
func phaseError(phase string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PhaseTimeoutError{Phase: phase, Timeout: timeout}
	}
	return fmt.Errorf("%s phase: %w", phase, err)
}
