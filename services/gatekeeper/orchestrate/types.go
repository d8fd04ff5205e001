// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrate owns the outer retry loop around validation and
// refinement: per failure category, regenerate the patch from the
// pipeline's feedback and re-validate, under attempt budgets and phase
// timeouts.
package orchestrate

import (
	"fmt"
	"time"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/refine"
)

// Category classifies a failing verdict for budget selection.
type Category string

const (
	// CategoryBlockingBug: an assisted-layer critical or high finding.
	// These are the most recoverable failures, so they get the deepest
	// budget.
	CategoryBlockingBug Category = "blocking_bug"

	// CategoryDefinitionOrder: a definition-before-use failure, a
	// specific structural bug regeneration reliably fixes.
	CategoryDefinitionOrder Category = "definition_order"

	// CategoryGeneral: everything else.
	CategoryGeneral Category = "general"
)

// Classify maps a verdict to the worst matching category.
//
// Order matters: blocking-bug outranks definition-order outranks general,
// and the orchestrator always uses the most generous budget that matches.
func Classify(v *pipeline.Verdict) Category {
	hasDefOrder := false
	for _, is := range v.Issues {
		if !is.EffectiveSeverity.Blocking() {
			continue
		}
		if is.Layer.Assisted() {
			return CategoryBlockingBug
		}
		if is.Layer == pipeline.KindDefinitionOrder {
			hasDefOrder = true
		}
	}
	if hasDefOrder {
		return CategoryDefinitionOrder
	}
	return CategoryGeneral
}

// Budgets are the per-category regeneration attempt caps.
type Budgets struct {
	BlockingBug     int `yaml:"blocking_bug" validate:"gte=0"`
	DefinitionOrder int `yaml:"definition_order" validate:"gte=0"`
	General         int `yaml:"general" validate:"gte=0"`
}

// DefaultBudgets returns the tuned attempt caps.
func DefaultBudgets() Budgets {
	return Budgets{
		BlockingBug:     10,
		DefinitionOrder: 8,
		General:         3,
	}
}

// For returns the cap for a category.
func (b Budgets) For(c Category) int {
	switch c {
	case CategoryBlockingBug:
		return b.BlockingBug
	case CategoryDefinitionOrder:
		return b.DefinitionOrder
	default:
		return b.General
	}
}

// Timeouts bound each asynchronous phase independently. A phase timing
// out is a distinct, reported failure mode, never silently swallowed.
type Timeouts struct {
	Generation time.Duration `yaml:"generation"`
	Validation time.Duration `yaml:"validation"`
	Refinement time.Duration `yaml:"refinement"`
}

// DefaultTimeouts returns the default phase bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Generation: 2 * time.Minute,
		Validation: 90 * time.Second,
		Refinement: 3 * time.Minute,
	}
}

// PhaseTimeoutError reports which phase exceeded its bound.
type PhaseTimeoutError struct {
	Phase   string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("%s phase exceeded its %s timeout", e.Phase, e.Timeout)
}

// Attempt is one audit record of the outer loop.
type Attempt struct {
	// Number is the 1-based attempt index.
	Number int `json:"number"`

	// Category is the failure classification after this attempt.
	Category Category `json:"category"`

	// Confidence is the verdict confidence.
	Confidence float64 `json:"confidence"`

	// Valid is the verdict validity.
	Valid bool `json:"valid"`

	// Refined is true when refinement ran during this attempt.
	Refined bool `json:"refined"`

	// Summary is the verdict's one-line outcome.
	Summary string `json:"summary"`
}

// Result is the orchestrator's final outcome. When every budget is
// exhausted without a trusted pass, the best verdict seen is still
// returned so confidence gating downstream can decide what to surface.
type Result struct {
	// Patch is the patch belonging to Verdict.
	Patch *patch.Patch `json:"patch"`

	// Verdict is the best validation verdict observed.
	Verdict *pipeline.Verdict `json:"verdict"`

	// Refinement is the last refinement verdict, if refinement ran.
	Refinement *refine.Verdict `json:"refinement,omitempty"`

	// Attempts is the audit trail.
	Attempts []Attempt `json:"attempts"`

	// Succeeded is true only after a stability-confirmed valid verdict.
	Succeeded bool `json:"succeeded"`

	// FailureReason explains a non-success ("budget exhausted",
	// "no feedback available").
	FailureReason string `json:"failure_reason,omitempty"`
}
