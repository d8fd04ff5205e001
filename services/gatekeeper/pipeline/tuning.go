// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

// Tuning holds the confidence-formula constants.
//
// These values are empirically tuned against an evaluation set. They are
// carried as named, overridable configuration rather than re-derived;
// callers that want different behavior override them, they do not edit
// the formula.
type Tuning struct {
	// ApplyBaseline is the starting confidence when the apply check
	// succeeds.
	ApplyBaseline float64 `yaml:"apply_baseline" validate:"gte=0,lte=1"`

	// SyntaxPenalty is subtracted per syntax/parse critical.
	SyntaxPenalty float64 `yaml:"syntax_penalty" validate:"gte=0,lte=1"`

	// SyntaxPenaltyCap bounds the total syntax penalty.
	SyntaxPenaltyCap float64 `yaml:"syntax_penalty_cap" validate:"gte=0,lte=1"`

	// AdvisoryPenalty is subtracted per advisory issue.
	AdvisoryPenalty float64 `yaml:"advisory_penalty" validate:"gte=0,lte=1"`

	// AdvisoryPenaltyCap bounds the total advisory penalty.
	AdvisoryPenaltyCap float64 `yaml:"advisory_penalty_cap" validate:"gte=0,lte=1"`

	// AssistedPenalty is subtracted per assisted-layer finding.
	AssistedPenalty float64 `yaml:"assisted_penalty" validate:"gte=0,lte=1"`

	// AssistedPenaltyCap bounds the total assisted penalty. Assisted
	// findings are never the sole reason a verdict is invalid.
	AssistedPenaltyCap float64 `yaml:"assisted_penalty_cap" validate:"gte=0,lte=1"`

	// CleanFloor is the minimum confidence when the apply check passed
	// and no terminating critical exists.
	CleanFloor float64 `yaml:"clean_floor" validate:"gte=0,lte=1"`

	// MaxHighIssues is the largest number of high-severity issues a
	// valid verdict may carry.
	MaxHighIssues int `yaml:"max_high_issues" validate:"gte=0"`
}

// DefaultTuning returns the tuned constants.
func DefaultTuning() Tuning {
	return Tuning{
		ApplyBaseline:      0.90,
		SyntaxPenalty:      0.40,
		SyntaxPenaltyCap:   0.80,
		AdvisoryPenalty:    0.03,
		AdvisoryPenaltyCap: 0.10,
		AssistedPenalty:    0.05,
		AssistedPenaltyCap: 0.15,
		CleanFloor:         0.70,
		MaxHighIssues:      3,
	}
}
