// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

// Outcome is the result of one pipeline stage: either the run continues
// with accumulated state, or a terminating critical halts it with a
// partial verdict. Early exit is a first-class branch, not a scattered
// conditional return.
type Outcome interface {
	isOutcome()
}

// Continue carries the run state into the next stage.
type Continue struct {
	State *RunState
}

func (Continue) isOutcome() {}

// Halt ends the run with the verdict built so far.
type Halt struct {
	Verdict *Verdict
}

func (Halt) isOutcome() {}

// RunState accumulates per-run results. It is owned by a single Validate
// call and never shared.
type RunState struct {
	// Input is the immutable layer input.
	Input *Input

	// Scores holds the score of every layer that ran.
	Scores map[LayerKind]float64

	// Issues accumulates findings in execution order.
	Issues []Issue

	// Ran lists the layers that executed, in order.
	Ran []LayerKind
}

// NewRunState creates the state for one validation run.
func NewRunState(in *Input) *RunState {
	return &RunState{
		Input:  in,
		Scores: make(map[LayerKind]float64, int(numKinds)),
	}
}

// Record stores a layer result.
func (s *RunState) Record(kind LayerKind, result LayerResult) {
	s.Scores[kind] = result.Score
	s.Issues = append(s.Issues, result.Issues...)
	s.Ran = append(s.Ran, kind)
}

// terminatingCritical returns the first critical issue a terminating layer
// produced in this run, if any.
func (s *RunState) terminatingCritical() (Issue, bool) {
	for _, is := range s.Issues {
		if is.EffectiveSeverity == SeverityCritical && is.Layer.Terminating() {
			return is, true
		}
	}
	return Issue{}, false
}
