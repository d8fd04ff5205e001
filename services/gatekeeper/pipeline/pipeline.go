// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/telemetry"
)

// Options carries the optional collaborator inputs for one validation.
type Options struct {
	// Understanding is the issue-analysis collaborator's output.
	Understanding *Understanding

	// Metadata is optional static-analysis input.
	Metadata *Metadata
}

// Pipeline validates candidate patches.
//
// Thread Safety: safe for concurrent use after construction. Each call
// owns its run state; layers are stateless between calls.
type Pipeline struct {
	tuning Tuning
	layers map[LayerKind]Layer
	logger *slog.Logger
}

// New creates a pipeline over the given layers.
//
// Description:
//
//	Layers run in the fixed execution order regardless of registration
//	order. Registering two layers of the same kind is a configuration
//	error.
//
// Inputs:
//
//	tuning - Confidence-formula constants.
//	logger - Structured logger. May be nil.
//	layers - The layers to run.
//
// Outputs:
//
//	*Pipeline - The configured pipeline.
//	error - Non-nil on duplicate layer kinds.
func New(tuning Tuning, logger *slog.Logger, layers ...Layer) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	byKind := make(map[LayerKind]Layer, len(layers))
	for _, l := range layers {
		if _, dup := byKind[l.Kind()]; dup {
			return nil, fmt.Errorf("duplicate layer registered for kind %s", l.Kind())
		}
		byKind[l.Kind()] = l
	}
	return &Pipeline{tuning: tuning, layers: byKind, logger: logger}, nil
}

// Validate runs the full pipeline over a candidate patch.
//
// Description:
//
//	Normalizes the patch, runs the in-memory apply check, then executes
//	each registered layer in the fixed order. A critical issue from a
//	terminating layer halts the run immediately with a partial weighted
//	confidence so assisted-layer calls are not wasted on a doomed patch.
//	Any panic inside a layer is converted into a single critical issue
//	with zero confidence; callers always receive a well-formed verdict.
//
// Inputs:
//
//	ctx - Context for cancellation. Cancellation discards partial results.
//	cand - The candidate patch, operations-list or diff form.
//	files - Context files, the only valid universe of edit paths.
//	opts - Optional collaborator inputs. May be nil.
//
// Outputs:
//
//	*Verdict - The aggregated verdict.
//	error - Non-nil only on context cancellation.
//
// Thread Safety: safe for concurrent use.
func (p *Pipeline) Validate(ctx context.Context, cand *patch.Patch, files []patch.ContextFile, opts *Options) (verdict *Verdict, err error) {
	start := time.Now()
	logger := telemetry.LoggerWithTrace(ctx, p.logger)

	ctx, span := tracer.Start(ctx, "pipeline.validate")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("validation panic recovered", "panic", r)
			verdict = p.panicVerdict(fmt.Sprintf("internal validation failure: %v", r), start)
			err = nil
		}
		if verdict != nil {
			recordVerdict(ctx, verdict)
		}
	}()

	normalized, normErr := patch.Normalize(cand)
	if normErr != nil {
		logger.Warn("patch normalization failed", "error", normErr)
		return p.parseFailureVerdict(normErr, start), nil
	}
	if normalized.IsEmpty() {
		return p.parseFailureVerdict(fmt.Errorf("patch contains no operations"), start), nil
	}

	ctxSet := patch.NewContextSet(files)
	apply := patch.ApplyCheck(normalized, ctxSet)

	in := &Input{
		Patch:   normalized,
		Context: ctxSet,
		Apply:   apply,
	}
	if opts != nil {
		in.Understanding = opts.Understanding
		in.Metadata = opts.Metadata
	}

	state := NewRunState(in)

	for _, kind := range ExecutionOrder() {
		layer, registered := p.layers[kind]
		if !registered {
			continue
		}

		select {
		case <-ctx.Done():
			// Partial results are discarded; no partial commit of a verdict.
			return nil, ctx.Err()
		default:
		}

		outcome := p.runStage(ctx, layer, state)
		switch o := outcome.(type) {
		case Continue:
			state = o.State
		case Halt:
			o.Verdict.Duration = time.Since(start)
			logger.Info("pipeline halted early",
				"layer", o.Verdict.HaltedAt,
				"confidence", o.Verdict.Confidence,
			)
			return o.Verdict, nil
		}
	}

	verdict = p.finalize(state, "", start)
	logger.Info("validation complete",
		"valid", verdict.Valid,
		"confidence", verdict.Confidence,
		"issues", len(verdict.Issues),
	)
	return verdict, nil
}

// Tuning returns the pipeline's tuning constants.
func (p *Pipeline) Tuning() Tuning {
	return p.tuning
}

// runStage executes one layer and decides whether the run continues.
func (p *Pipeline) runStage(ctx context.Context, layer Layer, state *RunState) Outcome {
	kind := layer.Kind()
	ctx, span := tracer.Start(ctx, "pipeline.layer."+kind.String())
	defer span.End()

	layerStart := time.Now()
	result := layer.Evaluate(ctx, state.Input)
	result.Score = clamp01(result.Score)
	state.Record(kind, result)

	recordLayer(ctx, kind, result, time.Since(layerStart))

	if kind.Terminating() {
		for _, is := range result.Issues {
			if is.EffectiveSeverity == SeverityCritical {
				span.SetAttributes(attribute.Bool("halted", true))
				// Duration is stamped by the caller, which knows the run start.
				return Halt{Verdict: p.finalize(state, kind.String(), layerStart)}
			}
		}
	}
	return Continue{State: state}
}

// finalize aggregates the run state into a verdict.
func (p *Pipeline) finalize(state *RunState, haltedAt string, start time.Time) *Verdict {
	applyPassed := state.Input.Apply != nil && state.Input.Apply.Clean
	_, hasTerminating := state.terminatingCritical()

	v := &Verdict{
		Issues:      state.Issues,
		LayerScores: make(map[string]float64, len(state.Scores)),
		ApplyPassed: applyPassed,
		HaltedAt:    haltedAt,
		Duration:    time.Since(start),
		ValidatedAt: time.Now(),
	}
	for kind, score := range state.Scores {
		v.LayerScores[kind.String()] = score
	}

	v.Confidence = p.confidence(state, applyPassed, hasTerminating)
	v.Valid = applyPassed && !hasTerminating && v.BlockingHighCount() <= p.tuning.MaxHighIssues
	v.Summary = p.summarize(v)
	if !v.Valid || len(v.Issues) > 0 {
		v.Feedback = renderFeedback(v, state.Input.Apply)
	}
	return v
}

// confidence implements the aggregation formula.
//
// With a clean apply check, confidence starts at a high baseline and is
// reduced only by syntax criticals (steep, capped), advisory issues
// (small, capped), and assisted findings (small, capped, never decisive).
// Without one, confidence is the weighted average of layer scores.
func (p *Pipeline) confidence(state *RunState, applyPassed, hasTerminating bool) float64 {
	t := p.tuning

	if applyPassed {
		conf := t.ApplyBaseline

		syntaxPenalty := 0.0
		advisoryPenalty := 0.0
		assistedPenalty := 0.0
		for _, is := range state.Issues {
			switch {
			case is.Layer == KindSyntax && is.BaseSeverity == SeverityCritical:
				syntaxPenalty += t.SyntaxPenalty
			case is.EffectiveSeverity.Advisory():
				if is.Layer.Assisted() {
					assistedPenalty += t.AssistedPenalty
				} else {
					advisoryPenalty += t.AdvisoryPenalty
				}
			case is.Layer.Assisted():
				assistedPenalty += t.AssistedPenalty
			}
		}
		conf -= min(syntaxPenalty, t.SyntaxPenaltyCap)
		conf -= min(advisoryPenalty, t.AdvisoryPenaltyCap)
		conf -= min(assistedPenalty, t.AssistedPenaltyCap)

		if !hasTerminating {
			conf = max(conf, t.CleanFloor)
		}
		return clamp01(conf)
	}

	// Fallback: weighted average over the layers that ran.
	var weighted, totalWeight float64
	for kind, score := range state.Scores {
		w := kind.Weight()
		weighted += w * score
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return clamp01(weighted / totalWeight)
}

// summarize produces the one-line outcome description.
func (p *Pipeline) summarize(v *Verdict) string {
	switch {
	case v.Valid && len(v.Issues) == 0:
		return fmt.Sprintf("patch valid (confidence %.2f)", v.Confidence)
	case v.Valid:
		return fmt.Sprintf("patch valid with %d advisory finding(s) (confidence %.2f)", len(v.Issues), v.Confidence)
	case !v.ApplyPassed:
		return fmt.Sprintf("patch does not apply cleanly (confidence %.2f)", v.Confidence)
	case v.HaltedAt != "":
		return fmt.Sprintf("validation halted at %s layer (confidence %.2f)", v.HaltedAt, v.Confidence)
	default:
		return fmt.Sprintf("patch rejected: %d critical, %d high (confidence %.2f)",
			v.CriticalCount(), v.HighCount(), v.Confidence)
	}
}

// parseFailureVerdict is the verdict for a patch that cannot be normalized.
func (p *Pipeline) parseFailureVerdict(cause error, start time.Time) *Verdict {
	is := NewIssue(KindContext, SeverityCritical, fmt.Sprintf("patch cannot be parsed: %v", cause))
	is.FixInstruction = "regenerate the patch in valid operations-list or unified-diff form"
	v := &Verdict{
		Valid:       false,
		Confidence:  0,
		Issues:      []Issue{is},
		LayerScores: map[string]float64{KindContext.String(): 0},
		Summary:     "patch rejected: unparseable",
		ApplyPassed: false,
		HaltedAt:    KindContext.String(),
		Duration:    time.Since(start),
		ValidatedAt: time.Now(),
	}
	v.Feedback = renderFeedback(v, nil)
	return v
}

// panicVerdict converts an unexpected pipeline failure into a verdict.
func (p *Pipeline) panicVerdict(message string, start time.Time) *Verdict {
	is := Issue{
		Layer:             KindContext,
		BaseSeverity:      SeverityCritical,
		EffectiveSeverity: SeverityCritical,
		Message:           message,
		Suggestion:        "retry validation; report if the failure persists",
	}
	return &Verdict{
		Valid:       false,
		Confidence:  0,
		Issues:      []Issue{is},
		LayerScores: map[string]float64{},
		Summary:     "validation failed internally",
		Feedback:    message,
		Duration:    time.Since(start),
		ValidatedAt: time.Now(),
	}
}

// renderFeedback builds the actionable feedback block: one line per issue
// with file, line, problem, and fix direction, ordered by severity.
func renderFeedback(v *Verdict, apply *patch.ApplyResult) string {
	var sb sortableFeedback

	if apply != nil && !apply.Clean {
		for _, f := range apply.Failures {
			line := fmt.Sprintf("%s: patch does not apply: %s", f.Path, f.Reason)
			if f.Line > 0 {
				line = fmt.Sprintf("%s:%d: patch does not apply: %s", f.Path, f.Line, f.Reason)
			}
			sb.add(0, line+". Fix: regenerate the failing hunks against the current file content.")
		}
	}

	for _, is := range v.Issues {
		loc := is.FilePath
		if loc == "" {
			loc = "patch"
		}
		if is.Line > 0 {
			loc = fmt.Sprintf("%s:%d", loc, is.Line)
		}
		line := fmt.Sprintf("%s: [%s] %s", loc, is.EffectiveSeverity, is.Message)
		switch {
		case is.FixInstruction != "":
			line += ". Fix: " + is.FixInstruction
		case is.Suggestion != "":
			line += ". Suggestion: " + is.Suggestion
		}
		sb.add(is.EffectiveSeverity.rank(), line)
	}

	return sb.render()
}

// sortableFeedback orders feedback lines by severity rank, stable within
// a rank.
type sortableFeedback struct {
	lines []feedbackLine
}

type feedbackLine struct {
	rank int
	seq  int
	text string
}

func (s *sortableFeedback) add(rank int, text string) {
	s.lines = append(s.lines, feedbackLine{rank: rank, seq: len(s.lines), text: text})
}

func (s *sortableFeedback) render() string {
	sort.SliceStable(s.lines, func(i, j int) bool {
		if s.lines[i].rank != s.lines[j].rank {
			return s.lines[i].rank < s.lines[j].rank
		}
		return s.lines[i].seq < s.lines[j].seq
	})
	out := ""
	for i, l := range s.lines {
		if i > 0 {
			out += "\n"
		}
		out += l.text
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
