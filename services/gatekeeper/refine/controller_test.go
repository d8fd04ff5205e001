// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package refine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// scriptedLayer returns its queued results in order, repeating the last
// one when the queue runs dry.
type scriptedLayer struct {
	kind    pipeline.LayerKind
	results []pipeline.LayerResult
	calls   int
}

func (l *scriptedLayer) Kind() pipeline.LayerKind { return l.kind }

func (l *scriptedLayer) Evaluate(context.Context, *pipeline.Input) pipeline.LayerResult {
	idx := l.calls
	if idx >= len(l.results) {
		idx = len(l.results) - 1
	}
	l.calls++
	return l.results[idx]
}

type stubReviser struct {
	revised     *patch.Patch
	err         error
	calls       int
	gotCritique string
	gotFocus    []string
}

func (r *stubReviser) Revise(_ context.Context, _ *patch.Patch, critique string, focus []string) (*patch.Patch, error) {
	r.calls++
	r.gotCritique = critique
	r.gotFocus = focus
	if r.err != nil {
		return nil, r.err
	}
	return r.revised, nil
}

func testPatch(marker string) *patch.Patch {
	return &patch.Patch{Operations: []patch.FileOperation{{
		Kind:    patch.OpCreate,
		Path:    marker,
		Content: "x = 1\n",
	}}}
}

// advisoryResult builds a layer result carrying n advisory findings.
func advisoryResult(n int) pipeline.LayerResult {
	res := pipeline.LayerResult{Score: 1.0}
	for i := 0; i < n; i++ {
		res.Issues = append(res.Issues,
			pipeline.NewIssue(pipeline.KindTypeHints, pipeline.SeverityMedium, "missing annotation"))
	}
	return res
}

func syntaxCriticalResult() pipeline.LayerResult {
	return pipeline.LayerResult{
		Score:  0.0,
		Issues: []pipeline.Issue{pipeline.NewIssue(pipeline.KindSyntax, pipeline.SeverityCritical, "parse error in revised file")},
	}
}

// refineFixture builds a controller whose pipeline replays the scripted
// layer results, plus the verdict of the first validation.
func refineFixture(t *testing.T, reviser Reviser, layer *scriptedLayer, cand *patch.Patch) (*Controller, *pipeline.Verdict) {
	t.Helper()
	pipe, err := pipeline.New(pipeline.DefaultTuning(), nil, layer)
	require.NoError(t, err)

	verdict, err := pipe.Validate(context.Background(), cand, nil, nil)
	require.NoError(t, err)

	return NewController(pipe, reviser, DefaultThresholds(), nil), verdict
}

func TestRefineSkipsHighInitialConfidence(t *testing.T) {
	reviser := &stubReviser{}
	cand := testPatch("app.py")
	layer := &scriptedLayer{kind: pipeline.KindTypeHints, results: []pipeline.LayerResult{advisoryResult(0)}}
	ctrl, verdict := refineFixture(t, reviser, layer, cand)
	require.InDelta(t, 0.90, verdict.Confidence, 1e-9)

	out, err := ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonHighInitialConfidence, out.TerminationReason)
	assert.True(t, out.TerminationReason.Skipped())
	assert.Same(t, cand, out.RevisedPatch)
	assert.Zero(t, reviser.calls)
	assert.Empty(t, out.Iterations)
	assert.False(t, out.Improved)
}

func TestRefineSkipsFormatIssuesOnly(t *testing.T) {
	is := pipeline.NewIssue(pipeline.KindContext, pipeline.SeverityCritical, "empty edit")
	is.EmptyEditFormat = true
	verdict := &pipeline.Verdict{Confidence: 0.45, Issues: []pipeline.Issue{is}}

	reviser := &stubReviser{}
	ctrl := NewController(nil, reviser, DefaultThresholds(), nil)
	cand := testPatch("app.py")

	out, err := ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonFormatIssuesOnly, out.TerminationReason)
	assert.Zero(t, reviser.calls)
	assert.InDelta(t, 0.45, out.FinalConfidence, 1e-9)
}

func TestRefineSkipsHopelessPatch(t *testing.T) {
	verdict := &pipeline.Verdict{
		Confidence: 0.05,
		Issues:     []pipeline.Issue{pipeline.NewIssue(pipeline.KindSyntax, pipeline.SeverityCritical, "parse error")},
	}
	reviser := &stubReviser{}
	ctrl := NewController(nil, reviser, DefaultThresholds(), nil)

	out, err := ctrl.Refine(context.Background(), testPatch("app.py"), nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonTooLowToRefine, out.TerminationReason)
	assert.Zero(t, reviser.calls)
}

func TestRefineMissingImportsBypassFloor(t *testing.T) {
	is := pipeline.NewIssue(pipeline.KindImports, pipeline.SeverityCritical, "name yaml never imported")
	is.MissingImport = true
	verdict := &pipeline.Verdict{Confidence: 0.05, Issues: []pipeline.Issue{is}}

	revised := testPatch("revised.py")
	reviser := &stubReviser{revised: revised}
	layer := &scriptedLayer{kind: pipeline.KindTypeHints, results: []pipeline.LayerResult{advisoryResult(0)}}
	pipe, err := pipeline.New(pipeline.DefaultTuning(), nil, layer)
	require.NoError(t, err)
	ctrl := NewController(pipe, reviser, DefaultThresholds(), nil)

	out, err := ctrl.Refine(context.Background(), testPatch("app.py"), nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonHighConfidence, out.TerminationReason)
	assert.Equal(t, 1, reviser.calls, "missing imports are repairable even below the floor")
	assert.Same(t, revised, out.RevisedPatch)
	assert.True(t, out.Improved)
}

func TestRefineReachesTargetConfidence(t *testing.T) {
	layer := &scriptedLayer{kind: pipeline.KindTypeHints, results: []pipeline.LayerResult{
		advisoryResult(2), // initial validation: 0.90 - 0.06
		advisoryResult(0), // re-validation of the revision: clean
	}}
	revised := testPatch("revised.py")
	reviser := &stubReviser{revised: revised}
	cand := testPatch("app.py")
	ctrl, verdict := refineFixture(t, reviser, layer, cand)
	require.InDelta(t, 0.84, verdict.Confidence, 1e-9)

	out, err := ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonHighConfidence, out.TerminationReason)
	assert.Same(t, revised, out.RevisedPatch)
	assert.True(t, out.Improved)
	require.Len(t, out.Iterations, 1)
	assert.InDelta(t, 0.84, out.Iterations[0].ConfidenceBefore, 1e-9)
	assert.InDelta(t, 0.90, out.Iterations[0].ConfidenceAfter, 1e-9)
}

func TestRefineRollsBackDegradedRevision(t *testing.T) {
	layer := &scriptedLayer{kind: pipeline.KindSyntax, results: []pipeline.LayerResult{
		advisoryResult(2),
		syntaxCriticalResult(), // revision breaks the file, confidence collapses
	}}
	revised := testPatch("revised.py")
	reviser := &stubReviser{revised: revised}
	cand := testPatch("app.py")
	ctrl, verdict := refineFixture(t, reviser, layer, cand)
	require.InDelta(t, 0.84, verdict.Confidence, 1e-9)

	out, err := ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonDegradationDetected, out.TerminationReason)
	assert.Same(t, cand, out.RevisedPatch, "the degraded revision is discarded")
	assert.Same(t, verdict, out.Validation)
	assert.InDelta(t, 0.84, out.FinalConfidence, 1e-9)
	assert.False(t, out.Improved)
	require.Len(t, out.Iterations, 1, "the discarded pass is still recorded")
}

func TestRefineStopsOnNoImprovement(t *testing.T) {
	layer := &scriptedLayer{kind: pipeline.KindTypeHints, results: []pipeline.LayerResult{
		advisoryResult(2),
		advisoryResult(2), // revision changes nothing
	}}
	revised := testPatch("revised.py")
	reviser := &stubReviser{revised: revised}
	cand := testPatch("app.py")
	ctrl, verdict := refineFixture(t, reviser, layer, cand)

	out, err := ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoImprovement, out.TerminationReason)
	assert.Same(t, revised, out.RevisedPatch, "an equal-confidence revision is kept")
	assert.False(t, out.Improved)
}

func TestRefineExhaustsIterationBudget(t *testing.T) {
	layer := &scriptedLayer{kind: pipeline.KindTypeHints, results: []pipeline.LayerResult{
		advisoryResult(3), // 0.81
		advisoryResult(2), // 0.84: real but insufficient progress
	}}
	revised := testPatch("revised.py")
	reviser := &stubReviser{revised: revised}
	cand := testPatch("app.py")
	ctrl, verdict := refineFixture(t, reviser, layer, cand)
	require.InDelta(t, 0.81, verdict.Confidence, 1e-9)

	out, err := ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxIterations, out.TerminationReason)
	assert.Same(t, revised, out.RevisedPatch)
	assert.True(t, out.Improved)
	assert.Equal(t, 1, reviser.calls)
}

func TestRefineReviserErrorPropagates(t *testing.T) {
	layer := &scriptedLayer{kind: pipeline.KindTypeHints, results: []pipeline.LayerResult{advisoryResult(2)}}
	reviser := &stubReviser{err: errors.New("generation backend down")}
	cand := testPatch("app.py")
	ctrl, verdict := refineFixture(t, reviser, layer, cand)

	out, err := ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	assert.Nil(t, out)
	assert.ErrorContains(t, err, "generation backend down")
}

func TestRefineCritiqueRanksAndFocuses(t *testing.T) {
	layer := &scriptedLayer{kind: pipeline.KindTypeHints, results: []pipeline.LayerResult{
		{Score: 0.5, Issues: []pipeline.Issue{
			pipeline.NewIssue(pipeline.KindTypeHints, pipeline.SeverityMedium, "style note"),
		}},
		advisoryResult(0),
	}}
	revised := testPatch("revised.py")
	reviser := &stubReviser{revised: revised}
	cand := testPatch("app.py")

	pipe, err := pipeline.New(pipeline.DefaultTuning(), nil, layer)
	require.NoError(t, err)
	ctrl := NewController(pipe, reviser, DefaultThresholds(), nil)

	is := pipeline.NewIssue(pipeline.KindSecurity, pipeline.SeverityHigh, "eval call in app.py")
	is.FilePath = "app.py"
	is.Line = 12
	is.Suggestion = "Parse the input explicitly."
	verdict := &pipeline.Verdict{Confidence: 0.5, Issues: []pipeline.Issue{
		pipeline.NewIssue(pipeline.KindTypeHints, pipeline.SeverityMedium, "style note"),
		is,
	}}

	_, err = ctrl.Refine(context.Background(), cand, nil, verdict, nil)
	require.NoError(t, err)
	require.Equal(t, 1, reviser.calls)
	assert.Contains(t, reviser.gotCritique, "eval call in app.py")
	assert.Contains(t, reviser.gotCritique, "app.py line 12")
	assert.Contains(t, reviser.gotCritique, "How to fix: Parse the input explicitly.")
	assert.NotContains(t, reviser.gotCritique, "style note", "advisory findings stay out of the critique")
	assert.Equal(t, []string{"security"}, reviser.gotFocus)
}

func TestThresholdDefaults(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, 1, th.MaxIterations)
	assert.InDelta(t, 0.85, th.SkipConfidence, 1e-9)
	assert.InDelta(t, 0.10, th.FloorConfidence, 1e-9)
	assert.Greater(t, th.DegradationDrop, 0.0)
}

func TestPhaseTransitionGraph(t *testing.T) {
	assert.True(t, canTransition(PhaseEntry, PhaseIterating))
	assert.True(t, canTransition(PhaseEntry, PhaseDone))
	assert.True(t, canTransition(PhaseIterating, PhaseDone))
	assert.False(t, canTransition(PhaseDone, PhaseIterating))
	assert.False(t, canTransition(PhaseDone, PhaseEntry))
}
