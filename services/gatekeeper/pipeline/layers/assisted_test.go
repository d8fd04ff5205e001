// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package layers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/reason"
)

func TestLogicBugsReportsClampedFindings(t *testing.T) {
	client := reason.NewMockClient(reason.MockReply{Content: `{
		"score": 0.4,
		"bugs": [
			{"file": "app.py", "line": 3, "severity": "critical", "description": "Condition is inverted", "suggestion": "Flip the comparison"},
			{"file": "app.py", "line": 7, "severity": "medium", "description": "Off-by-one in range bound"}
		]
	}`})
	l := NewLogicBugs(client, nil)
	in := makeInput(t, createOp("app.py", "x = 1\n"), nil)

	res := l.Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 2)
	assert.Equal(t, pipeline.SeverityHigh, res.Issues[0].BaseSeverity, "critical clamps to high")
	assert.Equal(t, pipeline.SeverityMedium, res.Issues[1].BaseSeverity)
	assert.Equal(t, 0.4, res.Score)
	assert.True(t, client.LastRequest().JSONOnly)
}

func TestLogicBugsAcceptsFencedJSON(t *testing.T) {
	client := reason.NewMockClient(reason.MockReply{
		Content: "```json\n{\"score\": 1.0, \"bugs\": []}\n```",
	})
	l := NewLogicBugs(client, nil)

	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestLogicBugsFailsOpen(t *testing.T) {
	in := makeInput(t, createOp("app.py", "x = 1\n"), nil)

	cases := map[string]reason.Client{
		"nil client":         nil,
		"transport error":    reason.FailingMockClient(errors.New("connection refused")),
		"schema mismatch":    reason.NewMockClient(reason.MockReply{Content: `{"verdict": "fine"}`}),
		"not json":           reason.NewMockClient(reason.MockReply{Content: "looks good to me"}),
		"out-of-range score": reason.NewMockClient(reason.MockReply{Content: `{"score": 1.7, "bugs": []}`}),
	}
	for name, client := range cases {
		res := NewLogicBugs(client, nil).Evaluate(context.Background(), in)
		assert.Equal(t, 1.0, res.Score, name)
		assert.Empty(t, res.Issues, name)
	}
}

func TestLogicBugsSkipsUnknownSeverity(t *testing.T) {
	client := reason.NewMockClient(reason.MockReply{Content: `{
		"score": 0.9,
		"bugs": [{"file": "a.py", "line": 1, "severity": "catastrophic", "description": "???"}]
	}`})
	res := NewLogicBugs(client, nil).Evaluate(context.Background(),
		makeInput(t, createOp("a.py", "x = 1\n"), nil))
	assert.Empty(t, res.Issues)
	assert.Equal(t, 0.9, res.Score)
}

func TestRequirementsCoverageMissedRequirement(t *testing.T) {
	client := reason.NewMockClient(reason.MockReply{Content: `{
		"score": 0.5,
		"missed": [{"requirement": "Return 404 for unknown ids", "explanation": "The handler still returns 500"}]
	}`})
	l := NewRequirementsCoverage(client, nil)
	in := makeInput(t, createOp("app.py", "x = 1\n"), nil)
	in.Understanding = &pipeline.Understanding{
		Requirements: []string{"Return 404 for unknown ids", "Log the lookup failure"},
	}

	res := l.Evaluate(context.Background(), in)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, pipeline.SeverityMedium, res.Issues[0].BaseSeverity)
	assert.True(t, res.Issues[0].EffectiveSeverity.Advisory())
	assert.Contains(t, res.Issues[0].Message, "Return 404")
	assert.Equal(t, 0.5, res.Score)
}

func TestRequirementsCoverageSkipsWithoutRequirements(t *testing.T) {
	client := reason.NewMockClient()
	l := NewRequirementsCoverage(client, nil)

	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	assert.Equal(t, 1.0, res.Score)
	assert.Zero(t, client.Calls(), "no reasoning call without requirements")
}

func TestTestGenerationStoresArtifact(t *testing.T) {
	client := reason.NewMockClient(reason.MockReply{
		Content: `{"path": "test_app.py", "test": "def test_x():\n    assert x == 1\n"}`,
	})
	artifacts := NewTestArtifacts()
	l := NewTestGeneration(client, artifacts, nil)

	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	require.Len(t, res.Issues, 1)
	assert.True(t, res.Issues[0].EffectiveSeverity.Advisory())
	assert.Equal(t, 1.0, res.Score)

	tests := artifacts.Take()
	require.Contains(t, tests, "test_app.py")
	assert.Empty(t, artifacts.Take(), "take drains the store")
}

func TestTestGenerationFailsOpen(t *testing.T) {
	artifacts := NewTestArtifacts()
	l := NewTestGeneration(reason.FailingMockClient(errors.New("breaker open")), artifacts, nil)

	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, artifacts.Take())
}

type fakeSandbox struct {
	passed bool
	output string
	err    error

	gotFiles map[string]string
	gotTests map[string]string
}

func (s *fakeSandbox) RunTests(_ context.Context, files, tests map[string]string) (bool, string, error) {
	s.gotFiles = files
	s.gotTests = tests
	return s.passed, s.output, s.err
}

func TestTestExecutionFailingTest(t *testing.T) {
	artifacts := NewTestArtifacts()
	artifacts.put("test_app.py", "def test_x():\n    assert False\n")
	sandbox := &fakeSandbox{passed: false, output: "AssertionError"}
	l := NewTestExecution(sandbox, artifacts, nil)

	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	require.Len(t, res.Issues, 1)
	assert.Equal(t, pipeline.SeverityHigh, res.Issues[0].BaseSeverity)
	assert.Contains(t, res.Issues[0].Suggestion, "AssertionError")
	assert.Zero(t, res.Score)
	assert.Contains(t, sandbox.gotFiles, "app.py", "patched files are handed to the sandbox")
}

func TestTestExecutionPassingTest(t *testing.T) {
	artifacts := NewTestArtifacts()
	artifacts.put("test_app.py", "def test_x():\n    assert True\n")
	l := NewTestExecution(&fakeSandbox{passed: true}, artifacts, nil)

	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestTestExecutionSandboxErrorNeutral(t *testing.T) {
	artifacts := NewTestArtifacts()
	artifacts.put("test_app.py", "def test_x(): pass\n")
	l := NewTestExecution(&fakeSandbox{err: errors.New("container start failed")}, artifacts, nil)

	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Score)
}

func TestTestExecutionSkipsWithoutTests(t *testing.T) {
	l := NewTestExecution(&fakeSandbox{passed: false}, NewTestArtifacts(), nil)
	res := l.Evaluate(context.Background(), makeInput(t, createOp("app.py", "x = 1\n"), nil))
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Issues)
}
