// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package layers

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/reason"
)

// TestArtifacts carries the generated smoke test from the generation layer
// to the execution layer within a single pipeline run.
//
// Thread Safety: guarded by a mutex; the two layers run sequentially but
// the same layer instances serve concurrent pipeline runs.
type TestArtifacts struct {
	mu    sync.Mutex
	tests map[string]string
}

// NewTestArtifacts builds an empty artifact store.
func NewTestArtifacts() *TestArtifacts {
	return &TestArtifacts{tests: make(map[string]string)}
}

func (a *TestArtifacts) put(path, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tests[path] = content
}

// Take removes and returns all generated tests.
func (a *TestArtifacts) Take() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.tests
	a.tests = make(map[string]string)
	return out
}

// Sandbox executes generated tests in isolation.
type Sandbox interface {
	// RunTests executes the given test files against the patched file set
	// and reports whether they passed.
	RunTests(ctx context.Context, files, tests map[string]string) (passed bool, output string, err error)
}

// TestGeneration asks the reasoning service for a smoke test covering the
// patch. Optional and strictly fail-open; the generated test is handed to
// the execution layer and surfaced as an advisory note.
type TestGeneration struct {
	client    reason.Client
	artifacts *TestArtifacts
	logger    *slog.Logger
}

// NewTestGeneration builds the layer.
func NewTestGeneration(client reason.Client, artifacts *TestArtifacts, logger *slog.Logger) *TestGeneration {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestGeneration{client: client, artifacts: artifacts, logger: logger}
}

// Kind implements the Layer interface.
func (l *TestGeneration) Kind() pipeline.LayerKind {
	return pipeline.KindTestGeneration
}

type testGenResponse struct {
	Path string `json:"path"`
	Test string `json:"test"`
}

const testGenSystem = `You write one minimal smoke test for a code patch. You respond with a single JSON object matching {"path": <string test file path>, "test": <string file content>}. No prose.`

// Evaluate implements the Layer interface.
func (l *TestGeneration) Evaluate(ctx context.Context, in *pipeline.Input) pipeline.LayerResult {
	if l.client == nil || l.artifacts == nil {
		return pipeline.Neutral()
	}

	var sb strings.Builder
	sb.WriteString("Write one minimal test that exercises the changed behavior in these patched files:\n\n")
	sb.WriteString(patchDigest(in))

	var resp testGenResponse
	if err := completeJSON(ctx, l.client, testGenSystem, sb.String(), &resp); err != nil {
		l.logger.Warn("test generation unavailable, passing neutrally", "error", err)
		return pipeline.Neutral()
	}
	if resp.Path == "" || strings.TrimSpace(resp.Test) == "" {
		return pipeline.Neutral()
	}

	l.artifacts.put(resp.Path, resp.Test)
	is := pipeline.NewIssue(l.Kind(), pipeline.SeverityLow, "Generated a smoke test for the patched behavior")
	is.FilePath = resp.Path
	return pipeline.LayerResult{Score: 1.0, Issues: []pipeline.Issue{is}}
}

// TestExecution runs generated tests in a sandbox, when one is configured.
//
// A failing test is a high finding; a sandbox error is a neutral pass.
// Without a sandbox or without generated tests the layer skips.
type TestExecution struct {
	sandbox   Sandbox
	artifacts *TestArtifacts
	logger    *slog.Logger
}

// NewTestExecution builds the layer.
func NewTestExecution(sandbox Sandbox, artifacts *TestArtifacts, logger *slog.Logger) *TestExecution {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestExecution{sandbox: sandbox, artifacts: artifacts, logger: logger}
}

// Kind implements the Layer interface.
func (l *TestExecution) Kind() pipeline.LayerKind {
	return pipeline.KindTestExecution
}

// Evaluate implements the Layer interface.
func (l *TestExecution) Evaluate(ctx context.Context, in *pipeline.Input) pipeline.LayerResult {
	if l.sandbox == nil || l.artifacts == nil {
		return pipeline.Neutral()
	}
	tests := l.artifacts.Take()
	if len(tests) == 0 {
		return pipeline.Neutral()
	}

	files := map[string]string{}
	if in.Apply != nil {
		for path, content := range in.Apply.Files {
			files[path] = content
		}
	}

	passed, output, err := l.sandbox.RunTests(ctx, files, tests)
	if err != nil {
		l.logger.Warn("sandbox test run failed, passing neutrally", "error", err)
		return pipeline.Neutral()
	}
	if passed {
		return pipeline.LayerResult{Score: 1.0}
	}

	is := pipeline.NewIssue(l.Kind(), pipeline.SeverityHigh, "Generated smoke test failed against the patched code")
	if trimmed := strings.TrimSpace(output); trimmed != "" {
		if len(trimmed) > 2000 {
			trimmed = trimmed[:2000]
		}
		is.Suggestion = "Test output:\n" + trimmed
	}
	return pipeline.LayerResult{Score: 0.0, Issues: []pipeline.Issue{is}}
}
