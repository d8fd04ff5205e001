// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package layers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/reason"
)

// maxPromptContent caps how much patched content is embedded in an
// assisted-layer prompt.
const maxPromptContent = 12000

// completeJSON runs one reasoning call and decodes the response into out
// with a strict schema. Any failure, transport or schema, is an error the
// caller converts into a neutral result.
func completeJSON(ctx context.Context, client reason.Client, system, prompt string, out any) error {
	resp, err := client.Complete(ctx, reason.Request{
		System:   system,
		Prompt:   prompt,
		JSONOnly: true,
	})
	if err != nil {
		return err
	}

	content := strings.TrimSpace(resp.Content)
	// Models wrap JSON in fences no matter how the prompt pleads.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("malformed assisted response: %w", err)
	}
	return nil
}

// patchDigest renders the patched files for an assisted-layer prompt,
// truncated to a bounded size.
func patchDigest(in *pipeline.Input) string {
	var sb strings.Builder
	for _, op := range in.Patch.Operations {
		if op.Kind == patch.OpDelete {
			fmt.Fprintf(&sb, "--- %s (deleted) ---\n", op.Path)
			continue
		}
		content, ok := in.PatchedContent(op.Path)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", op.Path, content)
		if sb.Len() > maxPromptContent {
			sb.WriteString("\n[truncated]\n")
			break
		}
	}
	return sb.String()
}

// clampAssistedSeverity caps assisted findings at high: an assisted layer
// can never produce a terminating critical, and its findings are never the
// sole reason a patch is rejected.
func clampAssistedSeverity(raw string) (pipeline.Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "high":
		return pipeline.SeverityHigh, true
	case "medium":
		return pipeline.SeverityMedium, true
	case "low":
		return pipeline.SeverityLow, true
	default:
		return "", false
	}
}

// LogicBugs asks the reasoning service to review the patched code for
// logic errors.
//
// # Description
//
// The layer is strictly fail-open: a timeout, an open breaker, or a
// response that does not match the schema yields a neutral full-score
// result. Findings are capped at high severity.
type LogicBugs struct {
	client reason.Client
	logger *slog.Logger
}

// NewLogicBugs builds the layer.
func NewLogicBugs(client reason.Client, logger *slog.Logger) *LogicBugs {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogicBugs{client: client, logger: logger}
}

// Kind implements the Layer interface.
func (l *LogicBugs) Kind() pipeline.LayerKind {
	return pipeline.KindLogicBugs
}

type logicBugsResponse struct {
	Score float64 `json:"score"`
	Bugs  []struct {
		File        string `json:"file"`
		Line        int    `json:"line"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
		Suggestion  string `json:"suggestion"`
	} `json:"bugs"`
}

// Evaluate implements the Layer interface.
func (l *LogicBugs) Evaluate(ctx context.Context, in *pipeline.Input) pipeline.LayerResult {
	if l.client == nil {
		return pipeline.Neutral()
	}

	prompt := l.buildPrompt(in)
	var resp logicBugsResponse
	if err := completeJSON(ctx, l.client, logicBugsSystem, prompt, &resp); err != nil {
		l.logger.Warn("logic-bug check unavailable, passing neutrally", "error", err)
		return pipeline.Neutral()
	}
	if resp.Score < 0 || resp.Score > 1 {
		l.logger.Warn("logic-bug check returned out-of-range score, passing neutrally", "score", resp.Score)
		return pipeline.Neutral()
	}

	var issues []pipeline.Issue
	for _, bug := range resp.Bugs {
		severity, ok := clampAssistedSeverity(bug.Severity)
		if !ok || bug.Description == "" {
			continue
		}
		is := pipeline.NewIssue(l.Kind(), severity, bug.Description)
		is.FilePath = bug.File
		is.Line = bug.Line
		is.Suggestion = bug.Suggestion
		issues = append(issues, is)
	}
	return pipeline.LayerResult{Score: resp.Score, Issues: issues}
}

const logicBugsSystem = `You are a meticulous code reviewer. You respond with a single JSON object matching {"score": <float 0..1>, "bugs": [{"file": <string>, "line": <int>, "severity": "high"|"medium"|"low", "description": <string>, "suggestion": <string>}]}. No prose.`

func (l *LogicBugs) buildPrompt(in *pipeline.Input) string {
	var sb strings.Builder
	sb.WriteString("Review the following patched files for logic errors: off-by-one mistakes, inverted conditions, unhandled edge cases, broken control flow.\n\n")
	if in.Understanding != nil && in.Understanding.RootCause != "" {
		fmt.Fprintf(&sb, "The patch is meant to fix: %s\n\n", in.Understanding.RootCause)
	}
	sb.WriteString(patchDigest(in))
	sb.WriteString("\nReport only genuine logic bugs in the changed code. Score 1.0 means no bugs found.")
	return sb.String()
}

// RequirementsCoverage asks the reasoning service whether the patch
// addresses every stated requirement.
//
// Skips neutrally when the understanding collaborator supplied no
// requirements. Missed requirements are medium findings, demoted to
// advisory by classification.
type RequirementsCoverage struct {
	client reason.Client
	logger *slog.Logger
}

// NewRequirementsCoverage builds the layer.
func NewRequirementsCoverage(client reason.Client, logger *slog.Logger) *RequirementsCoverage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequirementsCoverage{client: client, logger: logger}
}

// Kind implements the Layer interface.
func (l *RequirementsCoverage) Kind() pipeline.LayerKind {
	return pipeline.KindRequirementsCoverage
}

type coverageResponse struct {
	Score  float64 `json:"score"`
	Missed []struct {
		Requirement string `json:"requirement"`
		Explanation string `json:"explanation"`
	} `json:"missed"`
}

// Evaluate implements the Layer interface.
func (l *RequirementsCoverage) Evaluate(ctx context.Context, in *pipeline.Input) pipeline.LayerResult {
	if l.client == nil || in.Understanding == nil || len(in.Understanding.Requirements) == 0 {
		return pipeline.Neutral()
	}

	var sb strings.Builder
	sb.WriteString("A patch must satisfy these requirements:\n")
	for i, req := range in.Understanding.Requirements {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, req)
	}
	sb.WriteString("\nPatched files:\n")
	sb.WriteString(patchDigest(in))
	sb.WriteString("\nList any requirement the patch does not address. Score is the fraction addressed.")

	var resp coverageResponse
	if err := completeJSON(ctx, l.client, coverageSystem, sb.String(), &resp); err != nil {
		l.logger.Warn("requirements-coverage check unavailable, passing neutrally", "error", err)
		return pipeline.Neutral()
	}
	if resp.Score < 0 || resp.Score > 1 {
		l.logger.Warn("requirements-coverage check returned out-of-range score, passing neutrally", "score", resp.Score)
		return pipeline.Neutral()
	}

	var issues []pipeline.Issue
	for _, miss := range resp.Missed {
		if miss.Requirement == "" {
			continue
		}
		is := pipeline.NewIssue(l.Kind(), pipeline.SeverityMedium,
			fmt.Sprintf("Requirement not addressed: %s", miss.Requirement))
		is.Suggestion = miss.Explanation
		issues = append(issues, is)
	}
	return pipeline.LayerResult{Score: resp.Score, Issues: issues}
}

const coverageSystem = `You verify that a code patch satisfies stated requirements. You respond with a single JSON object matching {"score": <float 0..1>, "missed": [{"requirement": <string>, "explanation": <string>}]}. No prose.`
