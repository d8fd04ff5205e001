// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package layers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

var pyDefRe = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(([^)]*)\)\s*(->\s*[^:]+)?:`)

// TypeHints grades type-annotation quality of added Python functions.
//
// Findings here are quality observations, never blockers: the classifier
// demotes everything this layer emits to advisory severities.
type TypeHints struct{}

// NewTypeHints builds the layer.
func NewTypeHints() *TypeHints {
	return &TypeHints{}
}

// Kind implements the Layer interface.
func (l *TypeHints) Kind() pipeline.LayerKind {
	return pipeline.KindTypeHints
}

// Evaluate implements the Layer interface.
func (l *TypeHints) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue
	total := 0
	flagged := 0

	for _, seg := range addedSegments(in.Patch) {
		if languageOf(in, seg.path) != "python" {
			continue
		}
		for off, line := range strings.Split(seg.text, "\n") {
			m := pyDefRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name, params, returns := m[1], m[2], m[3]
			total++
			bad := false

			if returns == "" && name != "__init__" {
				is := pipeline.NewIssue(l.Kind(), pipeline.SeverityMedium,
					fmt.Sprintf("Function %q is missing a return type annotation", name))
				is.FilePath = seg.path
				is.Line = seg.fileLine(off)
				is.Suggestion = "Add a -> return annotation."
				issues = append(issues, is)
				bad = true
			}
			if missing := unannotatedParams(params); len(missing) > 0 {
				is := pipeline.NewIssue(l.Kind(), pipeline.SeverityLow,
					fmt.Sprintf("Function %q has unannotated parameters: %s", name, strings.Join(missing, ", ")))
				is.FilePath = seg.path
				is.Line = seg.fileLine(off)
				is.Suggestion = "Annotate each parameter with its expected type."
				issues = append(issues, is)
				bad = true
			}
			if bad {
				flagged++
			}
		}
	}

	score := 1.0
	if total > 0 {
		score = float64(total-flagged) / float64(total)
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}

// unannotatedParams returns parameter names lacking a type annotation.
// Receivers, defaults carrying annotations, and starred parameters are
// ignored.
func unannotatedParams(params string) []string {
	var missing []string
	for _, p := range strings.Split(params, ",") {
		p = strings.TrimSpace(p)
		if p == "" || p == "self" || p == "cls" {
			continue
		}
		if strings.HasPrefix(p, "*") {
			continue
		}
		if strings.Contains(p, ":") {
			continue
		}
		if idx := strings.Index(p, "="); idx > 0 {
			p = strings.TrimSpace(p[:idx])
		}
		missing = append(missing, p)
	}
	return missing
}
