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

// placeholderPattern is one forbidden textual pattern.
type placeholderPattern struct {
	name    string
	regex   *regexp.Regexp
	message string
}

// placeholderPatterns is a fixed table. Any match is critical; there is no
// scoring nuance here because a stub is a stub.
var placeholderPatterns = []placeholderPattern{
	{
		name:    "todo-marker",
		regex:   regexp.MustCompile(`(?i)\b(TODO|FIXME|XXX)\b\s*[:(]`),
		message: "Added code contains an unfinished-work marker",
	},
	{
		name:    "not-implemented",
		regex:   regexp.MustCompile(`raise\s+NotImplementedError|throw\s+new\s+Error\(["']not implemented`),
		message: "Added code raises a not-implemented error",
	},
	{
		name:    "fill-in-stub",
		regex:   regexp.MustCompile(`(?i)(your (code|implementation|logic) here|implement (this|me)\b|insert (code|logic) here)`),
		message: "Added code contains a fill-in-the-blank stub",
	},
	{
		name:    "elided-body",
		regex:   regexp.MustCompile(`(?i)\.\.\.\s*(rest|remainder|existing)\s+(of\s+)?(the\s+)?(code|file|function|implementation)|\b(rest|remainder)\s+of\s+(the\s+)?(code|file|function)\s+(unchanged|omitted|remains)`),
		message: "Added code elides part of the implementation",
	},
	{
		name:    "ellipsis-body",
		regex:   regexp.MustCompile(`(?m)^\s*\.\.\.\s*$`),
		message: "Added code contains a bare ellipsis body",
	},
	{
		name:    "placeholder-literal",
		regex:   regexp.MustCompile(`(?i)\bplaceholder\b`),
		message: "Added code contains a placeholder marker",
	},
}

// Placeholder rejects stub markers and dummy implementations in added code.
//
// Generators under pressure to answer emit scaffolding instead of fixes; a
// patch that ships a TODO or an elided body is worse than no patch, so any
// match is a terminating critical.
type Placeholder struct{}

// NewPlaceholder builds the layer.
func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

// Kind implements the Layer interface.
func (l *Placeholder) Kind() pipeline.LayerKind {
	return pipeline.KindPlaceholder
}

// Evaluate implements the Layer interface.
func (l *Placeholder) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue

	for _, seg := range addedSegments(in.Patch) {
		for off, line := range strings.Split(seg.text, "\n") {
			for _, p := range placeholderPatterns {
				if !p.regex.MatchString(line) {
					continue
				}
				is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
					fmt.Sprintf("%s (%s): %q", p.message, p.name, strings.TrimSpace(line)))
				is.FilePath = seg.path
				is.Line = seg.fileLine(off)
				is.FixInstruction = "Replace the stub with a complete implementation. Do not elide or defer any part of the change."
				issues = append(issues, is)
				break
			}
		}
	}

	score := 1.0
	if len(issues) > 0 {
		score = 0.0
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}
