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

var callSiteRe = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(`)

// callKeywords are identifiers the call-site regex matches that are not
// function calls.
var callKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"def": true, "class": true, "func": true, "lambda": true, "with": true,
	"assert": true, "raise": true, "except": true, "elif": true, "not": true,
	"and": true, "or": true, "in": true, "print": true,
}

// FunctionInventory checks calls added by the patch against the function
// inventory supplied by the static-analysis collaborator.
//
// Without metadata the layer skips. Findings demote to advisory: the
// inventory is itself heuristic and must never block a patch on its own.
type FunctionInventory struct{}

// NewFunctionInventory builds the layer.
func NewFunctionInventory() *FunctionInventory {
	return &FunctionInventory{}
}

// Kind implements the Layer interface.
func (l *FunctionInventory) Kind() pipeline.LayerKind {
	return pipeline.KindFunctionInventory
}

// Evaluate implements the Layer interface.
func (l *FunctionInventory) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	if in.Metadata == nil || len(in.Metadata.Functions) == 0 {
		return pipeline.LayerResult{Score: 1.0}
	}

	var issues []pipeline.Issue
	for path, added := range addedText(in.Patch) {
		full, ok := in.PatchedContent(path)
		if !ok {
			full = added
		}
		local := pythonKnownNames(full)

		flagged := map[string]bool{}
		for _, m := range callSiteRe.FindAllStringSubmatch(added, -1) {
			name := m[1]
			if callKeywords[name] || pyImplicitNames[name] || local[name] || flagged[name] {
				continue
			}
			if _, known := in.Metadata.Functions[name]; known {
				continue
			}
			// Method calls resolve through receivers the inventory does
			// not track; only flag bare calls.
			if strings.Contains(added, "."+name+"(") {
				continue
			}
			flagged[name] = true
			is := pipeline.NewIssue(l.Kind(), pipeline.SeverityMedium,
				fmt.Sprintf("Call to %q does not match any function in the project inventory", name))
			is.FilePath = path
			is.Suggestion = "Verify the function exists, or define it as part of this patch."
			issues = append(issues, is)
		}
	}

	score := 1.0
	if len(issues) > 0 {
		score = 0.8
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}

// frameworkRivals maps a framework to imports that signal the patch is
// written against a different one.
var frameworkRivals = map[string][]string{
	"django":  {"flask", "fastapi", "bottle"},
	"flask":   {"django", "fastapi"},
	"fastapi": {"django", "flask"},
	"pytest":  {"nose"},
	"react":   {"vue", "angular"},
	"vue":     {"react"},
}

// FrameworkConsistency checks that the patch does not introduce a
// framework rivaling the ones the project already uses.
//
// Skips without metadata; findings demote to advisory.
type FrameworkConsistency struct{}

// NewFrameworkConsistency builds the layer.
func NewFrameworkConsistency() *FrameworkConsistency {
	return &FrameworkConsistency{}
}

// Kind implements the Layer interface.
func (l *FrameworkConsistency) Kind() pipeline.LayerKind {
	return pipeline.KindFrameworkConsistency
}

// Evaluate implements the Layer interface.
func (l *FrameworkConsistency) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	if in.Metadata == nil || len(in.Metadata.Frameworks) == 0 {
		return pipeline.LayerResult{Score: 1.0}
	}

	var issues []pipeline.Issue
	for path, added := range addedText(in.Patch) {
		lower := strings.ToLower(added)
		for _, fw := range in.Metadata.Frameworks {
			for _, rival := range frameworkRivals[strings.ToLower(fw)] {
				if !strings.Contains(lower, "import "+rival) &&
					!strings.Contains(lower, "from "+rival) &&
					!strings.Contains(lower, `require("`+rival) &&
					!strings.Contains(lower, `from "`+rival) {
					continue
				}
				is := pipeline.NewIssue(l.Kind(), pipeline.SeverityMedium,
					fmt.Sprintf("Patch imports %q but the project uses %q", rival, fw))
				is.FilePath = path
				is.Suggestion = fmt.Sprintf("Implement the change with %s, matching the rest of the project.", fw)
				issues = append(issues, is)
			}
		}
	}

	score := 1.0
	if len(issues) > 0 {
		score = 0.8
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}
