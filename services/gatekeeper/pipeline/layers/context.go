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

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// Context is the anti-hallucination layer.
//
// # Description
//
// The context files are the only universe of paths an edit may reference.
// A patch that edits a file the retrieval collaborator never supplied is
// hallucinating code it has never seen; that is a terminating critical.
// Edits that carry neither old nor new text are malformed generator output
// and are flagged with the auto-fixable format marker. Pure insertions
// (empty old text, non-empty new text) are valid and must not be flagged.
type Context struct{}

// NewContext builds the layer.
func NewContext() *Context {
	return &Context{}
}

// Kind implements the Layer interface.
func (l *Context) Kind() pipeline.LayerKind {
	return pipeline.KindContext
}

// Evaluate implements the Layer interface.
func (l *Context) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue

	for _, op := range in.Patch.Operations {
		switch op.Kind {
		case patch.OpEdit:
			if !in.Context.Has(op.Path) {
				is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
					fmt.Sprintf("Edit references %q, which is not present in the provided context files", op.Path))
				is.FilePath = op.Path
				is.FixInstruction = "Only edit files that appear in the supplied context. Regenerate the patch using an existing path."
				issues = append(issues, is)
				continue
			}
			for i, e := range op.Edits {
				if e.IsEmpty() {
					is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
						fmt.Sprintf("Edit %d of %q has empty old text and empty new text", i+1, op.Path))
					is.FilePath = op.Path
					is.Line = e.StartLine
					is.EmptyEditFormat = true
					is.FixInstruction = "Provide the replacement text for the edit, or drop the edit entirely."
					issues = append(issues, is)
				}
			}

		case patch.OpCreate:
			if in.Context.Has(op.Path) {
				is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
					fmt.Sprintf("Create would overwrite %q, which already exists in the context", op.Path))
				is.FilePath = op.Path
				is.FixInstruction = "Use an edit operation for existing files, or choose a new path."
				issues = append(issues, is)
			}

		case patch.OpDelete:
			if !in.Context.Has(op.Path) {
				is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
					fmt.Sprintf("Delete references %q, which is not present in the provided context files", op.Path))
				is.FilePath = op.Path
				is.FixInstruction = "Only delete files that appear in the supplied context."
				issues = append(issues, is)
			}
		}
	}

	score := 1.0
	if len(issues) > 0 {
		score = 0.0
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}
