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

// Syntax parses every patched file and rejects structural errors.
//
// The whole post-patch file is parsed, not just the changed lines: an edit
// can be locally well-formed and still break an enclosing block. Files in
// languages without a grammar are skipped.
type Syntax struct{}

// NewSyntax builds the layer.
func NewSyntax() *Syntax {
	return &Syntax{}
}

// Kind implements the Layer interface.
func (l *Syntax) Kind() pipeline.LayerKind {
	return pipeline.KindSyntax
}

// Evaluate implements the Layer interface.
func (l *Syntax) Evaluate(ctx context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue
	checked := 0
	failed := 0

	for _, op := range in.Patch.Operations {
		if op.Kind == patch.OpDelete {
			continue
		}
		language := languageOf(in, op.Path)
		if grammarFor(language) == nil {
			continue
		}
		content, ok := in.PatchedContent(op.Path)
		if !ok {
			continue
		}

		checked++
		tree, err := parseTree(ctx, []byte(content), language)
		if err != nil {
			// Parser failure (cancellation, grammar fault) is not a
			// verdict about the patch.
			checked--
			continue
		}
		root := tree.RootNode()
		if hasParseError(root) {
			failed++
			line := 0
			if errNode := firstParseError(root); errNode != nil {
				line = nodeLine(errNode)
			}
			is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
				fmt.Sprintf("Syntax error in patched file %q", op.Path))
			is.FilePath = op.Path
			is.Line = line
			is.FixInstruction = fmt.Sprintf("Fix the syntax error near line %d of %s and resubmit.", line, op.Path)
			issues = append(issues, is)
		}
		tree.Close()
	}

	score := 1.0
	if checked > 0 {
		score = float64(checked-failed) / float64(checked)
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}
