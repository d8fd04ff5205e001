// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package layers contains the individual validation layers the pipeline
// executes over a candidate patch.
//
// Deterministic layers are pure functions of the patch and context files.
// Assisted layers consult the reasoning service and are strictly fail-open.
package layers

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// grammarFor returns the tree-sitter grammar for a language tag, or nil
// when no grammar is available.
func grammarFor(language string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

// parseTree parses source with the grammar for language.
//
// The caller must Close the returned tree. Parsers are created per call;
// tree-sitter parsers are not safe for concurrent reuse.
func parseTree(ctx context.Context, source []byte, language string) (*sitter.Tree, error) {
	lang := grammarFor(language)
	if lang == nil {
		return nil, fmt.Errorf("no grammar for language %q", language)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", language, err)
	}
	return tree, nil
}

// walkNode visits node and all descendants until visit returns false.
func walkNode(node *sitter.Node, visit func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !visit(node) {
		return
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		walkNode(node.Child(int(i)), visit)
	}
}

// hasParseError reports whether the tree contains an error or missing node.
func hasParseError(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	if node.IsError() || node.IsMissing() {
		return true
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		if hasParseError(node.Child(int(i))) {
			return true
		}
	}
	return false
}

// firstParseError returns the first error or missing node, if any.
func firstParseError(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		if errNode := firstParseError(node.Child(int(i))); errNode != nil {
			return errNode
		}
	}
	return nil
}

// nodeLine returns the 1-based start line of a node.
func nodeLine(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// addedSegment is one run of text a patch introduces, anchored to the
// line it lands on in the target file. Layers that report line numbers
// iterate segments so findings point at file lines, not offsets into a
// concatenated blob.
type addedSegment struct {
	path      string
	startLine int
	text      string
}

// fileLine maps a 0-based line offset within the segment to the 1-based
// line in the target file.
func (s addedSegment) fileLine(offset int) int {
	return s.startLine + offset
}

// addedSegments collects the text a patch introduces: the full content of
// a create anchored at line 1, one segment per edit anchored at the edit's
// start line. Deletes contribute nothing.
func addedSegments(p *patch.Patch) []addedSegment {
	var out []addedSegment
	for _, op := range p.Operations {
		key := patch.NormalizePath(op.Path)
		switch op.Kind {
		case patch.OpCreate:
			out = append(out, addedSegment{path: key, startLine: 1, text: op.Content})
		case patch.OpEdit:
			for _, e := range op.Edits {
				if e.NewText == "" {
					continue
				}
				start := e.StartLine
				if start < 1 {
					start = 1
				}
				out = append(out, addedSegment{path: key, startLine: start, text: e.NewText})
			}
		}
	}
	return out
}

// addedText flattens the segments into one blob per file, for layers that
// scan added content without reporting line numbers.
func addedText(p *patch.Patch) map[string]string {
	out := make(map[string]string)
	for _, seg := range addedSegments(p) {
		if out[seg.path] != "" && !strings.HasSuffix(out[seg.path], "\n") {
			out[seg.path] += "\n"
		}
		out[seg.path] += seg.text
	}
	return out
}

// languageOf resolves the language tag for a path, preferring the context
// file's tag over extension detection.
func languageOf(in *pipeline.Input, path string) string {
	if in.Context != nil {
		if f, ok := in.Context.Get(path); ok && f.Language != "" {
			return f.Language
		}
	}
	return patch.DetectLanguage(path)
}
