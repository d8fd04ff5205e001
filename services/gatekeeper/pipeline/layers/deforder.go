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

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// DefinitionOrder flags uses of a module-level name that precede its
// definition.
//
// # Description
//
// Generated patches frequently move a definition below code that already
// reads it, which in Python fails only at run time. The layer parses the
// post-patch file, records the first module-level definition line of every
// assigned, defined, or imported name, then flags any earlier read. A use
// inside a function body is reported at the enclosing def line, since that
// is the line a reorder has to move. Self-referential reassignment
// (x = x[...]) is a common legitimate pattern and is downgraded to medium.
type DefinitionOrder struct{}

// NewDefinitionOrder builds the layer.
func NewDefinitionOrder() *DefinitionOrder {
	return &DefinitionOrder{}
}

// Kind implements the Layer interface.
func (l *DefinitionOrder) Kind() pipeline.LayerKind {
	return pipeline.KindDefinitionOrder
}

// Evaluate implements the Layer interface.
func (l *DefinitionOrder) Evaluate(ctx context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue
	checked := 0
	failed := 0

	for _, op := range in.Patch.Operations {
		if op.Kind == patch.OpDelete {
			continue
		}
		if languageOf(in, op.Path) != "python" {
			continue
		}
		content, ok := in.PatchedContent(op.Path)
		if !ok {
			continue
		}

		tree, err := parseTree(ctx, []byte(content), "python")
		if err != nil {
			continue
		}
		checked++
		fileIssues := l.checkFile(op.Path, []byte(content), tree.RootNode())
		tree.Close()

		if len(fileIssues) > 0 {
			failed++
			issues = append(issues, fileIssues...)
		}
	}

	score := 1.0
	if checked > 0 {
		score = float64(checked-failed) / float64(checked)
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}

func (l *DefinitionOrder) checkFile(path string, source []byte, root *sitter.Node) []pipeline.Issue {
	defs := moduleDefinitions(source, root)
	if len(defs) == 0 {
		return nil
	}

	var issues []pipeline.Issue
	seen := map[string]bool{}

	walkNode(root, func(node *sitter.Node) bool {
		if node.Type() != "identifier" {
			return true
		}
		name := node.Content(source)
		defLine, tracked := defs[name]
		if !tracked || seen[name] {
			return true
		}
		if isDefinitionSite(node, source) || !isValueRead(node) {
			return true
		}

		useLine := nodeLine(node)
		if useLine >= defLine {
			return true
		}
		seen[name] = true

		severity := pipeline.SeverityCritical
		note := ""
		if isSelfReferential(node, source, name) {
			severity = pipeline.SeverityMedium
			note = " (self-referential reassignment)"
		}

		reportLine := useLine
		if fn := enclosingFunction(node); fn != nil {
			reportLine = nodeLine(fn)
		}

		is := pipeline.NewIssue(l.Kind(), severity,
			fmt.Sprintf("%q is used at line %d before its definition at line %d%s", name, useLine, defLine, note))
		is.FilePath = path
		is.Line = reportLine
		is.FixInstruction = fmt.Sprintf("Move the definition of %q above line %d, or reorder the code so the definition comes first.", name, reportLine)
		issues = append(issues, is)
		return true
	})

	return issues
}

// moduleDefinitions records the first definition line of every module-level
// name: assignments, function and class definitions, and import bindings.
func moduleDefinitions(source []byte, root *sitter.Node) map[string]int {
	defs := map[string]int{}
	record := func(name string, line int) {
		if name == "" {
			return
		}
		if prev, ok := defs[name]; !ok || line < prev {
			defs[name] = line
		}
	}

	for i := uint32(0); i < root.ChildCount(); i++ {
		stmt := root.Child(int(i))
		switch stmt.Type() {
		case "expression_statement":
			for j := uint32(0); j < stmt.ChildCount(); j++ {
				child := stmt.Child(int(j))
				if child.Type() != "assignment" {
					continue
				}
				if left := child.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
					record(left.Content(source), nodeLine(left))
				}
			}
		case "function_definition", "class_definition", "decorated_definition":
			target := stmt
			if stmt.Type() == "decorated_definition" {
				if d := stmt.ChildByFieldName("definition"); d != nil {
					target = d
				}
			}
			if nameNode := target.ChildByFieldName("name"); nameNode != nil {
				record(nameNode.Content(source), nodeLine(target))
			}
		case "import_statement", "import_from_statement":
			walkNode(stmt, func(n *sitter.Node) bool {
				if n.Type() == "dotted_name" || n.Type() == "aliased_import" {
					bindNode := n
					if n.Type() == "aliased_import" {
						if alias := n.ChildByFieldName("alias"); alias != nil {
							bindNode = alias
						}
					}
					name := bindNode.Content(source)
					// `import a.b` binds the top-level `a`.
					for k := 0; k < len(name); k++ {
						if name[k] == '.' {
							name = name[:k]
							break
						}
					}
					record(name, nodeLine(stmt))
					return n.Type() != "aliased_import"
				}
				return true
			})
		}
	}
	return defs
}

// isDefinitionSite reports whether an identifier node is itself the name
// being defined rather than a read.
func isDefinitionSite(node *sitter.Node, source []byte) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "assignment":
		left := parent.ChildByFieldName("left")
		return left != nil && left.Equal(node)
	case "function_definition", "class_definition":
		nameNode := parent.ChildByFieldName("name")
		return nameNode != nil && nameNode.Equal(node)
	case "parameters", "default_parameter", "typed_parameter", "typed_default_parameter":
		return true
	case "dotted_name", "aliased_import", "import_statement", "import_from_statement":
		return true
	case "keyword_argument":
		nameNode := parent.ChildByFieldName("name")
		return nameNode != nil && nameNode.Equal(node)
	}
	return false
}

// isValueRead filters out identifiers that are attribute names rather than
// the object being read (the y in x.y).
func isValueRead(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return true
	}
	if parent.Type() == "attribute" {
		objNode := parent.ChildByFieldName("object")
		return objNode != nil && objNode.Equal(node)
	}
	return true
}

// isSelfReferential reports whether a read sits on the right side of an
// assignment to the same name.
func isSelfReferential(node *sitter.Node, source []byte, name string) bool {
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Type() != "assignment" {
			continue
		}
		left := cur.ChildByFieldName("left")
		if left != nil && left.Type() == "identifier" && left.Content(source) == name {
			return true
		}
	}
	return false
}

// enclosingFunction returns the nearest enclosing function definition.
func enclosingFunction(node *sitter.Node) *sitter.Node {
	for cur := node.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Type() == "function_definition" {
			return cur
		}
	}
	return nil
}
