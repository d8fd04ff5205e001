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

var (
	pyImportRe     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+(?:\s*,\s*[\w.]+)*)`)
	pyImportAsRe   = regexp.MustCompile(`(?m)^\s*import\s+[\w.]+\s+as\s+(\w+)`)
	pyFromImportRe = regexp.MustCompile(`(?m)^\s*from\s+[\w.]+\s+import\s+(.+)$`)
	pyDefinitionRe = regexp.MustCompile(`(?m)^\s*(?:def|class)\s+(\w+)|^\s*(\w+)\s*(?::[^=]+)?=[^=]`)
	pyParamsRe     = regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+\w+\s*\(([^)]*)\)`)
	pyLambdaRe     = regexp.MustCompile(`\blambda\s+([^:()]*):`)
	pyForTargetRe  = regexp.MustCompile(`\bfor\s+([\w\s,()]+?)\s+in\b`)
	pyAsTargetRe   = regexp.MustCompile(`\bas\s+(\w+)`)
	pyModuleUseRe  = regexp.MustCompile(`\b([a-z_][a-z0-9_]*)\.\w+`)
)

// pyImplicitNames are names that never need an import: builtins plus the
// keyword-like identifiers the module-use regex can catch.
var pyImplicitNames = map[string]bool{
	"self": true, "cls": true, "super": true,
	"str": true, "int": true, "float": true, "bool": true, "bytes": true,
	"list": true, "dict": true, "set": true, "tuple": true, "frozenset": true,
	"object": true, "type": true, "len": true, "range": true, "enumerate": true,
	"print": true, "open": true, "isinstance": true, "issubclass": true,
	"min": true, "max": true, "sum": true, "abs": true, "round": true,
	"sorted": true, "reversed": true, "zip": true, "map": true, "filter": true,
	"repr": true, "hash": true, "id": true, "vars": true, "getattr": true,
	"setattr": true, "hasattr": true, "iter": true, "next": true,
}

// Imports resolves module-style names used by added Python code.
//
// # Description
//
// A name used as a module (the x in x.y) must be imported somewhere in the
// post-patch file, defined locally, or be a builtin. An unresolved module
// name is a terminating critical with the missing-import marker set, which
// the refinement controller treats as repairable rather than a reason to
// regenerate from scratch.
//
// Go, JavaScript and TypeScript files are skipped: their toolchains resolve
// imports at build time and a textual check adds only false positives.
type Imports struct{}

// NewImports builds the layer.
func NewImports() *Imports {
	return &Imports{}
}

// Kind implements the Layer interface.
func (l *Imports) Kind() pipeline.LayerKind {
	return pipeline.KindImports
}

// Evaluate implements the Layer interface.
func (l *Imports) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue
	checked := 0
	failed := 0

	for path, added := range addedText(in.Patch) {
		if languageOf(in, path) != "python" {
			continue
		}
		full, ok := in.PatchedContent(path)
		if !ok {
			full = added
		}
		checked++

		known := pythonKnownNames(full)
		unresolved := map[string]bool{}
		for _, m := range pyModuleUseRe.FindAllStringSubmatch(added, -1) {
			name := m[1]
			if known[name] || pyImplicitNames[name] || unresolved[name] {
				continue
			}
			unresolved[name] = true
			is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
				fmt.Sprintf("Name %q is used as a module in %s but is never imported or defined", name, path))
			is.FilePath = path
			is.MissingImport = true
			is.FixInstruction = fmt.Sprintf("Add `import %s` (or the appropriate from-import) at the top of %s.", name, path)
			issues = append(issues, is)
		}
		if len(unresolved) > 0 {
			failed++
		}
	}

	score := 1.0
	if checked > 0 {
		score = float64(checked-failed) / float64(checked)
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}

// pythonKnownNames collects every name the file imports, defines, or
// binds locally (parameters, loop targets, as-aliases).
func pythonKnownNames(content string) map[string]bool {
	known := map[string]bool{}

	for _, m := range pyImportRe.FindAllStringSubmatch(content, -1) {
		for _, mod := range strings.Split(m[1], ",") {
			mod = strings.TrimSpace(mod)
			// `import a.b.c` binds the top-level name `a`.
			if idx := strings.Index(mod, "."); idx > 0 {
				mod = mod[:idx]
			}
			if mod != "" {
				known[mod] = true
			}
		}
	}
	for _, m := range pyImportAsRe.FindAllStringSubmatch(content, -1) {
		known[m[1]] = true
	}
	for _, m := range pyFromImportRe.FindAllStringSubmatch(content, -1) {
		names := m[1]
		if idx := strings.Index(names, "#"); idx >= 0 {
			names = names[:idx]
		}
		names = strings.Trim(names, "()")
		for _, n := range strings.Split(names, ",") {
			n = strings.TrimSpace(n)
			if idx := strings.Index(n, " as "); idx >= 0 {
				n = strings.TrimSpace(n[idx+4:])
			}
			if n != "" && n != "*" {
				known[n] = true
			}
		}
	}
	for _, m := range pyDefinitionRe.FindAllStringSubmatch(content, -1) {
		if m[1] != "" {
			known[m[1]] = true
		}
		if m[2] != "" {
			known[m[2]] = true
		}
	}
	// Parameters, loop targets, comprehension variables, and as-aliases
	// (with, except) are local bindings, not missing imports.
	for _, m := range pyParamsRe.FindAllStringSubmatch(content, -1) {
		bindPyNames(known, m[1])
	}
	for _, m := range pyLambdaRe.FindAllStringSubmatch(content, -1) {
		bindPyNames(known, m[1])
	}
	for _, m := range pyForTargetRe.FindAllStringSubmatch(content, -1) {
		bindPyNames(known, m[1])
	}
	for _, m := range pyAsTargetRe.FindAllStringSubmatch(content, -1) {
		known[m[1]] = true
	}
	return known
}

// bindPyNames records each bare name in a comma-separated binding list,
// stripping annotations, defaults, stars, and tuple parens.
func bindPyNames(known map[string]bool, list string) {
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		n = strings.Trim(n, "() ")
		n = strings.TrimLeft(n, "*")
		for _, sep := range []string{":", "="} {
			if idx := strings.Index(n, sep); idx >= 0 {
				n = strings.TrimSpace(n[:idx])
			}
		}
		if isPyIdentifier(n) {
			known[n] = true
		}
	}
}

// isPyIdentifier reports whether s is a plain identifier. Binding lists
// can carry arbitrary expressions (default values, unpacked calls); only
// bare names become known.
func isPyIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
