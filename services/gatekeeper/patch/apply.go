// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package patch

import (
	"fmt"
	"strings"
)

// ApplyFailure describes one operation that did not apply cleanly.
type ApplyFailure struct {
	// Path is the file the operation targeted.
	Path string `json:"path"`

	// Line is the line where application failed (0 if not line-specific).
	Line int `json:"line,omitempty"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason"`
}

// ApplyResult is the outcome of an in-memory apply check.
//
// The apply check is the strongest correctness signal the pipeline has:
// a patch that does not apply cleanly against the context files can never
// be valid, regardless of every other layer score.
type ApplyResult struct {
	// Clean is true if every operation applied without conflict.
	Clean bool `json:"clean"`

	// Failures lists operations that did not apply.
	Failures []ApplyFailure `json:"failures,omitempty"`

	// Files maps path to the patched content for operations that applied.
	Files map[string]string `json:"-"`
}

// ApplyCheck applies the whole patch in memory against the context files.
//
// Description:
//
//	Each operation is applied in order against a working copy of the
//	context set. Creates must not collide with existing paths, edits and
//	deletes must reference known paths, and edit old-text must match the
//	working content at the stated lines. Nothing touches the filesystem.
//
// Inputs:
//
//	p - The normalized patch.
//	ctxFiles - The context set (the only valid path universe).
//
// Outputs:
//
//	*ApplyResult - Per-file outcomes plus patched content for clean files.
//
// Thread Safety: safe for concurrent use; the context set is read-only.
func ApplyCheck(p *Patch, ctxFiles *ContextSet) *ApplyResult {
	result := &ApplyResult{
		Clean: true,
		Files: make(map[string]string),
	}

	working := make(map[string]string, ctxFiles.Len())
	for _, f := range ctxFiles.All() {
		working[NormalizePath(f.Path)] = f.Content
	}

	for _, op := range p.Operations {
		path := NormalizePath(op.Path)
		switch op.Kind {
		case OpCreate:
			if _, exists := working[path]; exists {
				result.fail(path, 0, "create targets a path that already exists")
				continue
			}
			working[path] = op.Content
			result.Files[path] = op.Content

		case OpDelete:
			if _, exists := working[path]; !exists {
				result.fail(path, 0, "delete targets a path absent from context")
				continue
			}
			delete(working, path)
			delete(result.Files, path)

		case OpEdit:
			content, exists := working[path]
			if !exists {
				result.fail(path, 0, "edit targets a path absent from context")
				continue
			}
			patched, failure := applyEdits(content, op.Edits)
			if failure != nil {
				failure.Path = path
				result.Clean = false
				result.Failures = append(result.Failures, *failure)
				continue
			}
			working[path] = patched
			result.Files[path] = patched

		default:
			result.fail(path, 0, fmt.Sprintf("unknown operation kind %q", op.Kind))
		}
	}

	return result
}

func (r *ApplyResult) fail(path string, line int, reason string) {
	r.Clean = false
	r.Failures = append(r.Failures, ApplyFailure{Path: path, Line: line, Reason: reason})
}

// applyEdits applies line-ranged edits to content, last edit first so
// earlier line numbers stay stable.
func applyEdits(content string, edits []Edit) (string, *ApplyFailure) {
	if len(edits) == 0 {
		return content, nil
	}

	lines := strings.Split(content, "\n")

	ordered := make([]Edit, len(edits))
	copy(ordered, edits)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].StartLine > ordered[i].StartLine {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	for _, e := range ordered {
		if e.IsEmpty() {
			return "", &ApplyFailure{Line: e.StartLine, Reason: "edit has neither old nor new text"}
		}

		start := e.StartLine
		if start < 1 {
			start = 1
		}

		if e.IsInsertion() {
			if start > len(lines)+1 {
				return "", &ApplyFailure{
					Line:   e.StartLine,
					Reason: fmt.Sprintf("insertion line %d beyond end of file (%d lines)", e.StartLine, len(lines)),
				}
			}
			inserted := strings.Split(e.NewText, "\n")
			rest := make([]string, len(lines[start-1:]))
			copy(rest, lines[start-1:])
			lines = append(lines[:start-1], append(inserted, rest...)...)
			continue
		}

		end := e.EndLine
		if end < start {
			end = start
		}
		if end > len(lines) {
			return "", &ApplyFailure{
				Line:   e.StartLine,
				Reason: fmt.Sprintf("edit range %d-%d beyond end of file (%d lines)", e.StartLine, e.EndLine, len(lines)),
			}
		}

		current := strings.Join(lines[start-1:end], "\n")
		if strings.TrimRight(current, " \t") != strings.TrimRight(e.OldText, " \t") {
			return "", &ApplyFailure{
				Line:   e.StartLine,
				Reason: fmt.Sprintf("old text does not match file content at lines %d-%d", start, end),
			}
		}

		var replacement []string
		if e.NewText != "" {
			replacement = strings.Split(e.NewText, "\n")
		}
		rest := make([]string, len(lines[end:]))
		copy(rest, lines[end:])
		lines = append(lines[:start-1], append(replacement, rest...)...)
	}

	return strings.Join(lines, "\n"), nil
}
