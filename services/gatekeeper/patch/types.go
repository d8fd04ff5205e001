// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package patch defines the normalized representation of a proposed code
// change, independent of how it was produced.
//
// # Description
//
// A Patch is an ordered list of file operations. Generators may emit either
// an explicit operations list or a unified diff; both forms normalize into
// the same model so every validation layer consumes one shape.
//
// # Thread Safety
//
// Patch values are immutable once built. They may be read concurrently.
// Refinement produces a new Patch value; no component mutates one in place.
package patch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OpKind categorizes a file operation.
type OpKind string

const (
	// OpCreate adds a new file with full content.
	OpCreate OpKind = "create"

	// OpEdit modifies an existing file via line-ranged edits or a diff.
	OpEdit OpKind = "edit"

	// OpDelete removes an existing file.
	OpDelete OpKind = "delete"
)

// String returns the string representation of the kind.
func (k OpKind) String() string {
	return string(k)
}

// Edit is a single line-ranged replacement within a file.
//
// An Edit with empty OldText and non-empty NewText is an insertion.
// An Edit with both texts empty carries no information and is rejected
// by the context layer.
type Edit struct {
	// StartLine is the 1-based first line affected.
	StartLine int `json:"start_line"`

	// EndLine is the 1-based last line affected (inclusive).
	EndLine int `json:"end_line"`

	// OldText is the text being replaced (empty for pure insertions).
	OldText string `json:"old_text"`

	// NewText is the replacement text.
	NewText string `json:"new_text"`
}

// IsInsertion returns true if this edit only adds new text.
func (e Edit) IsInsertion() bool {
	return e.OldText == "" && e.NewText != ""
}

// IsEmpty returns true if the edit carries neither old nor new text.
func (e Edit) IsEmpty() bool {
	return e.OldText == "" && e.NewText == ""
}

// FileOperation is one step of a patch.
type FileOperation struct {
	// Kind is the operation type.
	Kind OpKind `json:"kind"`

	// Path is the repository-relative file path.
	Path string `json:"path"`

	// Content is the full file content (create operations only).
	Content string `json:"content,omitempty"`

	// Edits are line-ranged replacements (edit operations only).
	Edits []Edit `json:"edits,omitempty"`

	// UnifiedDiff is an alternative edit encoding as a unified diff.
	UnifiedDiff string `json:"unified_diff,omitempty"`
}

// Patch is an ordered list of file operations produced by the generator.
type Patch struct {
	// Operations are applied in order.
	Operations []FileOperation `json:"operations"`
}

// IsEmpty returns true if the patch contains no operations.
func (p *Patch) IsEmpty() bool {
	return p == nil || len(p.Operations) == 0
}

// Paths returns the distinct file paths the patch touches, in order.
func (p *Patch) Paths() []string {
	seen := make(map[string]bool, len(p.Operations))
	var paths []string
	for _, op := range p.Operations {
		if !seen[op.Path] {
			seen[op.Path] = true
			paths = append(paths, op.Path)
		}
	}
	return paths
}

// Stats returns the total lines added and removed across all operations.
func (p *Patch) Stats() (added, removed int) {
	for _, op := range p.Operations {
		switch op.Kind {
		case OpCreate:
			added += countLines(op.Content)
		case OpDelete:
			// Removed count is unknown without the original; callers that
			// need it consult the context files.
		case OpEdit:
			for _, e := range op.Edits {
				added += countLines(e.NewText)
				removed += countLines(e.OldText)
			}
		}
	}
	return
}

// String returns a short summary like "3 ops (+12 -4)".
func (p *Patch) String() string {
	added, removed := p.Stats()
	return fmt.Sprintf("%d ops (+%d -%d)", len(p.Operations), added, removed)
}

// ContextFile is one file from the retrieval collaborator. Context files are
// the only universe of paths an edit may reference.
type ContextFile struct {
	// Path is the repository-relative path.
	Path string `json:"path"`

	// Content is the full file content.
	Content string `json:"content"`

	// Language is the detected source language ("" if unknown).
	Language string `json:"language,omitempty"`
}

// ContextSet indexes context files by normalized path.
//
// Thread Safety: read-only after construction.
type ContextSet struct {
	files map[string]ContextFile
	order []string
}

// NewContextSet builds an index over the supplied context files.
// Language is detected from the extension when the tag is empty.
func NewContextSet(files []ContextFile) *ContextSet {
	cs := &ContextSet{files: make(map[string]ContextFile, len(files))}
	for _, f := range files {
		if f.Language == "" {
			f.Language = DetectLanguage(f.Path)
		}
		key := NormalizePath(f.Path)
		if _, dup := cs.files[key]; !dup {
			cs.order = append(cs.order, key)
		}
		cs.files[key] = f
	}
	return cs
}

// Get returns the context file for a path, if present.
func (cs *ContextSet) Get(path string) (ContextFile, bool) {
	f, ok := cs.files[NormalizePath(path)]
	return f, ok
}

// Has returns true if the path exists in the context set.
func (cs *ContextSet) Has(path string) bool {
	_, ok := cs.files[NormalizePath(path)]
	return ok
}

// Len returns the number of context files.
func (cs *ContextSet) Len() int {
	return len(cs.order)
}

// All returns the context files in insertion order.
func (cs *ContextSet) All() []ContextFile {
	out := make([]ContextFile, 0, len(cs.order))
	for _, key := range cs.order {
		out = append(out, cs.files[key])
	}
	return out
}

// NormalizePath strips diff prefixes and leading ./ from a path.
func NormalizePath(path string) string {
	path = strings.TrimPrefix(path, "a/")
	path = strings.TrimPrefix(path, "b/")
	path = strings.TrimPrefix(path, "./")
	return filepath.ToSlash(path)
}

// DetectLanguage detects the programming language from the file extension.
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx", ".mts", ".cts":
		return "typescript"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// countLines counts newline-delimited lines in s, treating a trailing
// fragment as a line. Empty string is zero lines.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
