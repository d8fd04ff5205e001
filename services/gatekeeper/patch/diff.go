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

	"github.com/sourcegraph/go-diff/diff"
)

// FromUnifiedDiff normalizes a unified diff into a Patch.
//
// Description:
//
//	Parses a multi-file unified diff and converts each file diff into a
//	FileOperation. New files (orig /dev/null) become creates, deletions
//	(new /dev/null) become deletes, everything else becomes an edit that
//	keeps the original diff text for hunk application.
//
// Inputs:
//
//	unified - The unified diff text.
//
// Outputs:
//
//	*Patch - The normalized patch.
//	error - Non-nil if the diff cannot be parsed.
func FromUnifiedDiff(unified string) (*Patch, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(unified)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parsing unified diff: %w", err)
	}

	p := &Patch{Operations: make([]FileOperation, 0, len(fileDiffs))}
	for _, fd := range fileDiffs {
		op, err := operationFromFileDiff(fd)
		if err != nil {
			return nil, err
		}
		p.Operations = append(p.Operations, op)
	}
	return p, nil
}

// Normalize accepts a patch in either form and returns the operations-list
// form. A patch whose operations carry only UnifiedDiff text has each
// operation's hunks expanded into Edits so layers see one shape.
func Normalize(p *Patch) (*Patch, error) {
	if p.IsEmpty() {
		return &Patch{}, nil
	}

	out := &Patch{Operations: make([]FileOperation, 0, len(p.Operations))}
	for _, op := range p.Operations {
		if op.Kind == OpEdit && len(op.Edits) == 0 && op.UnifiedDiff != "" {
			fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(op.UnifiedDiff)).ReadAllFiles()
			if err != nil {
				return nil, fmt.Errorf("normalizing diff for %s: %w", op.Path, err)
			}
			for _, fd := range fileDiffs {
				norm, err := operationFromFileDiff(fd)
				if err != nil {
					return nil, err
				}
				if norm.Path == "" {
					norm.Path = NormalizePath(op.Path)
				}
				out.Operations = append(out.Operations, norm)
			}
			continue
		}
		op.Path = NormalizePath(op.Path)
		out.Operations = append(out.Operations, op)
	}
	return out, nil
}

// operationFromFileDiff converts a parsed file diff into a FileOperation.
func operationFromFileDiff(fd *diff.FileDiff) (FileOperation, error) {
	origName := NormalizePath(fd.OrigName)
	newName := NormalizePath(fd.NewName)

	switch {
	case fd.NewName == "/dev/null":
		return FileOperation{Kind: OpDelete, Path: origName}, nil

	case fd.OrigName == "/dev/null":
		var sb strings.Builder
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					sb.WriteString(strings.TrimPrefix(line, "+"))
					sb.WriteString("\n")
				}
			}
		}
		return FileOperation{Kind: OpCreate, Path: newName, Content: sb.String()}, nil

	default:
		path := newName
		if path == "" {
			path = origName
		}
		edits, err := editsFromHunks(fd.Hunks)
		if err != nil {
			return FileOperation{}, fmt.Errorf("converting hunks for %s: %w", path, err)
		}
		return FileOperation{Kind: OpEdit, Path: path, Edits: edits}, nil
	}
}

// editsFromHunks converts diff hunks into line-ranged Edits.
func editsFromHunks(hunks []*diff.Hunk) ([]Edit, error) {
	var edits []Edit
	for _, hunk := range hunks {
		origLine := int(hunk.OrigStartLine)
		var oldText, newText strings.Builder
		firstChanged := 0
		lastChanged := 0

		flush := func() {
			if oldText.Len() == 0 && newText.Len() == 0 {
				return
			}
			end := lastChanged
			if end < firstChanged {
				end = firstChanged
			}
			edits = append(edits, Edit{
				StartLine: firstChanged,
				EndLine:   end,
				OldText:   strings.TrimSuffix(oldText.String(), "\n"),
				NewText:   strings.TrimSuffix(newText.String(), "\n"),
			})
			oldText.Reset()
			newText.Reset()
			firstChanged = 0
			lastChanged = 0
		}

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				if firstChanged == 0 {
					firstChanged = origLine
				}
				newText.WriteString(strings.TrimPrefix(line, "+"))
				newText.WriteString("\n")
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				if firstChanged == 0 {
					firstChanged = origLine
				}
				lastChanged = origLine
				oldText.WriteString(strings.TrimPrefix(line, "-"))
				oldText.WriteString("\n")
				origLine++
			case strings.HasPrefix(line, " ") || line == "":
				flush()
				origLine++
			}
		}
		flush()
	}
	return edits, nil
}
