// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for security-critical
// values that cross the service boundary.
//
// Patch operations and context files name repository paths supplied by
// untrusted callers. Validating them here prevents path traversal and
// absolute-path writes before any content is inspected.
package validation

import (
	"fmt"
	"path"
	"strings"
)

const maxPathLength = 512

// ValidateRepoPath checks that p is a safe repository-relative path.
//
// Valid paths:
//   - non-empty, at most 512 characters
//   - relative (no leading / or drive letter)
//   - free of traversal segments after cleaning
//   - free of NUL and newline bytes
//
// Returns a descriptive error naming the offending path on failure.
func ValidateRepoPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if len(p) > maxPathLength {
		return fmt.Errorf("path too long (%d chars): %q", len(p), p[:32]+"...")
	}
	if strings.ContainsAny(p, "\x00\n\r") {
		return fmt.Errorf("path contains control characters")
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return fmt.Errorf("absolute path not allowed: %q", p)
	}
	if len(p) >= 2 && p[1] == ':' {
		return fmt.Errorf("absolute path not allowed: %q", p)
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path escapes repository root: %q", p)
	}
	return nil
}

// ValidateRepoPaths validates every path and returns the first error.
func ValidateRepoPaths(paths []string) error {
	for _, p := range paths {
		if err := ValidateRepoPath(p); err != nil {
			return err
		}
	}
	return nil
}
