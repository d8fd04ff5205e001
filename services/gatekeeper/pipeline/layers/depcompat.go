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

	"golang.org/x/mod/semver"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// compatRule is one known-incompatible dependency combination. The rule
// fires when the patch pulls in `library` while `against` is pinned in a
// version range the library cannot work with.
type compatRule struct {
	library    string
	importHint *regexp.Regexp
	against    string
	// badBelow / badAtLeast bound the incompatible range of `against`.
	// Empty means unbounded on that side.
	badBelow   string
	badAtLeast string
	message    string
	fix        string
}

var compatRules = []compatRule{
	{
		library:    "pytest-asyncio",
		importHint: regexp.MustCompile(`pytest\.mark\.asyncio|import\s+pytest_asyncio`),
		against:    "pytest",
		badBelow:   "v7.0.0",
		message:    "pytest-asyncio marks require pytest >= 7",
		fix:        "Upgrade pytest to >= 7.0, or drop the asyncio marks.",
	},
	{
		library:    "mock",
		importHint: regexp.MustCompile(`(?m)^\s*import\s+mock\b|^\s*from\s+mock\s+import`),
		against:    "python",
		badAtLeast: "v3.0.0",
		message:    "The standalone mock package shadows unittest.mock on Python 3",
		fix:        "Import from unittest.mock instead of the standalone mock package.",
	},
	{
		library:    "nose",
		importHint: regexp.MustCompile(`(?m)^\s*import\s+nose\b|^\s*from\s+nose\b`),
		against:    "python",
		badAtLeast: "v3.10.0",
		message:    "nose is unmaintained and does not run on Python >= 3.10",
		fix:        "Port the tests to pytest.",
	},
	{
		library:    "enzyme",
		importHint: regexp.MustCompile(`from\s+['"]enzyme['"]|require\(['"]enzyme['"]\)`),
		against:    "react",
		badAtLeast: "v17.0.0",
		message:    "enzyme has no adapter for React >= 17",
		fix:        "Use @testing-library/react for React 17 and later.",
	},
}

var requirementPinRe = regexp.MustCompile(`(?m)^\s*([A-Za-z0-9._-]+)\s*==\s*([0-9][0-9A-Za-z.-]*)`)

// DependencyCompat detects known-incompatible dependency and test-library
// combinations.
//
// # Description
//
// Generators trained on old corpora reach for test libraries the pinned
// toolchain no longer supports; the resulting patch passes every static
// check and then fails in CI. The layer matches added code against import
// fingerprints and compares the pinned version of the counterpart
// dependency against a rule table. Pins come from collaborator metadata,
// supplemented by any requirements file the patch itself touches. With no
// pin information the layer has nothing to say and passes.
type DependencyCompat struct{}

// NewDependencyCompat builds the layer.
func NewDependencyCompat() *DependencyCompat {
	return &DependencyCompat{}
}

// Kind implements the Layer interface.
func (l *DependencyCompat) Kind() pipeline.LayerKind {
	return pipeline.KindDependencyCompat
}

// Evaluate implements the Layer interface.
func (l *DependencyCompat) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	pins := collectPins(in)
	if len(pins) == 0 {
		return pipeline.LayerResult{Score: 1.0}
	}

	var issues []pipeline.Issue
	for path, added := range addedText(in.Patch) {
		for _, rule := range compatRules {
			if !rule.importHint.MatchString(added) {
				continue
			}
			pinned, ok := pins[rule.against]
			if !ok {
				continue
			}
			if !versionInBadRange(pinned, rule.badBelow, rule.badAtLeast) {
				continue
			}
			is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
				fmt.Sprintf("%s (%s is pinned at %s)", rule.message, rule.against, strings.TrimPrefix(pinned, "v")))
			is.FilePath = path
			is.FixInstruction = rule.fix
			issues = append(issues, is)
		}
	}

	score := 1.0
	if len(issues) > 0 {
		score = 0.0
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}

// collectPins merges collaborator metadata with requirements files touched
// by the patch. Patch pins win: they describe the post-patch world.
func collectPins(in *pipeline.Input) map[string]string {
	pins := map[string]string{}
	if in.Metadata != nil {
		for name, version := range in.Metadata.Dependencies {
			pins[strings.ToLower(name)] = canonicalVersion(version)
		}
	}
	for _, op := range in.Patch.Operations {
		base := strings.ToLower(op.Path)
		if !strings.HasSuffix(base, "requirements.txt") && !strings.Contains(base, "requirements/") {
			continue
		}
		content, ok := in.PatchedContent(op.Path)
		if !ok {
			continue
		}
		for _, m := range requirementPinRe.FindAllStringSubmatch(content, -1) {
			pins[strings.ToLower(m[1])] = canonicalVersion(m[2])
		}
	}
	return pins
}

// canonicalVersion normalizes to the semver package's leading-v form.
func canonicalVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return ""
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		// Pad short forms like v3.10 so comparisons still work.
		if padded := version + ".0"; semver.IsValid(padded) {
			return padded
		}
		return ""
	}
	return version
}

// versionInBadRange reports whether version falls inside the incompatible
// range [badAtLeast, badBelow).
func versionInBadRange(version, badBelow, badAtLeast string) bool {
	if version == "" {
		return false
	}
	if badBelow != "" && semver.Compare(version, badBelow) >= 0 {
		return false
	}
	if badAtLeast != "" && semver.Compare(version, badAtLeast) < 0 {
		return false
	}
	return true
}
