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
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// dockerInstructions are the instruction words a Dockerfile may start a
// line with.
var dockerInstructions = map[string]bool{
	"FROM": true, "RUN": true, "CMD": true, "LABEL": true, "EXPOSE": true,
	"ENV": true, "ADD": true, "COPY": true, "ENTRYPOINT": true, "VOLUME": true,
	"USER": true, "WORKDIR": true, "ARG": true, "ONBUILD": true,
	"STOPSIGNAL": true, "HEALTHCHECK": true, "SHELL": true, "MAINTAINER": true,
}

// Manifest validates external configuration files touched by the patch.
//
// A patch that corrupts a container manifest breaks the deployment rather
// than the code, so structural errors here are terminating criticals.
// Files that are not recognized manifests are ignored.
type Manifest struct{}

// NewManifest builds the layer.
func NewManifest() *Manifest {
	return &Manifest{}
}

// Kind implements the Layer interface.
func (l *Manifest) Kind() pipeline.LayerKind {
	return pipeline.KindManifest
}

// Evaluate implements the Layer interface.
func (l *Manifest) Evaluate(_ context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue
	checked := 0
	failed := 0

	for _, op := range in.Patch.Operations {
		if op.Kind == patch.OpDelete {
			continue
		}
		base := strings.ToLower(path.Base(patch.NormalizePath(op.Path)))
		isDockerfile := base == "dockerfile" || strings.HasPrefix(base, "dockerfile.")
		isCompose := strings.HasPrefix(base, "docker-compose") || strings.HasPrefix(base, "compose.")
		isYAML := strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml")
		if !isDockerfile && !isCompose && !isYAML {
			continue
		}
		content, ok := in.PatchedContent(op.Path)
		if !ok {
			continue
		}

		checked++
		var fileIssues []pipeline.Issue
		switch {
		case isDockerfile:
			fileIssues = l.checkDockerfile(op.Path, content)
		case isCompose:
			fileIssues = l.checkCompose(op.Path, content)
		default:
			fileIssues = l.checkYAML(op.Path, content)
		}
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

func (l *Manifest) checkDockerfile(filePath, content string) []pipeline.Issue {
	var issues []pipeline.Issue
	sawFrom := false
	sawInstruction := false
	continued := false

	for lineNo, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		wasContinued := continued
		continued = strings.HasSuffix(trimmed, "\\")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || wasContinued {
			continue
		}

		word := strings.ToUpper(strings.Fields(trimmed)[0])
		if !dockerInstructions[word] {
			is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
				fmt.Sprintf("Unknown Dockerfile instruction %q in %s", word, filePath))
			is.FilePath = filePath
			is.Line = lineNo + 1
			is.FixInstruction = "Use a valid Dockerfile instruction. Shell fragments must be continuations of a RUN line."
			issues = append(issues, is)
			continue
		}
		if !sawInstruction && word != "FROM" && word != "ARG" {
			is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
				fmt.Sprintf("Dockerfile %s must start with FROM (or ARG), found %s", filePath, word))
			is.FilePath = filePath
			is.Line = lineNo + 1
			is.FixInstruction = "Begin the Dockerfile with a FROM instruction naming the base image."
			issues = append(issues, is)
		}
		sawInstruction = true
		if word == "FROM" {
			sawFrom = true
		}
	}

	if sawInstruction && !sawFrom {
		is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
			fmt.Sprintf("Dockerfile %s has no FROM instruction", filePath))
		is.FilePath = filePath
		is.FixInstruction = "Add a FROM instruction naming the base image."
		issues = append(issues, is)
	}
	return issues
}

func (l *Manifest) checkCompose(filePath, content string) []pipeline.Issue {
	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
			fmt.Sprintf("Compose file %s is not valid YAML: %v", filePath, err))
		is.FilePath = filePath
		is.FixInstruction = "Fix the YAML structure. Check indentation of the changed block."
		return []pipeline.Issue{is}
	}
	if len(doc.Services) == 0 {
		is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
			fmt.Sprintf("Compose file %s defines no services", filePath))
		is.FilePath = filePath
		is.FixInstruction = "A compose file must declare at least one entry under the services key."
		return []pipeline.Issue{is}
	}
	return nil
}

func (l *Manifest) checkYAML(filePath, content string) []pipeline.Issue {
	var doc any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		is := pipeline.NewIssue(l.Kind(), pipeline.SeverityCritical,
			fmt.Sprintf("%s is not valid YAML: %v", filePath, err))
		is.FilePath = filePath
		is.FixInstruction = "Fix the YAML structure. Check indentation of the changed block."
		return []pipeline.Issue{is}
	}
	return nil
}
