// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessellate-ai/patchgate/pkg/logging"
	"github.com/tessellate-ai/patchgate/pkg/ux"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/config"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

var (
	validateDiffPath     string
	validatePatchPath    string
	validateContextDir   string
	validateAnalysisPath string
	validateJSONOutput   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validates a single patch against a context directory",
	Long: `Runs one patch through the validation pipeline and prints the
verdict. The context directory stands in for the retrieval step: every
file under it becomes a context file, keyed by its relative path.

Examples:

  patchgate validate --diff fix.patch --context ./repo
  patchgate validate --patch ops.json --context ./repo --json`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateDiffPath, "diff", "", "unified diff file")
	validateCmd.Flags().StringVar(&validatePatchPath, "patch", "", "patch operations JSON file")
	validateCmd.Flags().StringVar(&validateContextDir, "context", "", "directory of context files (required)")
	validateCmd.Flags().StringVar(&validateAnalysisPath, "analysis", "", "optional JSON file with issue analysis and metadata")
	validateCmd.Flags().BoolVar(&validateJSONOutput, "json", false, "print the full verdict as JSON")
	validateCmd.MarkFlagRequired("context")
}

// analysisFile is the on-disk shape of the optional --analysis input.
type analysisFile struct {
	Understanding *pipeline.Understanding `json:"understanding,omitempty"`
	Metadata      *pipeline.Metadata      `json:"metadata,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cand, err := loadCandidate()
	if err != nil {
		return err
	}

	files, err := loadContextDir(validateContextDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no context files found under %s", validateContextDir)
	}

	opts := &pipeline.Options{}
	if validateAnalysisPath != "" {
		data, err := os.ReadFile(validateAnalysisPath)
		if err != nil {
			return fmt.Errorf("reading analysis: %w", err)
		}
		var af analysisFile
		if err := json.Unmarshal(data, &af); err != nil {
			return fmt.Errorf("parsing analysis: %w", err)
		}
		opts.Understanding = af.Understanding
		opts.Metadata = af.Metadata
	}

	logger, closeLogs, err := logging.New(logging.Config{
		Level:   logging.Level(cfg.LogLevel),
		Service: "patchgate",
		Quiet:   validateJSONOutput,
	})
	if err != nil {
		return err
	}
	defer closeLogs()

	pipe, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Server.RequestTimeout)
		defer cancel()
	}

	verdict, err := pipe.Validate(ctx, cand, files, opts)
	if err != nil {
		return err
	}

	if validateJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(verdict); err != nil {
			return err
		}
	} else {
		printVerdict(verdict)
	}

	if !verdict.Valid {
		return fmt.Errorf("patch rejected: %s", verdict.Summary)
	}
	return nil
}

func loadCandidate() (*patch.Patch, error) {
	switch {
	case validateDiffPath != "" && validatePatchPath != "":
		return nil, fmt.Errorf("--diff and --patch are mutually exclusive")
	case validateDiffPath != "":
		data, err := os.ReadFile(validateDiffPath)
		if err != nil {
			return nil, fmt.Errorf("reading diff: %w", err)
		}
		return patch.FromUnifiedDiff(string(data))
	case validatePatchPath != "":
		data, err := os.ReadFile(validatePatchPath)
		if err != nil {
			return nil, fmt.Errorf("reading patch: %w", err)
		}
		var p patch.Patch
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing patch: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("one of --diff or --patch is required")
	}
}

// loadContextDir walks dir and returns every regular file as a context
// file keyed by its slash-separated relative path. Hidden directories
// such as .git are skipped.
func loadContextDir(dir string) ([]patch.ContextFile, error) {
	var files []patch.ContextFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		files = append(files, patch.ContextFile{
			Path:     rel,
			Content:  string(data),
			Language: patch.DetectLanguage(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking context dir: %w", err)
	}
	return files, nil
}

func printVerdict(v *pipeline.Verdict) {
	header := fmt.Sprintf("confidence=%.2f  issues=%d  duration=%s",
		v.Confidence, len(v.Issues), v.Duration.Round(time.Millisecond))
	if v.Valid {
		ux.Success("patch accepted  " + header)
	} else {
		ux.Error("patch rejected  " + header)
	}
	ux.Muted(v.Summary)
	for _, is := range v.Issues {
		loc := is.FilePath
		if is.Line > 0 {
			loc = fmt.Sprintf("%s:%d", is.FilePath, is.Line)
		}
		fmt.Println(ux.IssueLine(string(is.EffectiveSeverity), is.Layer.String(), loc, is.Message))
	}
	if v.Feedback != "" {
		ux.Box("Feedback", v.Feedback)
	}
}
