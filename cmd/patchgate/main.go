// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "patchgate",
	Short: "Validates AI-generated patches before they reach a repository",
	Long: `Patchgate runs candidate patches through a layered validation
pipeline and reports a verdict with actionable feedback. It can run as
an HTTP service or validate a single patch from the command line.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults apply when empty)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}
