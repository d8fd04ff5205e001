// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the patchgate CLI.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Patchgate palette - slate blues with signal colors for verdicts.
var (
	ColorAccent  = lipgloss.Color("#5E81F4") // primary accent
	ColorSteel   = lipgloss.Color("#7A8BA8") // secondary text
	ColorMuted   = lipgloss.Color("#4A5568") // muted text, borders
	ColorSuccess = lipgloss.Color("#34D399") // accepted patches
	ColorWarning = lipgloss.Color("#FBBF24") // advisory findings
	ColorError   = lipgloss.Color("#F87171") // blocking findings
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a themed status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Render returns the icon with its semantic color applied.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// Title prints a bold accent heading.
func Title(text string) {
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a line with the success icon.
func Success(text string) {
	fmt.Printf("%s %s\n", IconSuccess.Render(), text)
}

// Warning prints a line with the warning icon.
func Warning(text string) {
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints a line with the error icon to stderr.
func Error(text string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Muted prints de-emphasized text.
func Muted(text string) {
	fmt.Println(Styles.Muted.Render(text))
}

// Box prints content inside a bordered box with an optional title.
func Box(title, content string) {
	if title != "" {
		content = Styles.Bold.Render(title) + "\n" + content
	}
	fmt.Println(Styles.Box.Render(content))
}

// SeverityStyle returns the style for a severity name. Advisory
// severities render as warnings, blocking ones as errors.
func SeverityStyle(severity string) lipgloss.Style {
	switch severity {
	case "critical", "high":
		return Styles.Error
	case "medium", "advisory-medium", "advisory-low":
		return Styles.Warning
	default:
		return Styles.Muted
	}
}

// IssueLine formats one finding as an indented list entry.
func IssueLine(severity, layer, location, message string) string {
	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(string(IconBullet))
	b.WriteString(" ")
	b.WriteString(SeverityStyle(severity).Render("[" + severity + "]"))
	b.WriteString(" " + layer)
	if location != "" {
		b.WriteString(" " + Styles.Muted.Render(location))
	}
	b.WriteString(": " + message)
	return b.String()
}
