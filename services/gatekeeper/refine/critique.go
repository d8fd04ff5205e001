// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package refine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// buildCritique turns a verdict into a ranked list of concrete,
// file-and-line-anchored problems the reviser must address, plus the layer
// names that drove it.
//
// Advisory findings are excluded: asking the reviser to chase style notes
// is how refinement makes patches worse.
func buildCritique(verdict *pipeline.Verdict, understanding *pipeline.Understanding) (string, []string) {
	type ranked struct {
		rank  int
		seq   int
		issue pipeline.Issue
	}

	var items []ranked
	for i, is := range verdict.Issues {
		if is.EffectiveSeverity.Advisory() {
			continue
		}
		items = append(items, ranked{rank: severityRank(is.EffectiveSeverity), seq: i, issue: is})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].rank != items[j].rank {
			return items[i].rank < items[j].rank
		}
		return items[i].seq < items[j].seq
	})

	var sb strings.Builder
	sb.WriteString("The previous patch failed validation. Revise it to address every problem below, changing nothing else.\n")
	if understanding != nil && understanding.RootCause != "" {
		fmt.Fprintf(&sb, "The patch must still fix: %s\n", understanding.RootCause)
	}
	sb.WriteString("\nProblems, most severe first:\n")

	focusSet := map[string]bool{}
	var focus []string
	for i, item := range items {
		is := item.issue
		loc := is.FilePath
		if loc == "" {
			loc = "patch"
		}
		if is.Line > 0 {
			loc = fmt.Sprintf("%s line %d", loc, is.Line)
		}
		fmt.Fprintf(&sb, "%d. [%s] %s: %s", i+1, is.EffectiveSeverity, loc, is.Message)
		switch {
		case is.FixInstruction != "":
			fmt.Fprintf(&sb, " How to fix: %s", is.FixInstruction)
		case is.Suggestion != "":
			fmt.Fprintf(&sb, " How to fix: %s", is.Suggestion)
		}
		sb.WriteString("\n")

		name := is.Layer.String()
		if !focusSet[name] {
			focusSet[name] = true
			focus = append(focus, name)
		}
	}

	if !verdict.ApplyPassed && verdict.Feedback != "" {
		sb.WriteString("\nApply-check failures:\n")
		sb.WriteString(verdict.Feedback)
		sb.WriteString("\n")
	}

	return sb.String(), focus
}

func severityRank(s pipeline.Severity) int {
	switch s {
	case pipeline.SeverityCritical:
		return 0
	case pipeline.SeverityHigh:
		return 1
	case pipeline.SeverityMedium:
		return 2
	default:
		return 3
	}
}
