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
	"math"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
)

// dangerousCall is one flagged function in the call table.
type dangerousCall struct {
	language   string
	names      []string
	severity   pipeline.Severity
	message    string
	suggestion string
}

// dangerousCalls maps languages to the calls added code must not make.
var dangerousCalls = []dangerousCall{
	{
		language:   "python",
		names:      []string{"eval", "exec"},
		severity:   pipeline.SeverityHigh,
		message:    "Dynamic code execution",
		suggestion: "Avoid eval/exec. Parse the input explicitly instead.",
	},
	{
		language:   "python",
		names:      []string{"pickle.loads", "pickle.load"},
		severity:   pipeline.SeverityHigh,
		message:    "Unpickling untrusted data allows arbitrary code execution",
		suggestion: "Use json or another safe serialization format.",
	},
	{
		language:   "python",
		names:      []string{"os.system", "subprocess.call", "subprocess.Popen"},
		severity:   pipeline.SeverityMedium,
		message:    "Shell invocation with possible argument injection",
		suggestion: "Use subprocess.run with a list argument and shell=False.",
	},
	{
		language:   "python",
		names:      []string{"yaml.load"},
		severity:   pipeline.SeverityMedium,
		message:    "yaml.load without a safe loader can execute arbitrary objects",
		suggestion: "Use yaml.safe_load.",
	},
	{
		language:   "javascript",
		names:      []string{"eval"},
		severity:   pipeline.SeverityHigh,
		message:    "Dynamic code execution",
		suggestion: "Avoid eval. Use JSON.parse or explicit dispatch.",
	},
	{
		language:   "typescript",
		names:      []string{"eval"},
		severity:   pipeline.SeverityHigh,
		message:    "Dynamic code execution",
		suggestion: "Avoid eval. Use JSON.parse or explicit dispatch.",
	},
	{
		language:   "go",
		names:      []string{"exec.Command"},
		severity:   pipeline.SeverityMedium,
		message:    "Subprocess invocation with possible argument injection",
		suggestion: "Pass arguments separately and never build a shell string from input.",
	},
}

// secretPattern is one hardcoded-secret regex with an entropy gate.
type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	minEntropy float64
	message    string
}

var secretPatterns = []secretPattern{
	{
		name:    "aws-access-key",
		regex:   regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		message: "Hardcoded AWS access key",
	},
	{
		name:       "generic-api-key",
		regex:      regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token)\b\s*[:=]\s*["'][A-Za-z0-9+/_-]{16,}["']`),
		minEntropy: 3.5,
		message:    "Hardcoded API credential",
	},
	{
		name:       "password-literal",
		regex:      regexp.MustCompile(`(?i)\bpassword\b\s*[:=]\s*["'][^"']{8,}["']`),
		minEntropy: 3.0,
		message:    "Hardcoded password",
	},
	{
		name:    "private-key-block",
		regex:   regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
		message: "Embedded private key material",
	},
}

// Security scans added code for dangerous call patterns and hardcoded
// secrets.
//
// # Description
//
// Calls are matched structurally: the added content is parsed and call
// nodes are compared against a per-language table, so a variable named
// "evaluate" does not trip the eval rule. Secret detection is regex plus a
// Shannon entropy gate to keep obvious dummy values out of the findings.
// Secrets are high severity; call findings below high demote to advisory.
type Security struct{}

// NewSecurity builds the layer.
func NewSecurity() *Security {
	return &Security{}
}

// Kind implements the Layer interface.
func (l *Security) Kind() pipeline.LayerKind {
	return pipeline.KindSecurity
}

// Evaluate implements the Layer interface.
func (l *Security) Evaluate(ctx context.Context, in *pipeline.Input) pipeline.LayerResult {
	var issues []pipeline.Issue

	for _, seg := range addedSegments(in.Patch) {
		if testArtifactPath(seg.path) {
			continue
		}
		language := languageOf(in, seg.path)
		issues = append(issues, l.scanCalls(ctx, seg, language)...)
		issues = append(issues, l.scanSecrets(seg)...)
	}

	score := 1.0
	for _, is := range issues {
		switch is.BaseSeverity {
		case pipeline.SeverityHigh:
			score -= 0.25
		default:
			score -= 0.10
		}
	}
	if score < 0 {
		score = 0
	}
	return pipeline.LayerResult{Score: score, Issues: issues}
}

func (l *Security) scanCalls(ctx context.Context, seg addedSegment, language string) []pipeline.Issue {
	if grammarFor(language) == nil {
		return nil
	}
	tree, err := parseTree(ctx, []byte(seg.text), language)
	if err != nil {
		return nil
	}
	defer tree.Close()

	var issues []pipeline.Issue
	source := []byte(seg.text)

	walkNode(tree.RootNode(), func(node *sitter.Node) bool {
		if node.Type() != "call" && node.Type() != "call_expression" {
			return true
		}
		fnNode := node.ChildByFieldName("function")
		if fnNode == nil {
			return true
		}
		callee := fnNode.Content(source)

		for _, rule := range dangerousCalls {
			if rule.language != language {
				continue
			}
			for _, name := range rule.names {
				if callee != name && !strings.HasSuffix(callee, "."+name) {
					continue
				}
				is := pipeline.NewIssue(l.Kind(), rule.severity,
					fmt.Sprintf("%s: call to %s in %s", rule.message, callee, seg.path))
				is.FilePath = seg.path
				is.Line = seg.fileLine(nodeLine(node) - 1)
				is.Suggestion = rule.suggestion
				issues = append(issues, is)
			}
		}
		return true
	})
	return issues
}

func (l *Security) scanSecrets(seg addedSegment) []pipeline.Issue {
	var issues []pipeline.Issue

	for off, line := range strings.Split(seg.text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isCommentLine(trimmed) {
			continue
		}
		for _, p := range secretPatterns {
			match := p.regex.FindString(line)
			if match == "" {
				continue
			}
			if p.minEntropy > 0 && shannonEntropy(secretValue(match)) < p.minEntropy {
				continue
			}
			is := pipeline.NewIssue(l.Kind(), pipeline.SeverityHigh,
				fmt.Sprintf("%s detected in %s (%s)", p.message, seg.path, p.name))
			is.FilePath = seg.path
			is.Line = seg.fileLine(off)
			is.Suggestion = "Read the value from an environment variable or a secret manager instead of hardcoding it."
			issues = append(issues, is)
		}
	}
	return issues
}

// testArtifactPath reports whether findings in a path would be noise:
// tests, fixtures, and examples routinely contain fake credentials.
func testArtifactPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "/test") ||
		strings.Contains(lower, "test_") ||
		strings.HasSuffix(lower, "_test.go") ||
		strings.HasSuffix(lower, ".test.js") ||
		strings.HasSuffix(lower, ".test.ts") ||
		strings.HasSuffix(lower, ".spec.js") ||
		strings.HasSuffix(lower, ".spec.ts") ||
		strings.Contains(lower, "fixture") ||
		strings.Contains(lower, "mock") ||
		strings.Contains(lower, "example")
}

// isCommentLine checks if a line is a comment.
func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "/*") ||
		strings.HasPrefix(line, "*") ||
		strings.HasPrefix(line, "'''") ||
		strings.HasPrefix(line, `"""`)
}

// shannonEntropy measures the randomness of a candidate secret value.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// secretValue extracts the likely secret from a key=value style match.
func secretValue(match string) string {
	for _, sep := range []string{"=", ":"} {
		if idx := strings.Index(match, sep); idx > 0 {
			value := strings.TrimSpace(match[idx+1:])
			return strings.Trim(value, `"'`)
		}
	}
	return match
}
