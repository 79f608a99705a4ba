// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// mypyLine matches "file.py:12:5: error: message  [code]". Column and
// trailing code are optional depending on mypy flags.
var mypyLine = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s*(error|warning|note):\s*(.*?)(?:\s+\[([\w-]+)\])?$`)

// TypeAnalyzer checks type annotations by delegating to mypy.
//
// Thread Safety: Safe for concurrent use.
type TypeAnalyzer struct {
	runner *ToolRunner
	tool   string
}

// NewTypeAnalyzer creates a type analyzer. The tool defaults to "mypy".
func NewTypeAnalyzer(runner *ToolRunner, tool string) *TypeAnalyzer {
	if tool == "" {
		tool = "mypy"
	}
	return &TypeAnalyzer{runner: runner, tool: tool}
}

// Name returns the tool name.
func (a *TypeAnalyzer) Name() string {
	return a.tool
}

// Analyze runs the type checker against the source file.
//
// The checker's column-aware line output is parsed into issues; "error"
// lines map to high severity, "warning" to medium, "note" to low.
func (a *TypeAnalyzer) Analyze(ctx context.Context, sourcePath string, opts Options) (*Report, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if sourcePath == "" {
		return nil, fmt.Errorf("%w: sourcePath must not be empty", ErrInvalidInput)
	}
	if !a.runner.IsAvailable(a.tool) {
		return nil, NewToolError(a.tool, ErrToolNotInstalled)
	}

	absPath, err := a.runner.resolvePath(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	args := []string{"--show-column-numbers", "--no-error-summary", "--no-color-output"}
	if opts.Strict {
		args = append(args, "--strict")
	}
	if opts.ConfigFile != "" {
		args = append(args, "--config-file", opts.ConfigFile)
	}
	args = append(args, absPath)

	output, err := a.runner.Execute(ctx, a.tool, args...)
	if err != nil {
		return nil, err
	}

	report := &Report{Tool: a.tool, RawOutput: string(output)}
	report.Issues = ParseMypyOutput(output, a.tool)
	for i := range report.Issues {
		report.Issues[i].Clamp()
	}
	return report, nil
}

// ParseMypyOutput parses mypy's line-oriented output into issues.
// Unrecognized lines are skipped.
func ParseMypyOutput(output []byte, tool string) []model.Issue {
	var issues []model.Issue
	for _, line := range strings.Split(string(output), "\n") {
		m := mypyLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		colNo := 0
		if m[3] != "" {
			colNo, _ = strconv.Atoi(m[3])
		}

		var severity model.Severity
		switch m[4] {
		case "error":
			severity = model.SeverityHigh
		case "warning":
			severity = model.SeverityMedium
		default:
			severity = model.SeverityLow
		}

		issues = append(issues, model.Issue{
			File:     m[1],
			Line:     lineNo,
			Column:   colNo,
			Message:  m[5],
			Severity: severity,
			RuleID:   m[6],
			Tool:     tool,
		})
	}
	return issues
}
