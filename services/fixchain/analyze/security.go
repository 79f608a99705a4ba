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
	"encoding/json"
	"fmt"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// SecurityAnalyzer scans sources for security findings by delegating to
// bandit's JSON output mode.
//
// Thread Safety: Safe for concurrent use.
type SecurityAnalyzer struct {
	runner *ToolRunner
	tool   string
}

// NewSecurityAnalyzer creates a security analyzer. The tool defaults to
// "bandit".
func NewSecurityAnalyzer(runner *ToolRunner, tool string) *SecurityAnalyzer {
	if tool == "" {
		tool = "bandit"
	}
	return &SecurityAnalyzer{runner: runner, tool: tool}
}

// Name returns the tool name.
func (a *SecurityAnalyzer) Name() string {
	return a.tool
}

// Analyze runs the scanner and filters findings below the configured
// severity threshold.
func (a *SecurityAnalyzer) Analyze(ctx context.Context, sourcePath string, opts Options) (*Report, error) {
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

	args := []string{"-f", "json", "-q"}
	if opts.ConfigFile != "" {
		args = append(args, "-c", opts.ConfigFile)
	}
	args = append(args, absPath)

	output, err := a.runner.Execute(ctx, a.tool, args...)
	if err != nil {
		return nil, err
	}

	issues, err := ParseBanditOutput(output, a.tool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseOutput, err)
	}

	report := &Report{
		Tool:      a.tool,
		Issues:    FilterBySeverity(issues, opts.SeverityThreshold),
		RawOutput: string(output),
	}
	for i := range report.Issues {
		report.Issues[i].Clamp()
	}
	return report, nil
}

// banditReport mirrors the relevant slice of bandit's JSON schema.
type banditReport struct {
	Results []struct {
		Filename        string `json:"filename"`
		LineNumber      int    `json:"line_number"`
		ColOffset       int    `json:"col_offset"`
		IssueText       string `json:"issue_text"`
		IssueSeverity   string `json:"issue_severity"`
		IssueConfidence string `json:"issue_confidence"`
		TestID          string `json:"test_id"`
		TestName        string `json:"test_name"`
		MoreInfo        string `json:"more_info"`
	} `json:"results"`
	Errors []struct {
		Filename string `json:"filename"`
		Reason   string `json:"reason"`
	} `json:"errors"`
}

// ParseBanditOutput parses bandit's JSON report into issues. Scanner
// errors for individual files become high-severity issues so they are
// not silently lost.
func ParseBanditOutput(output []byte, tool string) ([]model.Issue, error) {
	var report banditReport
	if err := json.Unmarshal(output, &report); err != nil {
		return nil, err
	}

	var issues []model.Issue
	for _, r := range report.Results {
		issues = append(issues, model.Issue{
			File:       r.Filename,
			Line:       r.LineNumber,
			Column:     r.ColOffset,
			Message:    r.IssueText,
			Severity:   model.SeverityFromString(r.IssueSeverity),
			RuleID:     r.TestName,
			Tool:       tool,
			ErrorCode:  r.TestID,
			Suggestion: r.MoreInfo,
		})
	}
	for _, e := range report.Errors {
		issues = append(issues, model.Issue{
			File:     e.Filename,
			Message:  fmt.Sprintf("Scanner error: %s", e.Reason),
			Severity: model.SeverityHigh,
			RuleID:   "tool_error",
			Tool:     tool,
		})
	}
	return issues, nil
}

// FilterBySeverity drops issues below the threshold.
func FilterBySeverity(issues []model.Issue, threshold model.Severity) []model.Issue {
	if threshold <= model.SeverityLow {
		return issues
	}
	var out []model.Issue
	for _, issue := range issues {
		if issue.Severity >= threshold {
			out = append(out, issue)
		}
	}
	return out
}
