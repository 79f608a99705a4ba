// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the value types shared by the FixChain test
// execution engine: statuses, categories, issues, attempts, and the
// aggregate result of a multi-iteration test run.
package model

import (
	"strings"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

// Status represents the execution status of a test attempt or result.
type Status string

const (
	// StatusPending indicates the test has not started.
	StatusPending Status = "pending"

	// StatusRunning indicates the test is currently executing.
	StatusRunning Status = "running"

	// StatusPassed indicates the test completed and validation passed.
	StatusPassed Status = "passed"

	// StatusFailed indicates the test completed and validation failed.
	StatusFailed Status = "failed"

	// StatusError indicates the test itself could not run (tool missing,
	// analyzer crashed). Distinct from StatusFailed so consumers can tell
	// "the check found problems" apart from "the check could not run".
	StatusError Status = "error"

	// StatusSkipped indicates the test was not executed.
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// =============================================================================
// CATEGORY
// =============================================================================

// Category classifies a test case.
type Category string

const (
	// CategoryStatic covers analysis that does not execute the target.
	CategoryStatic Category = "static"

	// CategoryDynamic covers analysis that executes the target.
	CategoryDynamic Category = "dynamic"

	// CategorySimulation covers scenario-driven analysis.
	CategorySimulation Category = "simulation"
)

// ParseCategory parses a category string. Unknown values return false.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryStatic, CategoryDynamic, CategorySimulation:
		return Category(s), true
	default:
		return "", false
	}
}

// =============================================================================
// SEVERITY
// =============================================================================

// Severity represents the severity of a single finding.
type Severity int

const (
	// SeverityLow represents informational findings.
	SeverityLow Severity = iota

	// SeverityMedium represents findings that should be reviewed.
	SeverityMedium

	// SeverityHigh represents findings that usually block.
	SeverityHigh

	// SeverityCritical represents findings that always block.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown values
// default to SeverityMedium, matching how most tools report unrated
// findings.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = SeverityFromString(string(text))
	return nil
}

// SeverityFromString parses common severity strings from different
// tools, case-insensitively: bandit reports "HIGH", mypy reports
// "error". Unknown values default to SeverityMedium.
func SeverityFromString(s string) Severity {
	switch strings.ToLower(s) {
	case "low", "info", "note", "style", "hint":
		return SeverityLow
	case "medium", "warning", "warn", "moderate":
		return SeverityMedium
	case "high", "error", "err":
		return SeverityHigh
	case "critical", "fatal", "blocker":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// =============================================================================
// ISSUE
// =============================================================================

// Issue is a single finding reported by an analyzer: a syntax error, a
// type error, or a security finding.
//
// Thread Safety: Treat as immutable after creation.
type Issue struct {
	// File is the path where the issue was found.
	File string `json:"file"`

	// Line is the 1-based line number, 0 if not applicable.
	Line int `json:"line"`

	// Column is the 1-based column number, 0 if not applicable.
	Column int `json:"column"`

	// Message describes the issue.
	Message string `json:"message"`

	// Severity is the issue severity.
	Severity Severity `json:"severity"`

	// RuleID is the rule or check that triggered this issue, if any.
	RuleID string `json:"rule_id,omitempty"`

	// Tool is the analyzer that detected this issue.
	Tool string `json:"tool,omitempty"`

	// ErrorCode is the tool-specific error code, if any.
	ErrorCode string `json:"error_code,omitempty"`

	// Suggestion is a suggested fix, if the tool provides one.
	Suggestion string `json:"suggestion,omitempty"`
}

// Clamp normalizes the issue position. Negative line and column numbers
// are clamped to zero.
func (i *Issue) Clamp() {
	if i.Line < 0 {
		i.Line = 0
	}
	if i.Column < 0 {
		i.Column = 0
	}
}

// =============================================================================
// ATTEMPT
// =============================================================================

// Attempt captures one execution of a test case at a given iteration.
//
// Lifecycle: created by the iteration controller at the start of an
// iteration, mutated only during that iteration, and immutable once
// appended to a Result.
type Attempt struct {
	// Iteration is the 1-based iteration number.
	Iteration int `json:"iteration"`

	// StartTime is when the attempt began.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the attempt finished. Zero while running.
	EndTime time.Time `json:"end_time,omitempty"`

	// Status is the attempt execution status.
	Status Status `json:"status"`

	// Result is the validation outcome. Nil until validated.
	Result *bool `json:"result,omitempty"`

	// Output holds the raw tool output or logs.
	Output string `json:"output,omitempty"`

	// Message is a short human-readable status message.
	Message string `json:"message,omitempty"`

	// Issues are the findings produced during this attempt.
	Issues []Issue `json:"issues,omitempty"`

	// Metadata is an open bag of attempt-scoped values.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Duration returns the attempt duration, or zero if the attempt has not
// finished.
func (a *Attempt) Duration() time.Duration {
	if a.StartTime.IsZero() || a.EndTime.IsZero() {
		return 0
	}
	return a.EndTime.Sub(a.StartTime)
}

// Passed reports whether the attempt validated successfully.
func (a *Attempt) Passed() bool {
	return a.Result != nil && *a.Result
}

// CriticalIssues returns the critical-severity issues of this attempt.
func (a *Attempt) CriticalIssues() []Issue {
	return a.issuesBySeverity(SeverityCritical)
}

// HighIssues returns the high-severity issues of this attempt.
func (a *Attempt) HighIssues() []Issue {
	return a.issuesBySeverity(SeverityHigh)
}

func (a *Attempt) issuesBySeverity(sev Severity) []Issue {
	var out []Issue
	for _, issue := range a.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

// BoolPtr returns a pointer to b. Convenience for the tri-state
// Attempt.Result and Result.FinalResult fields.
func BoolPtr(b bool) *bool {
	return &b
}
