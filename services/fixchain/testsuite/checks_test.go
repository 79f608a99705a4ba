// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testsuite

import (
	"context"
	"testing"

	"github.com/fixchain/fixchain/services/fixchain/analyze"
	"github.com/fixchain/fixchain/services/fixchain/model"
)

// stubAnalyzer returns a canned report.
type stubAnalyzer struct {
	name   string
	report *analyze.Report
	err    error
}

func (s *stubAnalyzer) Name() string { return s.name }

func (s *stubAnalyzer) Analyze(ctx context.Context, sourcePath string, opts analyze.Options) (*analyze.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func attemptWith(issues ...model.Issue) *model.Attempt {
	return &model.Attempt{
		Iteration: 1,
		Status:    model.StatusFailed,
		Issues:    issues,
	}
}

func TestSyntaxCheck_Validate(t *testing.T) {
	check := NewSyntaxCheck(&stubAnalyzer{name: "ast"}, "main.py")

	if !check.Validate(attemptWith()) {
		t.Error("Expected clean attempt to pass")
	}
	if check.Validate(attemptWith(model.Issue{Severity: model.SeverityCritical})) {
		t.Error("Expected syntax error to fail")
	}
	if check.Validate(nil) {
		t.Error("Expected nil attempt to fail")
	}
	if check.Validate(&model.Attempt{Status: model.StatusError}) {
		t.Error("Expected error-status attempt to fail validation")
	}
}

func TestTypeCheck_Validate(t *testing.T) {
	lenient := NewTypeCheck(&stubAnalyzer{name: "mypy"}, "main.py", false)
	strict := NewTypeCheck(&stubAnalyzer{name: "mypy"}, "main.py", true)

	errIssue := model.Issue{Severity: model.SeverityHigh}
	warnIssue := model.Issue{Severity: model.SeverityMedium}
	noteIssue := model.Issue{Severity: model.SeverityLow}

	if lenient.Validate(attemptWith(errIssue)) {
		t.Error("Errors must fail in lenient mode")
	}
	if !lenient.Validate(attemptWith(warnIssue, noteIssue)) {
		t.Error("Warnings and notes must pass in lenient mode")
	}
	if strict.Validate(attemptWith(warnIssue)) {
		t.Error("Warnings must fail in strict mode")
	}
	if !strict.Validate(attemptWith(noteIssue)) {
		t.Error("Notes must pass in strict mode")
	}
}

func TestSecurityCheck_Validate(t *testing.T) {
	critical := model.Issue{Severity: model.SeverityCritical}
	high := model.Issue{Severity: model.SeverityHigh}
	medium := model.Issue{Severity: model.SeverityMedium}

	cases := []struct {
		name      string
		threshold model.Severity
		issues    []model.Issue
		want      bool
	}{
		{"critical always fails", model.SeverityLow, []model.Issue{critical}, false},
		{"high fails at high threshold", model.SeverityHigh, []model.Issue{high}, false},
		{"high fails at critical threshold", model.SeverityCritical, []model.Issue{high}, false},
		{"high passes at low threshold", model.SeverityLow, []model.Issue{high}, true},
		{"medium passes", model.SeverityHigh, []model.Issue{medium}, true},
		{"clean passes", model.SeverityCritical, nil, true},
	}

	for _, tc := range cases {
		check := NewSecurityCheck(&stubAnalyzer{name: "bandit"}, "main.py", tc.threshold)
		if got := check.Validate(attemptWith(tc.issues...)); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAnalyzerCheck_RunForwardsConfig(t *testing.T) {
	report := &analyze.Report{
		Tool:      "mypy",
		RawOutput: "main.py:1:1: error: bad  [misc]",
		Issues:    []model.Issue{{Message: "bad", Severity: model.SeverityHigh}},
	}
	check := NewTypeCheck(&stubAnalyzer{name: "mypy", report: report}, "main.py", false)

	outcome, err := check.Run(context.Background(), model.DefaultRunConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Output != report.RawOutput {
		t.Error("Expected raw output carried into outcome")
	}
	if len(outcome.Issues) != 1 {
		t.Errorf("Expected 1 issue, got %d", len(outcome.Issues))
	}
	if outcome.Metadata["tool"] != "mypy" {
		t.Errorf("Expected tool metadata, got %v", outcome.Metadata["tool"])
	}
}

func TestCustomCheck_Defaults(t *testing.T) {
	check := &CustomCheck{CheckName: "custom"}

	if check.Category() != model.CategoryStatic {
		t.Errorf("Expected static default category, got %s", check.Category())
	}

	outcome, err := check.Run(context.Background(), model.DefaultRunConfig())
	if err != nil || outcome == nil {
		t.Fatalf("Expected empty outcome with nil RunFn, got %v / %v", outcome, err)
	}

	if !check.Validate(attemptWith()) {
		t.Error("Default validation must pass a clean attempt")
	}
	if check.Validate(attemptWith(model.Issue{Severity: model.SeverityLow})) {
		t.Error("Default validation must fail on any issue")
	}
}
