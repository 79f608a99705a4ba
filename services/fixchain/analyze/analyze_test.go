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
	"errors"
	"testing"
	"time"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

func TestParseSyntaxProbeOutput_CleanFile(t *testing.T) {
	issues := ParseSyntaxProbeOutput([]byte("OK\n"), "main.py")
	if len(issues) != 0 {
		t.Errorf("Expected no issues for clean output, got %d", len(issues))
	}
}

func TestParseSyntaxProbeOutput_SyntaxError(t *testing.T) {
	output := []byte("SYNTAX\t12\t5\tinvalid syntax\n")
	issues := ParseSyntaxProbeOutput(output, "main.py")

	if len(issues) != 1 {
		t.Fatalf("Expected 1 issue, got %d", len(issues))
	}
	issue := issues[0]
	if issue.Line != 12 || issue.Column != 5 {
		t.Errorf("Expected position 12:5, got %d:%d", issue.Line, issue.Column)
	}
	if issue.Severity != model.SeverityCritical {
		t.Errorf("Expected critical severity, got %v", issue.Severity)
	}
	if issue.RuleID != "SYNTAX_ERROR" || issue.ErrorCode != "E002" {
		t.Errorf("Unexpected rule/code: %s/%s", issue.RuleID, issue.ErrorCode)
	}
}

func TestParseSyntaxProbeOutput_IgnoresGarbage(t *testing.T) {
	output := []byte("Traceback (most recent call last):\n  something else\n")
	if issues := ParseSyntaxProbeOutput(output, "main.py"); len(issues) != 0 {
		t.Errorf("Expected no issues for unrecognized output, got %d", len(issues))
	}
}

func TestParseMypyOutput(t *testing.T) {
	output := []byte(`main.py:10:5: error: Incompatible return value type (got "int", expected "str")  [return-value]
main.py:22: warning: Returning Any from function declared to return "str"
main.py:30:1: note: See https://mypy.readthedocs.io
not a mypy line
`)
	issues := ParseMypyOutput(output, "mypy")
	if len(issues) != 3 {
		t.Fatalf("Expected 3 issues, got %d", len(issues))
	}

	if issues[0].Severity != model.SeverityHigh {
		t.Errorf("Expected high severity for error, got %v", issues[0].Severity)
	}
	if issues[0].Line != 10 || issues[0].Column != 5 {
		t.Errorf("Expected position 10:5, got %d:%d", issues[0].Line, issues[0].Column)
	}
	if issues[0].RuleID != "return-value" {
		t.Errorf("Expected error code extracted, got %q", issues[0].RuleID)
	}

	if issues[1].Severity != model.SeverityMedium {
		t.Errorf("Expected medium severity for warning, got %v", issues[1].Severity)
	}
	if issues[1].Column != 0 {
		t.Errorf("Expected zero column when omitted, got %d", issues[1].Column)
	}

	if issues[2].Severity != model.SeverityLow {
		t.Errorf("Expected low severity for note, got %v", issues[2].Severity)
	}
}

func TestParseBanditOutput(t *testing.T) {
	output := []byte(`{
  "results": [
    {
      "filename": "app.py",
      "line_number": 42,
      "col_offset": 4,
      "issue_text": "Use of insecure MD5 hash function.",
      "issue_severity": "HIGH",
      "issue_confidence": "HIGH",
      "test_id": "B303",
      "test_name": "blacklist",
      "more_info": "https://bandit.readthedocs.io/en/latest/blacklists/blacklist_calls.html"
    },
    {
      "filename": "app.py",
      "line_number": 10,
      "col_offset": 0,
      "issue_text": "Consider possible security implications.",
      "issue_severity": "LOW",
      "issue_confidence": "HIGH",
      "test_id": "B404",
      "test_name": "blacklist",
      "more_info": ""
    }
  ],
  "errors": [
    {"filename": "broken.py", "reason": "syntax error while parsing AST"}
  ]
}`)
	issues, err := ParseBanditOutput(output, "bandit")
	if err != nil {
		t.Fatalf("Unexpected parse error: %v", err)
	}
	if len(issues) != 3 {
		t.Fatalf("Expected 3 issues (2 results + 1 error), got %d", len(issues))
	}

	if issues[0].Severity != model.SeverityHigh {
		t.Errorf("Expected high severity, got %v", issues[0].Severity)
	}
	if issues[0].ErrorCode != "B303" {
		t.Errorf("Expected test id carried as error code, got %q", issues[0].ErrorCode)
	}
	if issues[1].Severity != model.SeverityLow {
		t.Errorf("Expected low severity, got %v", issues[1].Severity)
	}
	if issues[2].Severity != model.SeverityHigh || issues[2].File != "broken.py" {
		t.Errorf("Expected scanner error surfaced as high-severity issue, got %+v", issues[2])
	}
}

func TestParseBanditOutput_InvalidJSON(t *testing.T) {
	if _, err := ParseBanditOutput([]byte("not json"), "bandit"); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestFilterBySeverity(t *testing.T) {
	issues := []model.Issue{
		{Message: "a", Severity: model.SeverityLow},
		{Message: "b", Severity: model.SeverityMedium},
		{Message: "c", Severity: model.SeverityHigh},
		{Message: "d", Severity: model.SeverityCritical},
	}

	if got := FilterBySeverity(issues, model.SeverityLow); len(got) != 4 {
		t.Errorf("Low threshold must keep everything, got %d", len(got))
	}
	if got := FilterBySeverity(issues, model.SeverityHigh); len(got) != 2 {
		t.Errorf("High threshold must keep 2, got %d", len(got))
	}
	if got := FilterBySeverity(issues, model.SeverityCritical); len(got) != 1 {
		t.Errorf("Critical threshold must keep 1, got %d", len(got))
	}
}

func TestToolError_Unwrap(t *testing.T) {
	err := NewToolError("mypy", ErrToolNotInstalled)
	if !errors.Is(err, ErrToolNotInstalled) {
		t.Error("Expected errors.Is to match the sentinel")
	}

	withOut := NewToolError("bandit", ErrToolFailed).WithOutput("boom")
	if withOut.Error() == "" || !errors.Is(withOut, ErrToolFailed) {
		t.Errorf("Unexpected wrapped error: %v", withOut)
	}
}

func TestToolRunner_Execute_NilContext(t *testing.T) {
	runner := NewToolRunner()
	if _, err := runner.Execute(nil, "true"); !errors.Is(err, ErrInvalidInput) { //nolint:staticcheck
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestToolRunner_Execute_MissingBinary(t *testing.T) {
	runner := NewToolRunner(WithTimeout(2 * time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := runner.Execute(ctx, "definitely-not-a-real-binary-name")
	if err == nil {
		t.Error("Expected error for missing binary")
	}
}

func TestToolRunner_IsAvailable_ProbesOnDemand(t *testing.T) {
	runner := NewToolRunner()
	if runner.IsAvailable("definitely-not-a-real-binary-name") {
		t.Error("Expected missing binary to be unavailable")
	}
	// The probe result must be cached.
	if runner.IsAvailable("definitely-not-a-real-binary-name") {
		t.Error("Expected cached unavailability")
	}
}

func TestSyntaxAnalyzer_MissingFile(t *testing.T) {
	runner := NewToolRunner()
	analyzer := NewSyntaxAnalyzer(runner, "")

	report, err := analyzer.Analyze(context.Background(), "/nonexistent/path/main.py", Options{})
	if err != nil {
		t.Fatalf("Missing file must not be an error: %v", err)
	}
	if len(report.Issues) != 1 {
		t.Fatalf("Expected 1 issue, got %d", len(report.Issues))
	}
	if report.Issues[0].RuleID != "FILE_NOT_FOUND" || report.Issues[0].Severity != model.SeverityCritical {
		t.Errorf("Unexpected issue: %+v", report.Issues[0])
	}
}

func TestAnalyzer_EmptyPathRejected(t *testing.T) {
	runner := NewToolRunner()
	analyzers := []Analyzer{
		NewSyntaxAnalyzer(runner, ""),
		NewTypeAnalyzer(runner, ""),
		NewSecurityAnalyzer(runner, ""),
	}
	for _, a := range analyzers {
		if _, err := a.Analyze(context.Background(), "", Options{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput for empty path, got %v", a.Name(), err)
		}
	}
}
