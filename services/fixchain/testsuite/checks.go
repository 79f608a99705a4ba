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
	"fmt"

	"github.com/fixchain/fixchain/services/fixchain/analyze"
	"github.com/fixchain/fixchain/services/fixchain/model"
)

// =============================================================================
// ANALYZER-BACKED CHECKS
// =============================================================================

// analyzerCheck is the shared core of the built-in checks: run one
// analyzer against one source file and record its report.
type analyzerCheck struct {
	name       string
	category   model.Category
	describe   string
	sourceFile string
	analyzer   analyze.Analyzer
}

func (c *analyzerCheck) Name() string             { return c.name }
func (c *analyzerCheck) Category() model.Category { return c.category }
func (c *analyzerCheck) Describe() string         { return c.describe }
func (c *analyzerCheck) SourceFile() string       { return c.sourceFile }

func (c *analyzerCheck) Run(ctx context.Context, cfg model.RunConfig) (*RunOutcome, error) {
	report, err := c.analyzer.Analyze(ctx, c.sourceFile, analyze.Options{
		ProjectPath:       cfg.ProjectPath,
		ExcludePatterns:   cfg.ExcludePatterns,
		IncludePatterns:   cfg.IncludePatterns,
		SeverityThreshold: cfg.SeverityThreshold,
		Strict:            cfg.StrictTypes,
	})
	if err != nil {
		return nil, err
	}
	return &RunOutcome{
		Output: report.RawOutput,
		Issues: report.Issues,
		Metadata: map[string]any{
			"tool":        report.Tool,
			"issue_count": len(report.Issues),
		},
	}, nil
}

// -----------------------------------------------------------------------------
// Syntax check
// -----------------------------------------------------------------------------

// SyntaxCheck verifies the target parses. Any issue fails the attempt:
// the syntax analyzer only reports blocking problems.
type SyntaxCheck struct {
	analyzerCheck
}

// NewSyntaxCheck creates a syntax check for sourceFile.
func NewSyntaxCheck(analyzer analyze.Analyzer, sourceFile string) *SyntaxCheck {
	return &SyntaxCheck{analyzerCheck{
		name:       fmt.Sprintf("syntax_check_%s", sourceFile),
		category:   model.CategoryStatic,
		describe:   fmt.Sprintf("Syntax validation for %s", sourceFile),
		sourceFile: sourceFile,
		analyzer:   analyzer,
	}}
}

// Validate passes when the attempt produced no issues.
func (c *SyntaxCheck) Validate(attempt *model.Attempt) bool {
	if attempt == nil || attempt.Status == model.StatusError {
		return false
	}
	return len(attempt.Issues) == 0
}

// -----------------------------------------------------------------------------
// Type check
// -----------------------------------------------------------------------------

// TypeCheck verifies type annotations. Error-level findings always
// fail; in strict mode warnings fail as well.
type TypeCheck struct {
	analyzerCheck
	strict bool
}

// NewTypeCheck creates a type check for sourceFile.
func NewTypeCheck(analyzer analyze.Analyzer, sourceFile string, strict bool) *TypeCheck {
	return &TypeCheck{
		analyzerCheck: analyzerCheck{
			name:       fmt.Sprintf("type_check_%s", sourceFile),
			category:   model.CategoryStatic,
			describe:   fmt.Sprintf("Type annotation validation for %s", sourceFile),
			sourceFile: sourceFile,
			analyzer:   analyzer,
		},
		strict: strict,
	}
}

// Validate passes when no error-level findings were recorded. Strict
// mode additionally fails on warnings.
func (c *TypeCheck) Validate(attempt *model.Attempt) bool {
	if attempt == nil || attempt.Status == model.StatusError {
		return false
	}
	for _, issue := range attempt.Issues {
		if issue.Severity >= model.SeverityHigh {
			return false
		}
		if c.strict && issue.Severity == model.SeverityMedium {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Security check
// -----------------------------------------------------------------------------

// SecurityCheck scans for vulnerabilities. Critical findings always
// fail. High findings fail when the configured threshold is high or
// critical.
type SecurityCheck struct {
	analyzerCheck
	threshold model.Severity
}

// NewSecurityCheck creates a security check for sourceFile with the
// given blocking threshold.
func NewSecurityCheck(analyzer analyze.Analyzer, sourceFile string, threshold model.Severity) *SecurityCheck {
	return &SecurityCheck{
		analyzerCheck: analyzerCheck{
			name:       fmt.Sprintf("security_check_%s", sourceFile),
			category:   model.CategoryStatic,
			describe:   fmt.Sprintf("Security vulnerability scan for %s", sourceFile),
			sourceFile: sourceFile,
			analyzer:   analyzer,
		},
		threshold: threshold,
	}
}

// Validate applies the blocking policy: any critical finding fails,
// and high findings fail when the threshold is at least high.
func (c *SecurityCheck) Validate(attempt *model.Attempt) bool {
	if attempt == nil || attempt.Status == model.StatusError {
		return false
	}
	critical := 0
	high := 0
	for _, issue := range attempt.Issues {
		switch issue.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityHigh:
			high++
		}
	}
	if critical > 0 {
		return false
	}
	if high > 0 && c.threshold >= model.SeverityHigh {
		return false
	}
	return true
}

// =============================================================================
// CUSTOM CHECK
// =============================================================================

// RunFunc executes a custom check once.
type RunFunc func(ctx context.Context, cfg model.RunConfig) (*RunOutcome, error)

// ValidateFunc judges a custom check attempt.
type ValidateFunc func(attempt *model.Attempt) bool

// CustomCheck adapts caller-supplied functions to the Case contract.
// Useful for tests and for checks that do not wrap an analysis tool.
type CustomCheck struct {
	CheckName        string
	CheckCategory    model.Category
	CheckDescription string
	Target           string
	RunFn            RunFunc
	ValidateFn       ValidateFunc
}

// Name returns the check name.
func (c *CustomCheck) Name() string { return c.CheckName }

// Category returns the check category, defaulting to static.
func (c *CustomCheck) Category() model.Category {
	if c.CheckCategory == "" {
		return model.CategoryStatic
	}
	return c.CheckCategory
}

// Describe returns the check description.
func (c *CustomCheck) Describe() string { return c.CheckDescription }

// SourceFile returns the target under test.
func (c *CustomCheck) SourceFile() string { return c.Target }

// Run invokes the supplied run function.
func (c *CustomCheck) Run(ctx context.Context, cfg model.RunConfig) (*RunOutcome, error) {
	if c.RunFn == nil {
		return &RunOutcome{}, nil
	}
	return c.RunFn(ctx, cfg)
}

// Validate invokes the supplied validation function. With no function
// configured, an attempt passes when it produced no issues.
func (c *CustomCheck) Validate(attempt *model.Attempt) bool {
	if attempt == nil || attempt.Status == model.StatusError {
		return false
	}
	if c.ValidateFn == nil {
		return len(attempt.Issues) == 0
	}
	return c.ValidateFn(attempt)
}
