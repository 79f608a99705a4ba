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
	"os"
	"strconv"
	"strings"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// syntaxProbe is the inline program handed to the interpreter. It
// parses the target with the ast module and reports a syntax error as a
// single machine-readable line on stdout.
const syntaxProbe = `import ast, sys
path = sys.argv[1]
try:
    with open(path, "r", encoding="utf-8") as f:
        ast.parse(f.read(), filename=path)
    print("OK")
except SyntaxError as e:
    print("SYNTAX\t%d\t%d\t%s" % (e.lineno or 0, e.offset or 0, e.msg or "syntax error"))
    sys.exit(1)
`

// SyntaxAnalyzer checks Python sources for syntax errors by delegating
// to the interpreter's ast parser.
//
// Thread Safety: Safe for concurrent use.
type SyntaxAnalyzer struct {
	runner      *ToolRunner
	interpreter string
}

// NewSyntaxAnalyzer creates a syntax analyzer backed by the given
// interpreter binary ("python3" when empty).
func NewSyntaxAnalyzer(runner *ToolRunner, interpreter string) *SyntaxAnalyzer {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &SyntaxAnalyzer{runner: runner, interpreter: interpreter}
}

// Name returns the tool name.
func (a *SyntaxAnalyzer) Name() string {
	return "ast"
}

// Analyze parses the source file and reports at most one issue: the
// first syntax error the parser hits.
//
// Outputs:
//
//	*Report - One critical issue per syntax error, none when clean.
//	error - *ToolError when the interpreter is missing or fails.
func (a *SyntaxAnalyzer) Analyze(ctx context.Context, sourcePath string, opts Options) (*Report, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if sourcePath == "" {
		return nil, fmt.Errorf("%w: sourcePath must not be empty", ErrInvalidInput)
	}

	absPath, err := a.runner.resolvePath(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		report := &Report{Tool: a.Name(), RawOutput: "file not found"}
		report.Issues = append(report.Issues, model.Issue{
			File:       sourcePath,
			Message:    fmt.Sprintf("File not found: %s", sourcePath),
			Severity:   model.SeverityCritical,
			RuleID:     "FILE_NOT_FOUND",
			Tool:       a.Name(),
			ErrorCode:  "E001",
			Suggestion: "Ensure the file path is correct and the file exists",
		})
		return report, nil
	}

	if !a.runner.IsAvailable(a.interpreter) {
		return nil, NewToolError(a.interpreter, ErrToolNotInstalled)
	}

	output, err := a.runner.Execute(ctx, a.interpreter, "-c", syntaxProbe, absPath)
	if err != nil {
		return nil, err
	}

	report := &Report{Tool: a.Name(), RawOutput: string(output)}
	report.Issues = ParseSyntaxProbeOutput(output, sourcePath)
	for i := range report.Issues {
		report.Issues[i].Clamp()
	}
	return report, nil
}

// ParseSyntaxProbeOutput parses the probe's tab-separated error line.
// A report of "OK" (or anything unrecognized) yields no issues.
func ParseSyntaxProbeOutput(output []byte, sourcePath string) []model.Issue {
	var issues []model.Issue
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "\t", 4)
		if len(fields) != 4 || fields[0] != "SYNTAX" {
			continue
		}
		lineNo, _ := strconv.Atoi(fields[1])
		colNo, _ := strconv.Atoi(fields[2])
		issues = append(issues, model.Issue{
			File:       sourcePath,
			Line:       lineNo,
			Column:     colNo,
			Message:    fields[3],
			Severity:   model.SeverityCritical,
			RuleID:     "SYNTAX_ERROR",
			Tool:       "ast",
			ErrorCode:  "E002",
			Suggestion: "Fix the syntax error according to the language rules",
		})
	}
	return issues
}
