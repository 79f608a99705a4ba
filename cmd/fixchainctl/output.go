// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/fixchain/fixchain/services/fixchain/executor"
	"github.com/fixchain/fixchain/services/fixchain/model"
)

// =============================================================================
// TERMINAL OUTPUT
// =============================================================================

// ANSI colors, applied only on a real terminal.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorDim    = "\033[2m"
)

// useColor reports whether stdout is a terminal that can take ANSI
// escapes. Piped output (CI, scripts) stays plain.
func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// colorize wraps s in the given color when stdout is a terminal.
func colorize(color, s string) string {
	if !useColor() {
		return s
	}
	return color + s + colorReset
}

// statusLabel renders a final status with color.
func statusLabel(status model.Status) string {
	switch status {
	case model.StatusPassed:
		return colorize(colorGreen, "PASSED")
	case model.StatusFailed:
		return colorize(colorRed, "FAILED")
	case model.StatusError:
		return colorize(colorYellow, "ERROR")
	default:
		return string(status)
	}
}

// printResult writes a human-readable summary of one stored result.
func printResult(stored *executor.StoredResult) {
	if jsonOutput || stored == nil || stored.Result == nil {
		return
	}
	result := stored.Result

	fmt.Printf("%s  %s  (%d/%d iterations, %.0f%% success)\n",
		statusLabel(result.FinalStatus), result.TestName,
		len(result.Attempts), result.MaxIterations, result.SuccessRate()*100)
	fmt.Printf("%s\n", colorize(colorDim, "  id: "+stored.ID+"  bug: "+stored.BugID))

	for i := range result.Attempts {
		attempt := &result.Attempts[i]
		fmt.Printf("  iteration %d: %s", attempt.Iteration, attempt.Status)
		if attempt.Message != "" {
			fmt.Printf(" (%s)", attempt.Message)
		}
		fmt.Println()
		for _, issue := range attempt.Issues {
			fmt.Printf("    %s %s:%d %s\n",
				colorize(colorYellow, "["+issue.Severity.String()+"]"),
				issue.File, issue.Line, issue.Message)
		}
	}
}

// printSuite writes a human-readable summary of a suite run.
func printSuite(suite *model.SuiteResult) {
	if jsonOutput || suite == nil {
		return
	}

	fmt.Printf("Suite %s: %d passed, %d failed, %d errors (%d total)\n",
		suite.SuiteName, suite.PassedTests, suite.FailedTests,
		suite.ErrorTests, suite.TotalTests)
	for _, result := range suite.TestResults {
		fmt.Printf("  %s  %s (%d iterations)\n",
			statusLabel(result.FinalStatus), result.TestName, len(result.Attempts))
	}
}
