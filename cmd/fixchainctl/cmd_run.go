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
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/fixchain/fixchain/services/fixchain/executor"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runBugID         string // Reasoning group for this run
	runMaxIterations int    // Override the server's iteration budget
	runWatch         bool   // Re-run on file changes
	suiteName        string // Name for the suite run
)

// =============================================================================
// RUN COMMAND
// =============================================================================

var runCmd = &cobra.Command{
	Use:   "run <type> <source-file>",
	Short: "Run one quality check against a source file",
	Long: `Runs one quality check with the server's iteration budget.

The check retries up to the budget; each attempt is recorded. With
--watch, the check re-runs every time the file changes on disk.

Examples:
  fixchainctl run syntax_check app/main.py
  fixchainctl run type_check app/main.py --max-iterations 3
  fixchainctl run security_check app/main.py --watch`,
	Args: cobra.ExactArgs(2),
	RunE: runRunCommand,
}

func init() {
	runCmd.Flags().StringVar(&runBugID, "bug-id", "",
		"Bug ID grouping this run's reasoning documents")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0,
		"Override the server's iteration budget")
	runCmd.Flags().BoolVar(&runWatch, "watch", false,
		"Re-run the check whenever the file changes")
}

func runRunCommand(cmd *cobra.Command, args []string) error {
	client := newClient()
	req := executor.TestRequest{
		Type:          args[0],
		SourceFile:    args[1],
		BugID:         runBugID,
		MaxIterations: runMaxIterations,
	}

	if !runWatch {
		stored, err := client.runTest(cmd.Context(), req)
		if err != nil {
			return err
		}
		printResult(stored)
		return exitCodeFor(stored)
	}
	return watchAndRun(cmd.Context(), client, req)
}

// exitCodeFor makes a failing check fail the CLI too, so the command
// composes with shell scripts and CI.
func exitCodeFor(stored *executor.StoredResult) error {
	if stored == nil || stored.Result == nil || stored.Result.FinalResult == nil {
		return nil
	}
	if !*stored.Result.FinalResult {
		return fmt.Errorf("check %s did not pass", stored.Result.TestName)
	}
	return nil
}

// watchAndRun re-runs the check on every write to the source file.
// Editors often replace files instead of writing in place, so the
// watch is on the directory and events are debounced.
func watchAndRun(ctx context.Context, client *apiClient, req executor.TestRequest) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	dir := "."
	if i := strings.LastIndexByte(req.SourceFile, '/'); i >= 0 {
		dir = req.SourceFile[:i]
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func() {
		stored, err := client.runTest(ctx, req)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return
		}
		printResult(stored)
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", req.SourceFile)
	runOnce()

	// Debounce bursts of events from a single save.
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != req.SourceFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(300*time.Millisecond, runOnce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "Watch error:", err)
		}
	}
}

// =============================================================================
// SUITE COMMAND
// =============================================================================

var suiteCmd = &cobra.Command{
	Use:   "suite <type:source-file> [<type:source-file>...]",
	Short: "Run several checks as one suite",
	Long: `Runs several checks and aggregates them into a suite result.

Each argument is a type:file pair.

Example:
  fixchainctl suite syntax_check:app/main.py type_check:app/main.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSuiteCommand,
}

func init() {
	suiteCmd.Flags().StringVar(&suiteName, "name", "cli", "Suite name")
}

func runSuiteCommand(cmd *cobra.Command, args []string) error {
	reqs := make([]executor.TestRequest, 0, len(args))
	for _, arg := range args {
		testType, sourceFile, ok := strings.Cut(arg, ":")
		if !ok || testType == "" || sourceFile == "" {
			return fmt.Errorf("invalid test %q, expected type:source-file", arg)
		}
		reqs = append(reqs, executor.TestRequest{Type: testType, SourceFile: sourceFile})
	}

	suite, err := newClient().runSuite(cmd.Context(), suiteName, reqs)
	if err != nil {
		return err
	}
	printSuite(suite)
	if suite.PassedTests < suite.TotalTests {
		return fmt.Errorf("%d of %d checks did not pass",
			suite.TotalTests-suite.PassedTests, suite.TotalTests)
	}
	return nil
}

// =============================================================================
// STATUS COMMAND
// =============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and registered test types",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		health, err := client.health(cmd.Context())
		if err != nil {
			return err
		}
		types, err := client.testTypes(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return nil
		}
		fmt.Printf("Server:    %s\n", serverURL)
		fmt.Printf("Status:    %v\n", health["status"])
		fmt.Printf("Reasoning: %v\n", health["reasoning_enabled"])
		fmt.Printf("Types:     %s\n", strings.Join(types, ", "))
		return nil
	},
}
