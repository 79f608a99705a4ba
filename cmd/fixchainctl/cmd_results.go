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

	"github.com/spf13/cobra"
)

// =============================================================================
// RESULTS COMMANDS
// =============================================================================

var resultsTestName string // Filter list output by test name

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect stored test results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored test results",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := newClient().listResults(cmd.Context(), resultsTestName)
		if err != nil {
			return err
		}
		if jsonOutput {
			return nil
		}
		if len(results) == 0 {
			fmt.Println("No stored results.")
			return nil
		}
		for i := range results {
			stored := &results[i]
			if stored.Result == nil {
				continue
			}
			fmt.Printf("%s  %s  %s  (%d iterations, stored %s)\n",
				statusLabel(stored.Result.FinalStatus), stored.ID,
				stored.Result.TestName, len(stored.Result.Attempts),
				stored.StoredAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var resultsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one stored result with every attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stored, err := newClient().getResult(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(stored)
		return nil
	},
}

var resultsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one stored result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().deleteResult(cmd.Context(), args[0]); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Println("Deleted", args[0])
		}
		return nil
	},
}

var resultsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the server's execution history and run statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		history, stats, err := newClient().history(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return nil
		}
		for _, h := range history {
			fmt.Printf("%s  %s  %d iterations  %s\n",
				statusLabel(h.FinalStatus), h.TestName, h.Iterations,
				h.StartTime.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Runs: %d total, %d passed, %d failed, %d errors (%.0f%% success)\n",
			stats.TotalRuns, stats.PassedRuns, stats.FailedRuns,
			stats.ErrorRuns, stats.SuccessRate*100)
		return nil
	},
}

func init() {
	resultsListCmd.Flags().StringVar(&resultsTestName, "test-name", "",
		"Only show results for this test name")

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsGetCmd)
	resultsCmd.AddCommand(resultsDeleteCmd)
	resultsCmd.AddCommand(resultsHistoryCmd)
}
