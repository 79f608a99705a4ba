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

	"github.com/fixchain/fixchain/services/fixchain/rag"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	reasoningBugID     string // Metadata bug ID
	reasoningTestName  string // Metadata test name
	reasoningIteration int    // Metadata iteration
	reasoningCategory  string // Metadata category
	reasoningSource    string // Metadata source
	searchLimit        int    // Max search hits
	searchBugID        string // Search filter: bug ID
	searchTestName     string // Search filter: test name
)

// =============================================================================
// REASONING COMMANDS
// =============================================================================

var reasoningCmd = &cobra.Command{
	Use:   "reasoning",
	Short: "Work with the fix reasoning store",
	Long: `The reasoning store holds natural-language explanations of fixes,
embedded for semantic search. The server mirrors attempt narratives
into it automatically; these commands add, query, and prune entries.`,
}

var reasoningAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store one reasoning entry",
	Long: `Stores one reasoning entry with its required metadata.

Example:
  fixchainctl reasoning add "Fixed the circular import by moving the type alias" \
    --bug-id BUG-42 --test-name syntax_check_main.py --iteration 2 \
    --category static --source manual`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newClient().storeReasoning(cmd.Context(), args[0], rag.Metadata{
			BugID:     reasoningBugID,
			TestName:  reasoningTestName,
			Iteration: reasoningIteration,
			Category:  reasoningCategory,
			Source:    reasoningSource,
		})
		if err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Println("Stored", id)
		}
		return nil
	},
}

var reasoningSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search reasoning by meaning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter *rag.Filter
		if searchBugID != "" || searchTestName != "" {
			filter = &rag.Filter{BugID: searchBugID, TestName: searchTestName}
		}

		results, err := newClient().searchReasoning(cmd.Context(), args[0], searchLimit, filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			return nil
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, hit := range results {
			fmt.Printf("%.3f  %s  (bug %s, iteration %d)\n",
				hit.Score, hit.Document.Metadata.TestName,
				hit.Document.Metadata.BugID, hit.Document.Metadata.Iteration)
			fmt.Printf("       %s\n", hit.Document.Content)
		}
		return nil
	},
}

var reasoningDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one reasoning entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().deleteReasoning(cmd.Context(), args[0]); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Println("Deleted", args[0])
		}
		return nil
	},
}

var reasoningDeleteBugCmd = &cobra.Command{
	Use:   "delete-bug <bug-id>",
	Short: "Delete every reasoning entry for a bug",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newClient().deleteReasoningByBug(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Printf("Deleted %d entries for %s\n", n, args[0])
		}
		return nil
	},
}

var reasoningStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show reasoning store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newClient().reasoningStats(cmd.Context())
		if err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Printf("Documents:  %d\n", stats.DocumentCount)
			fmt.Printf("Dimensions: %d\n", stats.Dimensions)
		}
		return nil
	},
}

func init() {
	reasoningAddCmd.Flags().StringVar(&reasoningBugID, "bug-id", "", "Bug ID (required)")
	reasoningAddCmd.Flags().StringVar(&reasoningTestName, "test-name", "", "Test name (required)")
	reasoningAddCmd.Flags().IntVar(&reasoningIteration, "iteration", 1, "Iteration number")
	reasoningAddCmd.Flags().StringVar(&reasoningCategory, "category", "static", "Test category")
	reasoningAddCmd.Flags().StringVar(&reasoningSource, "source", "manual", "Reasoning source")

	reasoningSearchCmd.Flags().IntVar(&searchLimit, "limit", 5, "Maximum hits")
	reasoningSearchCmd.Flags().StringVar(&searchBugID, "bug-id", "", "Only match this bug ID")
	reasoningSearchCmd.Flags().StringVar(&searchTestName, "test-name", "", "Only match this test name")

	reasoningCmd.AddCommand(reasoningAddCmd)
	reasoningCmd.AddCommand(reasoningSearchCmd)
	reasoningCmd.AddCommand(reasoningDeleteCmd)
	reasoningCmd.AddCommand(reasoningDeleteBugCmd)
	reasoningCmd.AddCommand(reasoningStatsCmd)
}
