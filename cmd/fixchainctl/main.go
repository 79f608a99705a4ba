// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fixchainctl is the CLI for a running FixChain server.
//
// Examples:
//
//	fixchainctl run syntax_check app/main.py
//	fixchainctl run type_check app/main.py --max-iterations 3
//	fixchainctl run security_check app/main.py --watch
//	fixchainctl results list
//	fixchainctl reasoning search "missing import"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var (
	serverURL  string // Base URL of the FixChain server
	jsonOutput bool   // Raw JSON output for scripting
)

var rootCmd = &cobra.Command{
	Use:   "fixchainctl",
	Short: "Control a running FixChain server",
	Long: `fixchainctl talks to the FixChain HTTP API.

It runs quality checks with iterative fix budgets, inspects stored
results, and queries the fix reasoning store.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("FIXCHAIN_SERVER", "http://localhost:8090"),
		"FixChain server base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output raw JSON for scripting")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(suiteCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(reasoningCmd)
	rootCmd.AddCommand(statusCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
