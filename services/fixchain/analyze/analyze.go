// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyze wraps external source-analysis tools behind a uniform
// Analyzer contract. Each analyzer runs one tool against one source
// file and converts its output into structured issues.
//
// Analyzers are collaborators of the test suite: the iteration
// controller never depends on any concrete tool, only on the Analyzer
// interface.
package analyze

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidInput is returned for nil contexts or empty paths.
	ErrInvalidInput = errors.New("invalid input")

	// ErrToolNotInstalled is returned when the tool binary is not in PATH.
	ErrToolNotInstalled = errors.New("analysis tool not installed")

	// ErrToolTimeout is returned when the tool exceeds its timeout.
	ErrToolTimeout = errors.New("analysis tool timed out")

	// ErrToolFailed is returned when the tool process fails without
	// producing parseable output.
	ErrToolFailed = errors.New("analysis tool failed")

	// ErrParseOutput is returned when tool output cannot be parsed.
	ErrParseOutput = errors.New("failed to parse tool output")
)

// ToolError wraps a tool failure with the tool name and captured stderr.
type ToolError struct {
	Tool   string
	Err    error
	Output string
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError creates a ToolError.
func NewToolError(tool string, err error) *ToolError {
	return &ToolError{Tool: tool, Err: err}
}

// WithOutput attaches captured output to the error.
func (e *ToolError) WithOutput(output string) *ToolError {
	e.Output = output
	return e
}

// =============================================================================
// ANALYZER CONTRACT
// =============================================================================

// Report is the outcome of one analyzer invocation.
//
// Thread Safety: Immutable after creation.
type Report struct {
	// Tool is the name of the tool that produced the report.
	Tool string

	// Issues are the structured findings, positions clamped.
	Issues []model.Issue

	// RawOutput is the unparsed tool output, kept for logs.
	RawOutput string
}

// Options is the explicit, enumerated configuration accepted by every
// analyzer. Fields an analyzer does not use are ignored.
type Options struct {
	// ProjectPath is the working directory for the tool.
	ProjectPath string

	// ConfigFile is a tool-specific configuration file, if any.
	ConfigFile string

	// ExcludePatterns are path substrings excluded from analysis.
	ExcludePatterns []string

	// IncludePatterns are path substrings included in analysis.
	IncludePatterns []string

	// SeverityThreshold is the minimum severity a finding must have to
	// be reported. Only the security analyzer honors this.
	SeverityThreshold model.Severity

	// Strict enables strict mode for tools that support it.
	Strict bool
}

// Analyzer runs one external tool against one source file.
//
// Implementations must not panic on tool failure: a broken or missing
// tool is reported through the error return, which callers convert into
// an error-status attempt.
type Analyzer interface {
	// Name returns the tool name (e.g. "ast", "mypy", "bandit").
	Name() string

	// Analyze runs the tool against sourcePath.
	Analyze(ctx context.Context, sourcePath string, opts Options) (*Report, error)
}

// =============================================================================
// TOOL RUNNER
// =============================================================================

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 60 * time.Second

// ToolRunner executes analysis tool subprocesses with timeout handling
// and availability probing.
//
// Thread Safety: Safe for concurrent use.
type ToolRunner struct {
	workingDir string
	timeout    time.Duration
	logger     *slog.Logger

	availMu   sync.RWMutex
	available map[string]bool
}

// RunnerOption configures the ToolRunner.
type RunnerOption func(*ToolRunner)

// WithWorkingDir sets the working directory for tool execution.
func WithWorkingDir(dir string) RunnerOption {
	return func(r *ToolRunner) {
		r.workingDir = dir
	}
}

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *ToolRunner) {
		r.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *ToolRunner) {
		r.logger = logger
	}
}

// NewToolRunner creates a tool runner with defaults applied.
func NewToolRunner(opts ...RunnerOption) *ToolRunner {
	r := &ToolRunner{
		timeout:   DefaultToolTimeout,
		logger:    slog.Default(),
		available: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "tool_runner"))
	return r
}

// Detect probes the system PATH for each named tool and caches the
// result.
//
// Outputs:
//
//	map[string]bool - Tool name to availability.
//
// Thread Safety: Safe for concurrent use.
func (r *ToolRunner) Detect(tools ...string) map[string]bool {
	r.availMu.Lock()
	defer r.availMu.Unlock()

	result := make(map[string]bool, len(tools))
	for _, tool := range tools {
		_, err := exec.LookPath(tool)
		available := err == nil
		r.available[tool] = available
		result[tool] = available

		if available {
			r.logger.Info("Analysis tool available", slog.String("tool", tool))
		} else {
			r.logger.Warn("Analysis tool not installed", slog.String("tool", tool))
		}
	}
	return result
}

// IsAvailable returns whether a tool was detected. Tools that were
// never probed are looked up on demand.
//
// Thread Safety: Safe for concurrent use.
func (r *ToolRunner) IsAvailable(tool string) bool {
	r.availMu.RLock()
	avail, probed := r.available[tool]
	r.availMu.RUnlock()
	if !probed {
		return r.Detect(tool)[tool]
	}
	return avail
}

// Execute runs a tool subprocess and captures its stdout.
//
// Description:
//
//	Runs the command with a timeout. Tools commonly exit non-zero when
//	they find issues, so a non-zero exit with stdout output is treated
//	as success; only a failure with no stdout is an execution error.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	tool - The binary name.
//	args - Arguments, already including the target path.
//
// Outputs:
//
//	[]byte - Captured stdout.
//	error - *ToolError wrapping ErrToolTimeout or ErrToolFailed.
//
// Thread Safety: Safe for concurrent use.
func (r *ToolRunner) Execute(ctx context.Context, tool string, args ...string) ([]byte, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, tool, args...)
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, NewToolError(tool, ErrToolTimeout).WithOutput(stderr.String())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Non-zero exit with findings on stdout is a normal outcome.
	if err != nil && stdout.Len() == 0 && stderr.Len() == 0 {
		return nil, NewToolError(tool, ErrToolFailed)
	}

	r.logger.Debug("Tool execution completed",
		slog.String("tool", tool),
		slog.Duration("duration", time.Since(start)),
		slog.Int("stdout_bytes", stdout.Len()),
	)

	// Stderr carries the findings for some tools; hand both back.
	if stdout.Len() == 0 {
		return stderr.Bytes(), nil
	}
	return stdout.Bytes(), nil
}

// resolvePath makes sourcePath absolute relative to the working dir.
func (r *ToolRunner) resolvePath(sourcePath string) (string, error) {
	if filepath.IsAbs(sourcePath) {
		return sourcePath, nil
	}
	if r.workingDir != "" {
		return filepath.Join(r.workingDir, sourcePath), nil
	}
	return filepath.Abs(sourcePath)
}
