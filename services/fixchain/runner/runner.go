// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner coordinates the execution of registered test cases:
// one at a time, as a full suite, or filtered by category. It owns the
// append-only execution history.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fixchain/fixchain/services/fixchain/model"
	"github.com/fixchain/fixchain/services/fixchain/testsuite"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateTest is returned when registering a name twice.
	ErrDuplicateTest = errors.New("test already registered")

	// ErrTestNotFound is returned when a named test is not registered.
	ErrTestNotFound = errors.New("test not registered")
)

// =============================================================================
// HISTORY
// =============================================================================

// HistoryEntry summarizes one completed test run.
type HistoryEntry struct {
	TestName    string         `json:"test_name"`
	Category    model.Category `json:"category"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Duration    time.Duration  `json:"duration"`
	Iterations  int            `json:"iterations"`
	FinalStatus model.Status   `json:"final_status"`
	FinalResult *bool          `json:"final_result,omitempty"`
	SuccessRate float64        `json:"success_rate"`
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes registered test cases and records their history.
//
// Registration order is preserved: sequential runs execute tests in the
// order they were registered.
//
// Thread Safety: Safe for concurrent use.
type Runner struct {
	cfg    model.RunConfig
	logger *slog.Logger

	mu      sync.RWMutex
	tests   map[string]testsuite.Case
	order   []string
	history []HistoryEntry
}

// Option configures the Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a runner with the given configuration.
func New(cfg model.RunConfig, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	r := &Runner{
		cfg:    cfg,
		logger: slog.Default(),
		tests:  make(map[string]testsuite.Case),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "test_runner"))
	return r, nil
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// Register adds a test case. Duplicate names are rejected.
func (r *Runner) Register(tc testsuite.Case) error {
	if tc == nil {
		return testsuite.ErrNilCase
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tc.Name()
	if _, exists := r.tests[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTest, name)
	}
	r.tests[name] = tc
	r.order = append(r.order, name)

	r.logger.Info("Test registered",
		slog.String("test", name),
		slog.String("category", string(tc.Category())),
	)
	return nil
}

// Remove unregisters a test by name.
func (r *Runner) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tests[name]; !exists {
		return fmt.Errorf("%w: %s", ErrTestNotFound, name)
	}
	delete(r.tests, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a registered test by name.
func (r *Runner) Get(name string) (testsuite.Case, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.tests[name]
	return tc, ok
}

// Names returns the registered test names in registration order.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered tests.
func (r *Runner) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tests)
}

// Clear removes every registered test. History is retained.
func (r *Runner) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests = make(map[string]testsuite.Case)
	r.order = nil
}

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

// RunTest executes one registered test through its iteration budget and
// appends the outcome to the history.
func (r *Runner) RunTest(ctx context.Context, name string) (*model.Result, error) {
	r.mu.RLock()
	tc, ok := r.tests[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, name)
	}
	return r.execute(ctx, tc)
}

// RunAll executes every registered test and aggregates the outcomes
// into a suite result.
//
// Description:
//
//	With parallelism 1 tests run sequentially in registration order.
//	With higher parallelism a weighted semaphore bounds concurrent
//	workers; a failing or panicking test never disturbs its siblings,
//	it is recorded as an error result instead. The returned suite
//	preserves registration order regardless of completion order.
func (r *Runner) RunAll(ctx context.Context, suiteName string) (*model.SuiteResult, error) {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	cases := make([]testsuite.Case, 0, len(names))
	for _, name := range names {
		cases = append(cases, r.tests[name])
	}
	r.mu.RUnlock()

	suite := &model.SuiteResult{
		SuiteName: suiteName,
		StartTime: time.Now(),
	}

	results := make([]*model.Result, len(cases))
	if r.cfg.Parallelism <= 1 {
		for i, tc := range cases {
			results[i] = r.executeIsolated(ctx, tc)
		}
	} else {
		sem := semaphore.NewWeighted(int64(r.cfg.Parallelism))
		var wg sync.WaitGroup
		for i, tc := range cases {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = r.errorResult(tc, err)
				continue
			}
			wg.Add(1)
			go func(i int, tc testsuite.Case) {
				defer wg.Done()
				defer sem.Release(1)
				results[i] = r.executeIsolated(ctx, tc)
			}(i, tc)
		}
		wg.Wait()
	}

	suite.TestResults = results
	suite.EndTime = time.Now()
	suite.UpdateCounts()

	r.logger.Info("Suite completed",
		slog.String("suite", suiteName),
		slog.Int("total", suite.TotalTests),
		slog.Int("passed", suite.PassedTests),
		slog.Int("failed", suite.FailedTests),
		slog.Int("errors", suite.ErrorTests),
	)
	return suite, nil
}

// RunByCategory executes only the tests of one category. The full
// registration is restored afterwards even if the run fails.
func (r *Runner) RunByCategory(ctx context.Context, category model.Category) (*model.SuiteResult, error) {
	r.mu.Lock()
	savedTests := r.tests
	savedOrder := r.order

	filtered := make(map[string]testsuite.Case)
	var filteredOrder []string
	for _, name := range savedOrder {
		if tc := savedTests[name]; tc.Category() == category {
			filtered[name] = tc
			filteredOrder = append(filteredOrder, name)
		}
	}
	r.tests = filtered
	r.order = filteredOrder
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.tests = savedTests
		r.order = savedOrder
		r.mu.Unlock()
	}()

	return r.RunAll(ctx, fmt.Sprintf("%s_suite", category))
}

// execute runs one case through a fresh controller and records history.
func (r *Runner) execute(ctx context.Context, tc testsuite.Case) (*model.Result, error) {
	ctrl, err := testsuite.NewController(tc, r.cfg, testsuite.WithControllerLogger(r.logger))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := ctrl.Execute(ctx)
	if result != nil {
		r.recordHistory(tc, result, start)
	}
	return result, err
}

// executeIsolated runs one case and converts any failure, including a
// panic inside the case, into an error result.
func (r *Runner) executeIsolated(ctx context.Context, tc testsuite.Case) (result *model.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Test panicked",
				slog.String("test", tc.Name()),
				slog.Any("panic", rec),
			)
			result = r.errorResult(tc, fmt.Errorf("test panicked: %v", rec))
		}
	}()

	result, err := r.execute(ctx, tc)
	if err != nil && result == nil {
		result = r.errorResult(tc, err)
	}
	return result
}

// errorResult builds a terminal error result for a test that could not
// run at all.
func (r *Runner) errorResult(tc testsuite.Case, err error) *model.Result {
	result := model.NewResult(tc.Name(), tc.Category(), tc.SourceFile(), r.cfg.MaxIterations)
	result.Description = tc.Describe()
	result.Finalize(model.StatusError, false)
	r.logger.Warn("Test could not run",
		slog.String("test", tc.Name()),
		slog.String("error", err.Error()),
	)
	return result
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

func (r *Runner) recordHistory(tc testsuite.Case, result *model.Result, start time.Time) {
	end := time.Now()
	entry := HistoryEntry{
		TestName:    result.TestName,
		Category:    tc.Category(),
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Iterations:  len(result.Attempts),
		FinalStatus: result.FinalStatus,
		FinalResult: result.FinalResult,
		SuccessRate: result.SuccessRate(),
	}
	r.mu.Lock()
	r.history = append(r.history, entry)
	r.mu.Unlock()
}

// History returns a copy of the execution history, oldest first.
func (r *Runner) History() []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HistoryEntry, len(r.history))
	copy(out, r.history)
	return out
}

// ClearHistory discards the execution history.
func (r *Runner) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// Stats summarizes the execution history.
type Stats struct {
	TotalRuns     int     `json:"total_runs"`
	PassedRuns    int     `json:"passed_runs"`
	FailedRuns    int     `json:"failed_runs"`
	ErrorRuns     int     `json:"error_runs"`
	TotalAttempts int     `json:"total_attempts"`
	SuccessRate   float64 `json:"success_rate"`
}

// HistoryStats computes aggregate statistics over the history.
func (r *Runner) HistoryStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ComputeStats(r.history)
}

// ComputeStats aggregates history entries into run statistics.
func ComputeStats(entries []HistoryEntry) Stats {
	stats := Stats{TotalRuns: len(entries)}
	for _, h := range entries {
		stats.TotalAttempts += h.Iterations
		switch {
		case h.FinalResult != nil && *h.FinalResult:
			stats.PassedRuns++
		case h.FinalStatus == model.StatusError:
			stats.ErrorRuns++
		default:
			stats.FailedRuns++
		}
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.PassedRuns) / float64(stats.TotalRuns)
	}
	return stats
}
