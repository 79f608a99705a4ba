// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrIterationBudgetExceeded is returned when an attempt is made to
	// run past max_iterations. Always surfaced, never swallowed.
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")

	// ErrIterationOrder is returned when an attempt's iteration number
	// does not follow the strict 1,2,3,... sequence.
	ErrIterationOrder = errors.New("attempt iteration out of order")
)

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// Result aggregates all attempts for one named test against one source
// target.
//
// Invariants:
//   - len(Attempts) <= MaxIterations at all times.
//   - Attempt iterations are exactly 1..len(Attempts) in order.
//   - FinalResult is true only if at least one attempt passed.
//
// Thread Safety: NOT safe for concurrent use. A Result is owned by
// exactly one iteration controller at a time.
type Result struct {
	// TestName is the name of the test this result belongs to.
	TestName string `json:"test_name"`

	// Category is the test category.
	Category Category `json:"category"`

	// SourceFile is the target that was tested.
	SourceFile string `json:"source_file,omitempty"`

	// Description is the test description.
	Description string `json:"description,omitempty"`

	// MaxIterations is the iteration budget. Always >= 1.
	MaxIterations int `json:"max_iterations"`

	// Attempts is the ordered attempt history.
	Attempts []Attempt `json:"attempts"`

	// FinalStatus is the aggregate status of the run.
	FinalStatus Status `json:"final_status"`

	// FinalResult is the aggregate outcome. Nil while undecided.
	FinalResult *bool `json:"final_result,omitempty"`

	// CreatedAt is when the result was created.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the run reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewResult creates a pending Result with the given iteration budget.
// A budget below 1 is raised to 1.
func NewResult(testName string, category Category, sourceFile string, maxIterations int) *Result {
	if maxIterations < 1 {
		maxIterations = 1
	}
	return &Result{
		TestName:      testName,
		Category:      category,
		SourceFile:    sourceFile,
		MaxIterations: maxIterations,
		FinalStatus:   StatusPending,
		CreatedAt:     time.Now(),
	}
}

// CurrentIteration returns the number of attempts recorded so far.
func (r *Result) CurrentIteration() int {
	return len(r.Attempts)
}

// HasRemainingIterations reports whether another attempt fits in the
// budget.
func (r *Result) HasRemainingIterations() bool {
	return r.CurrentIteration() < r.MaxIterations
}

// LastAttempt returns the most recent attempt, or nil if none exist.
func (r *Result) LastAttempt() *Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return &r.Attempts[len(r.Attempts)-1]
}

// SuccessRate returns passed attempts over total attempts, in [0, 1].
// A result with zero attempts has a success rate of 0.
func (r *Result) SuccessRate() float64 {
	if len(r.Attempts) == 0 {
		return 0.0
	}
	passed := 0
	for i := range r.Attempts {
		if r.Attempts[i].Passed() {
			passed++
		}
	}
	return float64(passed) / float64(len(r.Attempts))
}

// TotalDuration returns the sum of all attempt durations.
func (r *Result) TotalDuration() time.Duration {
	var total time.Duration
	for i := range r.Attempts {
		total += r.Attempts[i].Duration()
	}
	return total
}

// AllIssues returns the issues of every attempt, in attempt order.
func (r *Result) AllIssues() []Issue {
	var out []Issue
	for i := range r.Attempts {
		out = append(out, r.Attempts[i].Issues...)
	}
	return out
}

// CriticalIssueCount counts critical issues across all attempts.
func (r *Result) CriticalIssueCount() int {
	return r.countBySeverity(SeverityCritical)
}

// HighIssueCount counts high-severity issues across all attempts.
func (r *Result) HighIssueCount() int {
	return r.countBySeverity(SeverityHigh)
}

func (r *Result) countBySeverity(sev Severity) int {
	n := 0
	for _, issue := range r.AllIssues() {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

// AddAttempt appends an attempt, enforcing the iteration budget and
// strict iteration ordering.
//
// Outputs:
//
//	error - ErrIterationBudgetExceeded when the budget is exhausted,
//	        ErrIterationOrder when the iteration number is not
//	        CurrentIteration()+1.
func (r *Result) AddAttempt(attempt Attempt) error {
	if !r.HasRemainingIterations() {
		return fmt.Errorf("%w: test %s already has %d of %d attempts",
			ErrIterationBudgetExceeded, r.TestName, r.CurrentIteration(), r.MaxIterations)
	}
	if want := r.CurrentIteration() + 1; attempt.Iteration != want {
		return fmt.Errorf("%w: got iteration %d, want %d",
			ErrIterationOrder, attempt.Iteration, want)
	}
	r.Attempts = append(r.Attempts, attempt)
	return nil
}

// Finalize sets the terminal status and result and stamps CompletedAt.
func (r *Result) Finalize(status Status, passed bool) {
	r.FinalStatus = status
	r.FinalResult = BoolPtr(passed)
	now := time.Now()
	r.CompletedAt = &now
}

// -----------------------------------------------------------------------------
// Suite Result
// -----------------------------------------------------------------------------

// SuiteResult aggregates the results of a batch run.
type SuiteResult struct {
	SuiteName    string    `json:"suite_name"`
	Description  string    `json:"description,omitempty"`
	TestResults  []*Result `json:"test_results"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time,omitempty"`
	TotalTests   int       `json:"total_tests"`
	PassedTests  int       `json:"passed_tests"`
	FailedTests  int       `json:"failed_tests"`
	ErrorTests   int       `json:"error_tests"`
	SkippedTests int       `json:"skipped_tests"`
}

// Duration returns the suite wall-clock duration.
func (s *SuiteResult) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// SuccessRate returns passed tests over total tests, 0 when empty.
func (s *SuiteResult) SuccessRate() float64 {
	if s.TotalTests == 0 {
		return 0.0
	}
	return float64(s.PassedTests) / float64(s.TotalTests)
}

// TotalIssues counts issues across every test result.
func (s *SuiteResult) TotalIssues() int {
	n := 0
	for _, tr := range s.TestResults {
		n += len(tr.AllIssues())
	}
	return n
}

// UpdateCounts recomputes the per-status counters from TestResults.
func (s *SuiteResult) UpdateCounts() {
	s.TotalTests = len(s.TestResults)
	s.PassedTests = 0
	s.FailedTests = 0
	s.ErrorTests = 0
	s.SkippedTests = 0
	for _, tr := range s.TestResults {
		switch {
		case tr.FinalResult != nil && *tr.FinalResult:
			s.PassedTests++
		case tr.FinalStatus == StatusError:
			s.ErrorTests++
		case tr.FinalStatus == StatusSkipped:
			s.SkippedTests++
		case tr.FinalResult != nil && !*tr.FinalResult:
			s.FailedTests++
		}
	}
}

// ResultsByCategory returns the results of one category.
func (s *SuiteResult) ResultsByCategory(category Category) []*Result {
	var out []*Result
	for _, tr := range s.TestResults {
		if tr.Category == category {
			out = append(out, tr)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Run Configuration
// -----------------------------------------------------------------------------

// RunConfig is the explicit, enumerated per-run configuration. It
// replaces open option bags: every knob a test variant honors is a named
// field here.
type RunConfig struct {
	// MaxIterations is the default iteration budget per test.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// StopOnFirstSuccess stops iterating after the first passing attempt.
	StopOnFirstSuccess bool `json:"stop_on_first_success" yaml:"stop_on_first_success"`

	// Parallelism is the number of concurrent test workers. 1 means
	// strictly sequential, deterministic ordering.
	Parallelism int `json:"parallelism" yaml:"parallelism"`

	// ProjectPath is the root used by analyzers that scan a project.
	ProjectPath string `json:"project_path,omitempty" yaml:"project_path"`

	// ExcludePatterns are path substrings excluded from analysis.
	ExcludePatterns []string `json:"exclude_patterns,omitempty" yaml:"exclude_patterns"`

	// IncludePatterns are path substrings included in analysis.
	IncludePatterns []string `json:"include_patterns,omitempty" yaml:"include_patterns"`

	// SeverityThreshold is the minimum severity a security finding must
	// have to be reported.
	SeverityThreshold Severity `json:"severity_threshold" yaml:"severity_threshold"`

	// StrictTypes enables strict mode for the type check.
	StrictTypes bool `json:"strict_types" yaml:"strict_types"`
}

// DefaultRunConfig returns the defaults used when no configuration is
// supplied: 5 iterations, stop on first success, sequential execution.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxIterations:      5,
		StopOnFirstSuccess: true,
		Parallelism:        1,
		ExcludePatterns:    []string{"__pycache__", ".git", ".venv"},
		SeverityThreshold:  SeverityLow,
	}
}

// Validate checks the configuration.
func (c *RunConfig) Validate() error {
	if c.MaxIterations < 1 {
		return errors.New("max_iterations must be at least 1")
	}
	if c.Parallelism < 1 {
		return errors.New("parallelism must be at least 1")
	}
	return nil
}
