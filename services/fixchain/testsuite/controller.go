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
	"log/slog"
	"time"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// Controller drives one Case through its iteration budget, recording
// every attempt on a single Result.
//
// State machine per attempt: pending -> running -> passed | failed |
// error. A case error becomes an error-status attempt and is never
// propagated to the caller; only a budget violation surfaces as an
// error from ExecuteIteration.
//
// Thread Safety: NOT safe for concurrent use. One controller owns one
// result.
type Controller struct {
	testCase Case
	cfg      model.RunConfig
	result   *model.Result
	logger   *slog.Logger
}

// ControllerOption configures the Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger.
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a controller for the given case. The
// configuration is validated and the result starts pending with the
// configured iteration budget.
func NewController(testCase Case, cfg model.RunConfig, opts ...ControllerOption) (*Controller, error) {
	if testCase == nil {
		return nil, ErrNilCase
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	c := &Controller{
		testCase: testCase,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(
		slog.String("component", "iteration_controller"),
		slog.String("test", testCase.Name()),
	)
	c.result = c.newResult()
	return c, nil
}

func (c *Controller) newResult() *model.Result {
	r := model.NewResult(c.testCase.Name(), c.testCase.Category(), c.testCase.SourceFile(), c.cfg.MaxIterations)
	r.Description = c.testCase.Describe()
	return r
}

// Result returns the result accumulated so far.
func (c *Controller) Result() *model.Result {
	return c.result
}

// Reset discards all recorded attempts and returns the controller to a
// fresh pending result with the same budget.
func (c *Controller) Reset() {
	c.result = c.newResult()
}

// ExecuteIteration runs exactly one attempt.
//
// Description:
//
//	Checks the iteration budget before any work. Runs the case, records
//	the outcome as an attempt, and validates it. A case error is
//	captured as an error-status attempt with a false result; the
//	attempt is still recorded and counts against the budget.
//
// Outputs:
//
//	*model.Attempt - The recorded attempt.
//	error - model.ErrIterationBudgetExceeded when the budget is spent.
func (c *Controller) ExecuteIteration(ctx context.Context) (*model.Attempt, error) {
	if !c.result.HasRemainingIterations() {
		return nil, fmt.Errorf("%w: test %s used %d of %d iterations",
			model.ErrIterationBudgetExceeded, c.testCase.Name(),
			c.result.CurrentIteration(), c.result.MaxIterations)
	}

	iteration := c.result.CurrentIteration() + 1
	attempt := model.Attempt{
		Iteration: iteration,
		StartTime: time.Now(),
		Status:    model.StatusRunning,
	}
	if c.result.FinalStatus == model.StatusPending {
		c.result.FinalStatus = model.StatusRunning
	}

	c.logger.Debug("Starting iteration",
		slog.Int("iteration", iteration),
		slog.Int("budget", c.result.MaxIterations),
	)

	outcome, err := c.testCase.Run(ctx, c.cfg)
	attempt.EndTime = time.Now()

	if err != nil {
		attempt.Status = model.StatusError
		attempt.Result = model.BoolPtr(false)
		attempt.Message = err.Error()
		c.logger.Warn("Iteration errored",
			slog.Int("iteration", iteration),
			slog.String("error", err.Error()),
		)
	} else {
		if outcome != nil {
			attempt.Output = outcome.Output
			attempt.Issues = outcome.Issues
			attempt.Metadata = outcome.Metadata
		}
		passed := c.testCase.Validate(&attempt)
		attempt.Result = model.BoolPtr(passed)
		if passed {
			attempt.Status = model.StatusPassed
		} else {
			attempt.Status = model.StatusFailed
			attempt.Message = fmt.Sprintf("Validation failed with %d issues", len(attempt.Issues))
		}
	}

	if addErr := c.result.AddAttempt(attempt); addErr != nil {
		// Unreachable after the budget check above, but a budget error
		// must never be swallowed.
		return nil, addErr
	}

	c.finalizeIfDone(&attempt)
	return &attempt, nil
}

// Execute runs iterations until the case passes, the budget is spent,
// or the context is cancelled.
func (c *Controller) Execute(ctx context.Context) (*model.Result, error) {
	for c.result.HasRemainingIterations() {
		if err := ctx.Err(); err != nil {
			c.result.Finalize(model.StatusError, false)
			return c.result, err
		}

		attempt, err := c.ExecuteIteration(ctx)
		if err != nil {
			return c.result, err
		}
		if attempt.Passed() && c.cfg.StopOnFirstSuccess {
			break
		}
	}
	return c.result, nil
}

// finalizeIfDone stamps the terminal status once the run cannot or
// need not continue.
func (c *Controller) finalizeIfDone(attempt *model.Attempt) {
	passed := attempt.Passed()
	if passed && c.cfg.StopOnFirstSuccess {
		c.result.Finalize(model.StatusPassed, true)
		return
	}
	if !c.result.HasRemainingIterations() {
		switch {
		case passed:
			c.result.Finalize(model.StatusPassed, true)
		case attempt.Status == model.StatusError:
			c.result.Finalize(model.StatusError, false)
		default:
			c.result.Finalize(model.StatusFailed, false)
		}
	}
}
