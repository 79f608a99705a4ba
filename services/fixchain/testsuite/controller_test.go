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
	"errors"
	"testing"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// scriptedCase passes on a chosen iteration and fails before it.
func scriptedCase(name string, passOn int) *CustomCheck {
	calls := 0
	return &CustomCheck{
		CheckName: name,
		Target:    "main.py",
		RunFn: func(ctx context.Context, cfg model.RunConfig) (*RunOutcome, error) {
			calls++
			if calls >= passOn {
				return &RunOutcome{Output: "clean"}, nil
			}
			return &RunOutcome{
				Output: "dirty",
				Issues: []model.Issue{{Message: "broken", Severity: model.SeverityHigh}},
			}, nil
		},
	}
}

func testConfig(maxIterations int) model.RunConfig {
	cfg := model.DefaultRunConfig()
	cfg.MaxIterations = maxIterations
	return cfg
}

func TestNewController_NilCase(t *testing.T) {
	_, err := NewController(nil, testConfig(3))
	if !errors.Is(err, ErrNilCase) {
		t.Errorf("Expected ErrNilCase, got %v", err)
	}
}

func TestController_PassesOnSecondIteration(t *testing.T) {
	ctrl, err := NewController(scriptedCase("scripted", 2), testConfig(5))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	result, err := ctrl.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(result.Attempts) != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", len(result.Attempts))
	}
	if result.FinalStatus != model.StatusPassed {
		t.Errorf("Expected passed, got %s", result.FinalStatus)
	}
	if result.FinalResult == nil || !*result.FinalResult {
		t.Error("Expected final result true")
	}
	if result.Attempts[0].Status != model.StatusFailed {
		t.Errorf("Expected first attempt failed, got %s", result.Attempts[0].Status)
	}
	if result.Attempts[1].Status != model.StatusPassed {
		t.Errorf("Expected second attempt passed, got %s", result.Attempts[1].Status)
	}
	if result.CompletedAt == nil {
		t.Error("Expected completion timestamp")
	}
}

func TestController_ExhaustsBudget(t *testing.T) {
	ctrl, err := NewController(scriptedCase("never-passes", 100), testConfig(3))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	result, err := ctrl.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Attempts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(result.Attempts))
	}
	if result.FinalStatus != model.StatusFailed {
		t.Errorf("Expected failed, got %s", result.FinalStatus)
	}

	// A further iteration must surface the budget error, not run.
	_, err = ctrl.ExecuteIteration(context.Background())
	if !errors.Is(err, model.ErrIterationBudgetExceeded) {
		t.Errorf("Expected ErrIterationBudgetExceeded, got %v", err)
	}
	if len(ctrl.Result().Attempts) != 3 {
		t.Errorf("Budget violation must not record an attempt, have %d", len(ctrl.Result().Attempts))
	}
}

func TestController_CaseErrorBecomesErrorAttempt(t *testing.T) {
	boom := errors.New("tool exploded")
	failing := &CustomCheck{
		CheckName: "erroring",
		Target:    "main.py",
		RunFn: func(ctx context.Context, cfg model.RunConfig) (*RunOutcome, error) {
			return nil, boom
		},
	}

	ctrl, err := NewController(failing, testConfig(2))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	attempt, err := ctrl.ExecuteIteration(context.Background())
	if err != nil {
		t.Fatalf("Case error must not propagate, got %v", err)
	}
	if attempt.Status != model.StatusError {
		t.Errorf("Expected error status, got %s", attempt.Status)
	}
	if attempt.Result == nil || *attempt.Result {
		t.Error("Expected explicit false result on error attempt")
	}
	if attempt.Message == "" {
		t.Error("Expected the error captured in the attempt message")
	}
	if len(ctrl.Result().Attempts) != 1 {
		t.Errorf("Error attempt must count against the budget, have %d", len(ctrl.Result().Attempts))
	}
}

func TestController_AllErrorsFinalizeAsError(t *testing.T) {
	failing := &CustomCheck{
		CheckName: "always-errors",
		Target:    "main.py",
		RunFn: func(ctx context.Context, cfg model.RunConfig) (*RunOutcome, error) {
			return nil, errors.New("no tool")
		},
	}

	ctrl, err := NewController(failing, testConfig(2))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	result, err := ctrl.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalStatus != model.StatusError {
		t.Errorf("Expected error final status, got %s", result.FinalStatus)
	}
}

func TestController_StopOnFirstSuccessDisabled(t *testing.T) {
	cfg := testConfig(4)
	cfg.StopOnFirstSuccess = false

	ctrl, err := NewController(scriptedCase("keeps-going", 1), cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	result, err := ctrl.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Attempts) != 4 {
		t.Errorf("Expected full budget used, got %d attempts", len(result.Attempts))
	}
	if result.FinalStatus != model.StatusPassed {
		t.Errorf("Expected passed, got %s", result.FinalStatus)
	}
}

func TestController_Reset(t *testing.T) {
	ctrl, err := NewController(scriptedCase("resettable", 1), testConfig(3))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if _, err := ctrl.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ctrl.Result().Attempts) == 0 {
		t.Fatal("Expected recorded attempts before reset")
	}

	ctrl.Reset()
	if len(ctrl.Result().Attempts) != 0 {
		t.Errorf("Expected empty attempts after reset, got %d", len(ctrl.Result().Attempts))
	}
	if ctrl.Result().FinalStatus != model.StatusPending {
		t.Errorf("Expected pending after reset, got %s", ctrl.Result().FinalStatus)
	}
}

func TestController_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl, err := NewController(scriptedCase("cancelled", 100), testConfig(5))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	result, err := ctrl.Execute(ctx)
	if err == nil {
		t.Error("Expected context error")
	}
	if result.FinalStatus != model.StatusError {
		t.Errorf("Expected error status on cancellation, got %s", result.FinalStatus)
	}
}

func TestController_IterationNumbersSequential(t *testing.T) {
	ctrl, err := NewController(scriptedCase("sequential", 100), testConfig(3))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	result, _ := ctrl.Execute(context.Background())
	for i, a := range result.Attempts {
		if a.Iteration != i+1 {
			t.Errorf("Attempt %d has iteration %d", i, a.Iteration)
		}
	}
}
