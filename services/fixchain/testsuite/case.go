// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testsuite defines the test case contract and the iteration
// controller that drives a case through its attempt budget.
//
// A Case does two separable things: Run produces raw evidence (tool
// output and issues) and Validate judges an attempt. The controller owns
// the lifecycle in between.
package testsuite

import (
	"context"
	"errors"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// ErrNilCase is returned when a controller is built without a case.
var ErrNilCase = errors.New("test case must not be nil")

// RunOutcome is the raw evidence produced by one execution of a case.
type RunOutcome struct {
	// Output is the raw tool or check output.
	Output string

	// Issues are the structured findings.
	Issues []model.Issue

	// Metadata carries check-specific values into the attempt record.
	Metadata map[string]any
}

// Case is a single quality check against one source target.
//
// Implementations must keep Run and Validate independent: Run gathers
// evidence and may fail with an error, Validate judges an already
// recorded attempt and must be a pure function of it.
type Case interface {
	// Name returns the unique test name.
	Name() string

	// Category returns the test category.
	Category() model.Category

	// Describe returns a human-readable description.
	Describe() string

	// SourceFile returns the target under test.
	SourceFile() string

	// Run executes the check once.
	Run(ctx context.Context, cfg model.RunConfig) (*RunOutcome, error)

	// Validate judges a recorded attempt. It must not perform I/O.
	Validate(attempt *model.Attempt) bool
}
