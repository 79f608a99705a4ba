// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor is the top-level service facade: it builds test
// cases from requests, drives them through the runner, persists
// results, and mirrors fix reasoning into the vector store.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fixchain/fixchain/services/fixchain/analyze"
	"github.com/fixchain/fixchain/services/fixchain/docstore"
	"github.com/fixchain/fixchain/services/fixchain/model"
	"github.com/fixchain/fixchain/services/fixchain/observability"
	"github.com/fixchain/fixchain/services/fixchain/rag"
	"github.com/fixchain/fixchain/services/fixchain/runner"
	"github.com/fixchain/fixchain/services/fixchain/testsuite"
)

// ResultsCollection is the docstore collection holding test results.
const ResultsCollection = "results"

var (
	// ErrUnknownTestType is returned for a test type with no factory.
	ErrUnknownTestType = errors.New("unknown test type")

	// ErrResultNotFound is returned when a stored result is missing.
	ErrResultNotFound = errors.New("result not found")
)

// Test type names accepted by the executor.
const (
	TestTypeSyntax   = "syntax_check"
	TestTypeType     = "type_check"
	TestTypeSecurity = "security_check"
)

// CaseFactory builds a test case for one source file.
type CaseFactory func(sourceFile string, cfg model.RunConfig) testsuite.Case

// TestRequest describes one test execution.
type TestRequest struct {
	// Type selects the test factory: syntax_check, type_check, or
	// security_check.
	Type string `json:"type"`

	// SourceFile is the target to test.
	SourceFile string `json:"source_file"`

	// BugID groups the run's reasoning documents. Defaulted when empty.
	BugID string `json:"bug_id,omitempty"`

	// MaxIterations overrides the configured budget when positive.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// StoredResult is a persisted test result with its storage envelope.
type StoredResult struct {
	ID       string        `json:"id"`
	BugID    string        `json:"bug_id"`
	StoredAt time.Time     `json:"stored_at"`
	Result   *model.Result `json:"result"`
}

// Executor builds, runs, and persists test executions.
//
// Thread Safety: Safe for concurrent use.
type Executor struct {
	cfg       model.RunConfig
	store     docstore.DocumentStore
	reasoning *rag.ReasoningStore
	metrics   *observability.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	facMu     sync.RWMutex
	factories map[string]CaseFactory

	histMu  sync.Mutex
	history []runner.HistoryEntry
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithReasoningStore enables best-effort reasoning mirroring.
func WithReasoningStore(store *rag.ReasoningStore) ExecutorOption {
	return func(e *Executor) {
		e.reasoning = store
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics enables execution and reasoning metrics.
func WithMetrics(metrics *observability.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// New creates an executor with the built-in test factories registered.
//
// Description:
//
//	Dispatch is closed: the three built-in test types are wired to
//	their analyzers here, and RegisterFactory is the only way to add
//	more. The tool runner is shared so availability probing happens
//	once per tool.
func New(cfg model.RunConfig, store docstore.DocumentStore, tools *analyze.ToolRunner, opts ...ExecutorOption) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	if store == nil {
		return nil, errors.New("document store must not be nil")
	}
	if tools == nil {
		tools = analyze.NewToolRunner()
	}

	e := &Executor{
		cfg:       cfg,
		store:     store,
		factories: make(map[string]CaseFactory),
		logger:    slog.Default(),
		tracer:    otel.Tracer("fixchain/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "test_executor"))

	e.factories[TestTypeSyntax] = func(sourceFile string, cfg model.RunConfig) testsuite.Case {
		return testsuite.NewSyntaxCheck(analyze.NewSyntaxAnalyzer(tools, ""), sourceFile)
	}
	e.factories[TestTypeType] = func(sourceFile string, cfg model.RunConfig) testsuite.Case {
		return testsuite.NewTypeCheck(analyze.NewTypeAnalyzer(tools, ""), sourceFile, cfg.StrictTypes)
	}
	e.factories[TestTypeSecurity] = func(sourceFile string, cfg model.RunConfig) testsuite.Case {
		return testsuite.NewSecurityCheck(analyze.NewSecurityAnalyzer(tools, ""), sourceFile, cfg.SeverityThreshold)
	}
	return e, nil
}

// RegisterFactory adds a custom test type. Existing types cannot be
// replaced.
func (e *Executor) RegisterFactory(testType string, factory CaseFactory) error {
	if testType == "" || factory == nil {
		return errors.New("test type and factory must not be empty")
	}
	e.facMu.Lock()
	defer e.facMu.Unlock()
	if _, exists := e.factories[testType]; exists {
		return fmt.Errorf("test type %s already registered", testType)
	}
	e.factories[testType] = factory
	return nil
}

// TestTypes returns the registered test type names.
func (e *Executor) TestTypes() []string {
	e.facMu.RLock()
	defer e.facMu.RUnlock()
	out := make([]string, 0, len(e.factories))
	for name := range e.factories {
		out = append(out, name)
	}
	return out
}

// factory returns the registered factory for a test type.
func (e *Executor) factory(testType string) (CaseFactory, bool) {
	e.facMu.RLock()
	defer e.facMu.RUnlock()
	f, ok := e.factories[testType]
	return f, ok
}

// ExecuteTest runs one test request to completion and persists the
// result.
//
// Description:
//
//	The run itself is authoritative: a reasoning mirror failure is
//	logged and swallowed, never surfaced to the caller.
func (e *Executor) ExecuteTest(ctx context.Context, req TestRequest) (*StoredResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.ExecuteTest")
	defer span.End()
	span.SetAttributes(
		attribute.String("test.type", req.Type),
		attribute.String("test.source_file", req.SourceFile),
	)

	factory, ok := e.factory(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTestType, req.Type)
	}
	if req.SourceFile == "" {
		return nil, errors.New("source_file must not be empty")
	}
	if e.metrics != nil {
		e.metrics.ActiveTests.Inc()
		defer e.metrics.ActiveTests.Dec()
	}

	cfg := e.cfg
	if req.MaxIterations > 0 {
		cfg.MaxIterations = req.MaxIterations
	}

	ctrl, err := testsuite.NewController(factory(req.SourceFile, cfg), cfg,
		testsuite.WithControllerLogger(e.logger))
	if err != nil {
		return nil, err
	}

	result, err := ctrl.Execute(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	stored := &StoredResult{
		ID:       uuid.NewString(),
		BugID:    e.bugID(req),
		StoredAt: time.Now().UTC(),
		Result:   result,
	}
	if saveErr := e.store.Save(ctx, ResultsCollection, stored.ID, stored); saveErr != nil {
		return nil, fmt.Errorf("persisting result: %w", saveErr)
	}

	e.mirrorReasoning(ctx, stored)
	e.recordHistory(result)

	e.logger.Info("Test executed",
		slog.String("test", result.TestName),
		slog.String("result_id", stored.ID),
		slog.String("status", string(result.FinalStatus)),
		slog.Int("iterations", len(result.Attempts)),
	)
	return stored, err
}

// ExecuteSuite runs several requests and aggregates them.
func (e *Executor) ExecuteSuite(ctx context.Context, suiteName string, reqs []TestRequest) (*model.SuiteResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.ExecuteSuite")
	defer span.End()
	span.SetAttributes(attribute.Int("suite.size", len(reqs)))

	run, err := runner.New(e.cfg, runner.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		factory, ok := e.factory(req.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTestType, req.Type)
		}
		if err := run.Register(factory(req.SourceFile, e.cfg)); err != nil {
			return nil, err
		}
	}
	if e.metrics != nil {
		e.metrics.ActiveTests.Add(float64(len(reqs)))
		defer e.metrics.ActiveTests.Sub(float64(len(reqs)))
	}

	suite, err := run.RunAll(ctx, suiteName)
	if err != nil {
		return nil, err
	}

	for _, result := range suite.TestResults {
		stored := &StoredResult{
			ID:       uuid.NewString(),
			BugID:    fmt.Sprintf("suite-%s", suiteName),
			StoredAt: time.Now().UTC(),
			Result:   result,
		}
		if saveErr := e.store.Save(ctx, ResultsCollection, stored.ID, stored); saveErr != nil {
			e.logger.Error("Failed to persist suite result",
				slog.String("test", result.TestName),
				slog.String("error", saveErr.Error()),
			)
			continue
		}
		e.mirrorReasoning(ctx, stored)
		e.recordHistory(result)
	}
	return suite, nil
}

// GetResult loads one stored result by ID.
func (e *Executor) GetResult(ctx context.Context, id string) (*StoredResult, error) {
	var out StoredResult
	if err := e.store.Get(ctx, ResultsCollection, id, &out); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
		}
		return nil, err
	}
	return &out, nil
}

// ListResults returns all stored results, optionally filtered by test
// name.
func (e *Executor) ListResults(ctx context.Context, testName string) ([]StoredResult, error) {
	raws, err := e.store.Find(ctx, ResultsCollection, nil)
	if err != nil {
		return nil, err
	}

	out := make([]StoredResult, 0, len(raws))
	for _, raw := range raws {
		var sr StoredResult
		if err := json.Unmarshal(raw, &sr); err != nil {
			e.logger.Warn("Skipping malformed stored result", slog.String("error", err.Error()))
			continue
		}
		if testName != "" && (sr.Result == nil || sr.Result.TestName != testName) {
			continue
		}
		out = append(out, sr)
	}
	return out, nil
}

// DeleteResult removes one stored result by ID.
func (e *Executor) DeleteResult(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, ResultsCollection, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrResultNotFound, id)
		}
		return err
	}
	return nil
}

// recordHistory appends one completed run to the execution history.
func (e *Executor) recordHistory(result *model.Result) {
	end := time.Now()
	if result.CompletedAt != nil {
		end = *result.CompletedAt
	}
	entry := runner.HistoryEntry{
		TestName:    result.TestName,
		Category:    result.Category,
		StartTime:   result.CreatedAt,
		EndTime:     end,
		Duration:    end.Sub(result.CreatedAt),
		Iterations:  len(result.Attempts),
		FinalStatus: result.FinalStatus,
		FinalResult: result.FinalResult,
		SuccessRate: result.SuccessRate(),
	}
	e.histMu.Lock()
	e.history = append(e.history, entry)
	e.histMu.Unlock()
}

// History returns a copy of the execution history, oldest first.
func (e *Executor) History() []runner.HistoryEntry {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	out := make([]runner.HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

// HistoryStats aggregates the execution history.
func (e *Executor) HistoryStats() runner.Stats {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	return runner.ComputeStats(e.history)
}

// bugID derives the reasoning group for a request.
func (e *Executor) bugID(req TestRequest) string {
	if req.BugID != "" {
		return req.BugID
	}
	return fmt.Sprintf("%s-%s", req.Type, req.SourceFile)
}

// mirrorReasoning records each attempt's narrative in the reasoning
// store. Best effort: any failure is logged and swallowed so a vector
// store outage never fails a test run.
func (e *Executor) mirrorReasoning(ctx context.Context, stored *StoredResult) {
	if e.reasoning == nil || stored.Result == nil {
		return
	}

	for i := range stored.Result.Attempts {
		attempt := &stored.Result.Attempts[i]
		content := reasoningContent(stored.Result, attempt)
		if content == "" {
			continue
		}

		_, err := e.reasoning.Store(ctx, content, rag.Metadata{
			BugID:     stored.BugID,
			TestName:  stored.Result.TestName,
			Iteration: attempt.Iteration,
			Category:  string(stored.Result.Category),
			Source:    "executor",
		})
		if e.metrics != nil {
			e.metrics.ReasoningStoresTotal.WithLabelValues(reasoningOutcome(err)).Inc()
		}
		if err != nil {
			e.logger.Warn("Reasoning mirror failed",
				slog.String("test", stored.Result.TestName),
				slog.Int("iteration", attempt.Iteration),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reasoningOutcome maps a store error to its metric label.
func reasoningOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var verr *rag.ValidationError
	if errors.As(err, &verr) {
		return "validation_error"
	}
	var eerr *rag.EmbeddingError
	if errors.As(err, &eerr) {
		return "embedding_error"
	}
	var serr *rag.StoreError
	if errors.As(err, &serr) {
		return "store_error"
	}
	return "error"
}

// reasoningContent renders one attempt as a searchable narrative.
func reasoningContent(result *model.Result, attempt *model.Attempt) string {
	if len(attempt.Issues) == 0 && attempt.Message == "" {
		return ""
	}

	content := fmt.Sprintf("%s on %s, iteration %d/%d: %s.",
		result.TestName, result.SourceFile, attempt.Iteration,
		result.MaxIterations, attempt.Status)
	if attempt.Message != "" {
		content += " " + attempt.Message
	}
	for _, issue := range attempt.Issues {
		content += fmt.Sprintf(" [%s] %s:%d %s.",
			issue.Severity, issue.File, issue.Line, issue.Message)
	}
	return content
}
