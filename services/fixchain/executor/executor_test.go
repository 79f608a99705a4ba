// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fixchain/fixchain/services/fixchain/docstore"
	"github.com/fixchain/fixchain/services/fixchain/model"
	"github.com/fixchain/fixchain/services/fixchain/observability"
	"github.com/fixchain/fixchain/services/fixchain/rag"
	"github.com/fixchain/fixchain/services/fixchain/testsuite"
)

// countingEmbedder returns fixed vectors and records calls.
type countingEmbedder struct {
	calls int
	fail  error
}

func (e *countingEmbedder) Name() string    { return "counting" }
func (e *countingEmbedder) Dimensions() int { return 2 }

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	return []float32{1, float32(len(text))}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *docstore.BadgerStore) {
	t.Helper()
	store, err := docstore.OpenBadger(docstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := model.DefaultRunConfig()
	cfg.MaxIterations = 2
	exec, err := New(cfg, store, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return exec, store
}

// registerStub swaps in a deterministic factory for a custom type.
func registerStub(t *testing.T, exec *Executor, testType string, passOn int) {
	t.Helper()
	err := exec.RegisterFactory(testType, func(sourceFile string, cfg model.RunConfig) testsuite.Case {
		calls := 0
		return &testsuite.CustomCheck{
			CheckName: testType + "_" + sourceFile,
			Target:    sourceFile,
			RunFn: func(ctx context.Context, cfg model.RunConfig) (*testsuite.RunOutcome, error) {
				calls++
				if calls >= passOn {
					return &testsuite.RunOutcome{}, nil
				}
				return &testsuite.RunOutcome{
					Issues: []model.Issue{{Message: "still broken", Severity: model.SeverityHigh, File: sourceFile, Line: 1}},
				}, nil
			},
		}
	})
	if err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}
}

func TestExecuteTest_PersistsResult(t *testing.T) {
	exec, _ := newExecutor(t)
	registerStub(t, exec, "stub_check", 2)

	stored, err := exec.ExecuteTest(context.Background(), TestRequest{
		Type:       "stub_check",
		SourceFile: "main.py",
		BugID:      "BUG-7",
	})
	if err != nil {
		t.Fatalf("ExecuteTest: %v", err)
	}
	if stored.ID == "" {
		t.Error("Expected assigned result ID")
	}
	if stored.Result.FinalStatus != model.StatusPassed {
		t.Errorf("Expected passed, got %s", stored.Result.FinalStatus)
	}
	if len(stored.Result.Attempts) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(stored.Result.Attempts))
	}

	// Must be retrievable by ID.
	loaded, err := exec.GetResult(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if loaded.BugID != "BUG-7" {
		t.Errorf("Expected BUG-7, got %s", loaded.BugID)
	}
	if loaded.Result.TestName != stored.Result.TestName {
		t.Errorf("Round trip mismatch: %s vs %s", loaded.Result.TestName, stored.Result.TestName)
	}
}

func TestExecuteTest_UnknownType(t *testing.T) {
	exec, _ := newExecutor(t)
	_, err := exec.ExecuteTest(context.Background(), TestRequest{Type: "nope", SourceFile: "x.py"})
	if !errors.Is(err, ErrUnknownTestType) {
		t.Errorf("Expected ErrUnknownTestType, got %v", err)
	}
}

func TestExecuteTest_MirrorsReasoning(t *testing.T) {
	embedder := &countingEmbedder{}
	reasoning, err := rag.NewReasoningStore(embedder, rag.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewReasoningStore: %v", err)
	}

	exec, _ := newExecutor(t, WithReasoningStore(reasoning))
	registerStub(t, exec, "stub_check", 2)

	_, err = exec.ExecuteTest(context.Background(), TestRequest{
		Type:       "stub_check",
		SourceFile: "main.py",
		BugID:      "BUG-M",
	})
	if err != nil {
		t.Fatalf("ExecuteTest: %v", err)
	}

	// The failing attempt carries issues; the passing attempt has no
	// narrative, so exactly one document is mirrored.
	stats, err := reasoning.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 1 {
		t.Errorf("Expected 1 mirrored document, got %d", stats.DocumentCount)
	}

	results, err := reasoning.Search(context.Background(), "still broken", 5, &rag.Filter{BugID: "BUG-M"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(results))
	}
	if results[0].Document.Metadata.Iteration != 1 {
		t.Errorf("Expected iteration 1 mirrored, got %d", results[0].Document.Metadata.Iteration)
	}
}

func TestExecuteTest_ReasoningFailureDoesNotFailRun(t *testing.T) {
	embedder := &countingEmbedder{fail: errors.New("embedding service down")}
	reasoning, err := rag.NewReasoningStore(embedder, rag.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewReasoningStore: %v", err)
	}

	exec, _ := newExecutor(t, WithReasoningStore(reasoning))
	registerStub(t, exec, "stub_check", 2)

	stored, err := exec.ExecuteTest(context.Background(), TestRequest{
		Type:       "stub_check",
		SourceFile: "main.py",
	})
	if err != nil {
		t.Fatalf("Mirror failure must not fail the run: %v", err)
	}
	if stored.Result.FinalStatus != model.StatusPassed {
		t.Errorf("Expected passed, got %s", stored.Result.FinalStatus)
	}
}

func TestExecuteSuite_PersistsEveryResult(t *testing.T) {
	exec, store := newExecutor(t)
	registerStub(t, exec, "stub_a", 1)
	registerStub(t, exec, "stub_b", 100)

	suite, err := exec.ExecuteSuite(context.Background(), "nightly", []TestRequest{
		{Type: "stub_a", SourceFile: "a.py"},
		{Type: "stub_b", SourceFile: "b.py"},
	})
	if err != nil {
		t.Fatalf("ExecuteSuite: %v", err)
	}
	if suite.PassedTests != 1 || suite.FailedTests != 1 {
		t.Errorf("Unexpected counts: passed=%d failed=%d", suite.PassedTests, suite.FailedTests)
	}

	n, err := store.Count(context.Background(), ResultsCollection)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 persisted results, got %d", n)
	}
}

func TestListResults_FilterByTestName(t *testing.T) {
	exec, _ := newExecutor(t)
	registerStub(t, exec, "stub_check", 1)

	_, _ = exec.ExecuteTest(context.Background(), TestRequest{Type: "stub_check", SourceFile: "a.py"})
	_, _ = exec.ExecuteTest(context.Background(), TestRequest{Type: "stub_check", SourceFile: "b.py"})

	all, err := exec.ListResults(context.Background(), "")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 results, got %d", len(all))
	}

	filtered, err := exec.ListResults(context.Background(), "stub_check_a.py")
	if err != nil {
		t.Fatalf("ListResults filtered: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("Expected 1 filtered result, got %d", len(filtered))
	}
}

func TestDeleteResult(t *testing.T) {
	exec, _ := newExecutor(t)
	registerStub(t, exec, "stub_check", 1)

	stored, err := exec.ExecuteTest(context.Background(), TestRequest{Type: "stub_check", SourceFile: "a.py"})
	if err != nil {
		t.Fatalf("ExecuteTest: %v", err)
	}
	if err := exec.DeleteResult(context.Background(), stored.ID); err != nil {
		t.Fatalf("DeleteResult: %v", err)
	}
	if err := exec.DeleteResult(context.Background(), stored.ID); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("Expected ErrResultNotFound, got %v", err)
	}
	if _, err := exec.GetResult(context.Background(), stored.ID); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("Expected ErrResultNotFound on get, got %v", err)
	}
}

func TestHistory_AccumulatesAcrossRuns(t *testing.T) {
	exec, _ := newExecutor(t)
	registerStub(t, exec, "stub_a", 1)
	registerStub(t, exec, "stub_b", 100)

	_, _ = exec.ExecuteTest(context.Background(), TestRequest{Type: "stub_a", SourceFile: "a.py"})
	_, err := exec.ExecuteSuite(context.Background(), "nightly", []TestRequest{
		{Type: "stub_b", SourceFile: "b.py"},
	})
	if err != nil {
		t.Fatalf("ExecuteSuite: %v", err)
	}

	history := exec.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}
	if history[0].TestName != "stub_a_a.py" {
		t.Errorf("Expected oldest entry first, got %s", history[0].TestName)
	}

	stats := exec.HistoryStats()
	if stats.TotalRuns != 2 || stats.PassedRuns != 1 || stats.FailedRuns != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	// stub_a passed in 1 attempt, stub_b used the full budget of 2.
	if stats.TotalAttempts != 3 {
		t.Errorf("Expected 3 total attempts, got %d", stats.TotalAttempts)
	}
}

func TestMetrics_CountsReasoningOutcomes(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	reasoning, err := rag.NewReasoningStore(&countingEmbedder{}, rag.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewReasoningStore: %v", err)
	}

	exec, _ := newExecutor(t, WithReasoningStore(reasoning), WithMetrics(metrics))
	registerStub(t, exec, "stub_check", 2)

	// Fail-then-pass: only the failing attempt carries a narrative, so
	// exactly one document is mirrored.
	if _, err := exec.ExecuteTest(context.Background(), TestRequest{
		Type:       "stub_check",
		SourceFile: "main.py",
	}); err != nil {
		t.Fatalf("ExecuteTest: %v", err)
	}

	success := testutil.ToFloat64(metrics.ReasoningStoresTotal.WithLabelValues("success"))
	if success != 1 {
		t.Errorf("Expected 1 success store, got %v", success)
	}
	if after := testutil.ToFloat64(metrics.ActiveTests); after != 0 {
		t.Errorf("Expected idle gauge after run, got %v", after)
	}
}

func TestMetrics_CountsEmbeddingErrors(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	embedder := &countingEmbedder{fail: errors.New("embedding service down")}
	reasoning, err := rag.NewReasoningStore(embedder, rag.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewReasoningStore: %v", err)
	}

	exec, _ := newExecutor(t, WithReasoningStore(reasoning), WithMetrics(metrics))
	registerStub(t, exec, "stub_check", 2)

	if _, err := exec.ExecuteTest(context.Background(), TestRequest{
		Type:       "stub_check",
		SourceFile: "main.py",
	}); err != nil {
		t.Fatalf("Mirror failure must not fail the run: %v", err)
	}

	failed := testutil.ToFloat64(metrics.ReasoningStoresTotal.WithLabelValues("embedding_error"))
	if failed != 1 {
		t.Errorf("Expected 1 embedding_error store, got %v", failed)
	}
}

func TestMetrics_ActiveTestsDuringRun(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	exec, _ := newExecutor(t, WithMetrics(metrics))

	var during float64
	err := exec.RegisterFactory("gauge_check", func(sourceFile string, cfg model.RunConfig) testsuite.Case {
		return &testsuite.CustomCheck{
			CheckName: "gauge_check_" + sourceFile,
			Target:    sourceFile,
			RunFn: func(ctx context.Context, cfg model.RunConfig) (*testsuite.RunOutcome, error) {
				during = testutil.ToFloat64(metrics.ActiveTests)
				return &testsuite.RunOutcome{}, nil
			},
		}
	})
	if err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}

	if _, err := exec.ExecuteTest(context.Background(), TestRequest{
		Type:       "gauge_check",
		SourceFile: "main.py",
	}); err != nil {
		t.Fatalf("ExecuteTest: %v", err)
	}
	if during != 1 {
		t.Errorf("Expected gauge 1 during run, got %v", during)
	}
	if after := testutil.ToFloat64(metrics.ActiveTests); after != 0 {
		t.Errorf("Expected gauge 0 after run, got %v", after)
	}
}

func TestRegisterFactory_ConcurrentAccess(t *testing.T) {
	exec, _ := newExecutor(t)
	builtins := len(exec.TestTypes())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			testType := fmt.Sprintf("stub_%d", i)
			err := exec.RegisterFactory(testType, func(sourceFile string, cfg model.RunConfig) testsuite.Case {
				return &testsuite.CustomCheck{
					CheckName: testType + "_" + sourceFile,
					Target:    sourceFile,
				}
			})
			if err != nil {
				t.Errorf("RegisterFactory: %v", err)
				return
			}
			_ = exec.TestTypes()
			if _, err := exec.ExecuteTest(context.Background(), TestRequest{
				Type:       testType,
				SourceFile: "main.py",
			}); err != nil {
				t.Errorf("ExecuteTest: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(exec.TestTypes()); got != builtins+8 {
		t.Errorf("Expected %d registered types, got %d", builtins+8, got)
	}
}

func TestRegisterFactory_RejectsBuiltinOverride(t *testing.T) {
	exec, _ := newExecutor(t)
	err := exec.RegisterFactory(TestTypeSyntax, func(sourceFile string, cfg model.RunConfig) testsuite.Case {
		return &testsuite.CustomCheck{CheckName: "evil"}
	})
	if err == nil {
		t.Error("Expected error overriding built-in type")
	}
}
