// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rag

import (
	"context"
	"errors"
	"testing"
	"time"
)

// spyEmbedder counts calls and returns deterministic vectors keyed on
// text length so distinct texts get distinct directions.
type spyEmbedder struct {
	calls int
	fail  error
}

func (e *spyEmbedder) Name() string    { return "spy" }
func (e *spyEmbedder) Dimensions() int { return 3 }

func (e *spyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *spyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		n := float32(len(t))
		out[i] = []float32{n, 1, 1 / (n + 1)}
	}
	return out, nil
}

func validMeta() Metadata {
	return Metadata{
		BugID:     "BUG-42",
		TestName:  "syntax_check_main.py",
		Iteration: 1,
		Category:  "static",
		Source:    "executor",
	}
}

func newStore(t *testing.T) (*ReasoningStore, *spyEmbedder, *InMemoryStore) {
	t.Helper()
	embedder := &spyEmbedder{}
	backend := NewInMemoryStore()
	store, err := NewReasoningStore(embedder, backend)
	if err != nil {
		t.Fatalf("NewReasoningStore: %v", err)
	}
	return store, embedder, backend
}

func TestStore_ValidationBeforeEmbedding(t *testing.T) {
	store, embedder, _ := newStore(t)

	cases := []struct {
		name string
		meta Metadata
	}{
		{"missing bug_id", Metadata{TestName: "t", Iteration: 1, Category: "static", Source: "s"}},
		{"missing test_name", Metadata{BugID: "b", Iteration: 1, Category: "static", Source: "s"}},
		{"zero iteration", Metadata{BugID: "b", TestName: "t", Category: "static", Source: "s"}},
		{"missing category", Metadata{BugID: "b", TestName: "t", Iteration: 1, Source: "s"}},
		{"missing source", Metadata{BugID: "b", TestName: "t", Iteration: 1, Category: "static"}},
	}

	for _, tc := range cases {
		_, err := store.Store(context.Background(), "some reasoning", tc.meta)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected *ValidationError, got %v", tc.name, err)
		}
	}

	if embedder.calls != 0 {
		t.Errorf("Validation failures must not reach the embedder, got %d calls", embedder.calls)
	}
}

func TestStore_EmptyContentRejected(t *testing.T) {
	store, embedder, _ := newStore(t)

	_, err := store.Store(context.Background(), "", validMeta())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected *ValidationError for empty content, got %v", err)
	}
	if embedder.calls != 0 {
		t.Error("Empty content must not reach the embedder")
	}
}

func TestStore_AppliesDefaults(t *testing.T) {
	store, _, backend := newStore(t)

	id, err := store.Store(context.Background(), "fixed the import", validMeta())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	doc, err := backend.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Metadata.Timestamp == "" {
		t.Error("Expected timestamp default")
	}
	if _, err := time.Parse(time.RFC3339, doc.Metadata.Timestamp); err != nil {
		t.Errorf("Expected RFC3339 timestamp, got %q", doc.Metadata.Timestamp)
	}
	if len(doc.Metadata.Tags) != 1 || doc.Metadata.Tags[0] != DefaultTag {
		t.Errorf("Expected default tags [reasoning], got %v", doc.Metadata.Tags)
	}
}

func TestStore_PreservesExplicitMetadata(t *testing.T) {
	store, _, backend := newStore(t)

	meta := validMeta()
	meta.Timestamp = "2026-01-15T10:30:00Z"
	meta.Tags = []string{"reasoning", "import-fix"}

	id, err := store.Store(context.Background(), "explanation", meta)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	doc, _ := backend.Get(context.Background(), id)
	if doc.Metadata.Timestamp != meta.Timestamp {
		t.Errorf("Explicit timestamp overwritten: %q", doc.Metadata.Timestamp)
	}
	if len(doc.Metadata.Tags) != 2 {
		t.Errorf("Explicit tags overwritten: %v", doc.Metadata.Tags)
	}
}

func TestStore_EmbeddingFailureTyped(t *testing.T) {
	embedder := &spyEmbedder{fail: errors.New("api down")}
	store, err := NewReasoningStore(embedder, NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewReasoningStore: %v", err)
	}

	_, err = store.Store(context.Background(), "reasoning", validMeta())
	var eerr *EmbeddingError
	if !errors.As(err, &eerr) {
		t.Errorf("Expected *EmbeddingError, got %v", err)
	}
}

func TestSearch_RoundTripTopK(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	texts := []string{
		"fixed missing import of os module",
		"added type annotation to return value",
		"escaped sql parameters to stop injection",
		"renamed shadowed variable",
	}
	for i, text := range texts {
		meta := validMeta()
		meta.Iteration = i + 1
		if _, err := store.Store(ctx, text, meta); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}

	results, err := store.Search(ctx, "fixed missing import of os module", 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Document.Content != texts[0] {
		t.Errorf("Expected exact text as top hit, got %q", results[0].Document.Content)
	}
	if results[0].Score < results[1].Score {
		t.Error("Expected descending score order")
	}
}

func TestSearch_FilterNarrows(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	metaA := validMeta()
	metaA.BugID = "BUG-A"
	metaB := validMeta()
	metaB.BugID = "BUG-B"

	_, _ = store.Store(ctx, "reasoning for bug a", metaA)
	_, _ = store.Store(ctx, "reasoning for bug b", metaB)

	results, err := store.Search(ctx, "reasoning", 10, &Filter{BugID: "BUG-B"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 filtered result, got %d", len(results))
	}
	if results[0].Document.Metadata.BugID != "BUG-B" {
		t.Errorf("Filter leaked: %s", results[0].Document.Metadata.BugID)
	}
}

func TestDeleteByBug_ExactCount(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	target := validMeta()
	target.BugID = "BUG-DEL"
	other := validMeta()
	other.BugID = "BUG-KEEP"

	for i := 0; i < 3; i++ {
		m := target
		m.Iteration = i + 1
		if _, err := store.Store(ctx, "delete me", m); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	if _, err := store.Store(ctx, "keep me", other); err != nil {
		t.Fatalf("Store: %v", err)
	}

	n, err := store.DeleteByBug(ctx, "BUG-DEL")
	if err != nil {
		t.Fatalf("DeleteByBug: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 deleted, got %d", n)
	}

	// A second delete finds nothing.
	n, err = store.DeleteByBug(ctx, "BUG-DEL")
	if err != nil {
		t.Fatalf("DeleteByBug second: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 deleted on repeat, got %d", n)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocumentCount != 1 {
		t.Errorf("Expected 1 surviving document, got %d", stats.DocumentCount)
	}
}

func TestDelete_NotFound(t *testing.T) {
	store, _, _ := newStore(t)
	err := store.Delete(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStats_ReportsDimensions(t *testing.T) {
	store, _, _ := newStore(t)
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Dimensions != 3 {
		t.Errorf("Expected spy dimensions 3, got %d", stats.Dimensions)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	if got := CosineSimilarity(a, b); got < 0.999 {
		t.Errorf("Identical vectors must score ~1, got %f", got)
	}
	if got := CosineSimilarity(a, c); got != 0 {
		t.Errorf("Orthogonal vectors must score 0, got %f", got)
	}
	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("Mismatched lengths must score 0, got %f", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("Empty vectors must score 0, got %f", got)
	}
}
