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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ReasoningStore is the domain API over an embedding provider and a
// vector store: validate, default, embed, persist.
//
// Thread Safety: Safe for concurrent use when the underlying provider
// and store are.
type ReasoningStore struct {
	embedder EmbeddingProvider
	store    VectorStore
	validate *validator.Validate
	logger   *slog.Logger
}

// ReasoningOption configures the ReasoningStore.
type ReasoningOption func(*ReasoningStore)

// WithReasoningLogger sets the logger.
func WithReasoningLogger(logger *slog.Logger) ReasoningOption {
	return func(s *ReasoningStore) {
		s.logger = logger
	}
}

// NewReasoningStore creates a reasoning store.
func NewReasoningStore(embedder EmbeddingProvider, store VectorStore, opts ...ReasoningOption) (*ReasoningStore, error) {
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("store must not be nil")
	}

	s := &ReasoningStore{
		embedder: embedder,
		store:    store,
		validate: validator.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "reasoning_store"))
	return s, nil
}

// validateMetadata checks the required fields. Runs before any
// embedding or storage I/O so bad input never costs an API call.
func (s *ReasoningStore) validateMetadata(meta *Metadata) error {
	if err := s.validate.Struct(meta); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return &ValidationError{
				Field:  strings.ToLower(first.Field()),
				Reason: fmt.Sprintf("failed %q constraint", first.Tag()),
			}
		}
		return &ValidationError{Field: "metadata", Reason: err.Error()}
	}
	return nil
}

// applyDefaults fills the optional metadata fields.
func applyDefaults(meta *Metadata) {
	if meta.Timestamp == "" {
		meta.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if len(meta.Tags) == 0 {
		meta.Tags = []string{DefaultTag}
	}
}

// Store validates, embeds, and persists one reasoning document.
//
// Description:
//
//	Validation happens first: a *ValidationError is returned before
//	any embedding or storage call. Embedding failures surface as
//	*EmbeddingError, storage failures as *StoreError.
//
// Outputs:
//
//	string - The assigned document ID.
//	error - *ValidationError, *EmbeddingError, or *StoreError.
func (s *ReasoningStore) Store(ctx context.Context, content string, meta Metadata) (string, error) {
	if content == "" {
		return "", &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if err := s.validateMetadata(&meta); err != nil {
		return "", err
	}
	applyDefaults(&meta)

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", &EmbeddingError{Provider: providerName(s.embedder), Err: err}
	}

	id, err := s.store.Add(ctx, Document{
		Content:  content,
		Metadata: meta,
		Vector:   vector,
	})
	if err != nil {
		return "", &StoreError{Op: "add", Err: err}
	}

	s.logger.Debug("Stored reasoning",
		slog.String("id", id),
		slog.String("bug_id", meta.BugID),
		slog.String("test", meta.TestName),
		slog.Int("iteration", meta.Iteration),
	)
	return id, nil
}

// Search embeds the query and returns the limit most similar
// documents, optionally narrowed by a filter.
func (s *ReasoningStore) Search(ctx context.Context, query string, limit int, filter *Filter) ([]SearchResult, error) {
	if query == "" {
		return nil, &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &EmbeddingError{Provider: providerName(s.embedder), Err: err}
	}

	results, err := s.store.Search(ctx, vector, limit, filter)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: err}
	}
	return results, nil
}

// Get returns one document by ID.
func (s *ReasoningStore) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &StoreError{Op: "get", Err: err}
	}
	return doc, nil
}

// Delete removes one document by ID.
func (s *ReasoningStore) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// DeleteByBug removes every document of one bug and returns the count.
func (s *ReasoningStore) DeleteByBug(ctx context.Context, bugID string) (int, error) {
	if bugID == "" {
		return 0, &ValidationError{Field: "bug_id", Reason: "must not be empty"}
	}
	n, err := s.store.DeleteByFilter(ctx, &Filter{BugID: bugID})
	if err != nil {
		return 0, &StoreError{Op: "delete_by_filter", Err: err}
	}
	s.logger.Info("Deleted reasoning for bug",
		slog.String("bug_id", bugID),
		slog.Int("deleted", n),
	)
	return n, nil
}

// StoreStats summarizes the reasoning store.
type StoreStats struct {
	DocumentCount int `json:"document_count"`
	Dimensions    int `json:"dimensions"`
}

// Stats returns document count and embedding dimensions.
func (s *ReasoningStore) Stats(ctx context.Context) (StoreStats, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return StoreStats{}, &StoreError{Op: "count", Err: err}
	}
	return StoreStats{
		DocumentCount: count,
		Dimensions:    s.embedder.Dimensions(),
	}, nil
}

// Close releases the underlying store.
func (s *ReasoningStore) Close() error {
	return s.store.Close()
}

// providerName extracts a short name for error messages.
func providerName(p EmbeddingProvider) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
