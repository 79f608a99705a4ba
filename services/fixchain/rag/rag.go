// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rag stores and retrieves fix reasoning: the explanations
// recorded while a test iterates toward a passing state. Documents are
// embedded into vectors so later runs can retrieve similar reasoning by
// meaning rather than by keyword.
//
// The package separates three concerns: EmbeddingProvider turns text
// into vectors, VectorStore persists and searches them, and
// ReasoningStore composes the two behind a validated domain API.
package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("reasoning document not found")

// ValidationError reports rejected metadata. Raised before any
// embedding or storage I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reasoning metadata: %s: %s", e.Field, e.Reason)
}

// EmbeddingError wraps a failure in the embedding provider.
type EmbeddingError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (%s): %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// StoreError wraps a failure in the vector store backend.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// =============================================================================
// DOCUMENT MODEL
// =============================================================================

// DefaultTag is applied when a document carries no tags.
const DefaultTag = "reasoning"

// Metadata describes one reasoning document. BugID, TestName,
// Iteration, Category, and Source are required; Timestamp and Tags are
// defaulted at store time when absent.
type Metadata struct {
	// BugID groups documents belonging to one bug or fix effort.
	BugID string `json:"bug_id" validate:"required"`

	// TestName is the test whose run produced the reasoning.
	TestName string `json:"test_name" validate:"required"`

	// Iteration is the 1-based attempt number.
	Iteration int `json:"iteration" validate:"required,gte=1"`

	// Category is the test category.
	Category string `json:"category" validate:"required"`

	// Source identifies what produced the document (executor, manual).
	Source string `json:"source" validate:"required"`

	// Timestamp is the ISO-8601 creation time. Defaulted when empty.
	Timestamp string `json:"timestamp,omitempty"`

	// Tags classify the document. Defaults to ["reasoning"].
	Tags []string `json:"tags,omitempty"`
}

// Document is one stored reasoning entry.
type Document struct {
	// ID is the store-assigned identifier.
	ID string `json:"id"`

	// Content is the reasoning text.
	Content string `json:"content"`

	// Metadata describes the document.
	Metadata Metadata `json:"metadata"`

	// Vector is the embedding, populated at store time.
	Vector []float32 `json:"-"`
}

// SearchResult is one similarity hit.
type SearchResult struct {
	Document Document `json:"document"`

	// Score is the similarity in [0, 1], higher is closer.
	Score float64 `json:"score"`
}

// Filter narrows a search or delete to matching documents. Zero-value
// fields are ignored.
type Filter struct {
	BugID    string `json:"bug_id,omitempty"`
	TestName string `json:"test_name,omitempty"`
	Category string `json:"category,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// IsZero reports whether the filter matches everything.
func (f *Filter) IsZero() bool {
	return f == nil || (f.BugID == "" && f.TestName == "" && f.Category == "" && f.Tag == "")
}

// Matches reports whether a document satisfies the filter.
func (f *Filter) Matches(doc *Document) bool {
	if f.IsZero() {
		return true
	}
	if f.BugID != "" && doc.Metadata.BugID != f.BugID {
		return false
	}
	if f.TestName != "" && doc.Metadata.TestName != f.TestName {
		return false
	}
	if f.Category != "" && doc.Metadata.Category != f.Category {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range doc.Metadata.Tags {
			if tag == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// CONTRACTS
// =============================================================================

// EmbeddingProvider converts text into dense vectors.
type EmbeddingProvider interface {
	// Embed converts one text into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts several texts in one call, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width this provider produces.
	Dimensions() int
}

// VectorStore persists embedded documents and answers similarity
// queries.
type VectorStore interface {
	// Add persists a document, assigning an ID when empty.
	Add(ctx context.Context, doc Document) (string, error)

	// Search returns the limit nearest documents to the query vector,
	// optionally narrowed by a filter. Results are ordered by
	// descending score.
	Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]SearchResult, error)

	// Get returns one document by ID.
	Get(ctx context.Context, id string) (*Document, error)

	// Delete removes one document by ID.
	Delete(ctx context.Context, id string) error

	// DeleteByFilter removes all matching documents and returns the
	// number removed.
	DeleteByFilter(ctx context.Context, filter *Filter) (int, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// CosineSimilarity computes the cosine similarity between two vectors
// of equal length. Returns 0 for mismatched or zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
