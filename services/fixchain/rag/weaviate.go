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
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ReasoningClassName is the Weaviate class holding reasoning documents.
const ReasoningClassName = "FixReasoning"

// Retry policy for transient Weaviate failures.
const (
	maxRetries   = 3
	retryBackoff = 100 * time.Millisecond
)

// reasoningSchema defines the FixReasoning class. Vectors are supplied
// by the embedder, so the class has no vectorizer module.
func reasoningSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	indexSearchable := new(bool)
	*indexSearchable = true

	return &models.Class{
		Class:       ReasoningClassName,
		Description: "Fix reasoning recorded during iterative test runs",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "docId",
				DataType:        []string{"text"},
				Description:     "Unique identifier (UUID)",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "content",
				DataType:        []string{"text"},
				Description:     "The reasoning text",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
			},
			{
				Name:            "bugId",
				DataType:        []string{"text"},
				Description:     "Bug or fix effort this reasoning belongs to",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "testName",
				DataType:        []string{"text"},
				Description:     "Test whose run produced the reasoning",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "iteration",
				DataType:    []string{"int"},
				Description: "1-based attempt number",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Test category",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "What produced the document",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "timestamp",
				DataType:    []string{"text"},
				Description: "ISO-8601 creation time",
			},
			{
				Name:            "tags",
				DataType:        []string{"text[]"},
				Description:     "Document tags",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// WeaviateStore persists reasoning documents in Weaviate.
//
// Thread Safety: Safe for concurrent use.
type WeaviateStore struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateStore creates a store and ensures the reasoning class
// exists.
func NewWeaviateStore(ctx context.Context, client *weaviate.Client, logger *slog.Logger) (*WeaviateStore, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &WeaviateStore{
		client: client,
		logger: logger.With(slog.String("component", "weaviate_store")),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the FixReasoning class if it is missing.
func (s *WeaviateStore) ensureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().
		WithClassName(ReasoningClassName).
		Do(ctx)
	if err == nil {
		return nil
	}

	if createErr := s.client.Schema().ClassCreator().
		WithClass(reasoningSchema()).
		Do(ctx); createErr != nil {
		// A concurrent creator may have won the race.
		if strings.Contains(createErr.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("creating %s class: %w", ReasoningClassName, createErr)
	}
	s.logger.Info("Created reasoning class", slog.String("class", ReasoningClassName))
	return nil
}

// withRetry runs op up to maxRetries times with jittered exponential
// backoff. Context cancellation stops the retries immediately.
func (s *WeaviateStore) withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == maxRetries-1 {
			break
		}

		backoff := retryBackoff << attempt
		backoff += time.Duration(rand.Int63n(int64(backoff / 2)))
		s.logger.Warn("Weaviate call failed, retrying",
			slog.String("op", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// Add persists one document with its vector.
func (s *WeaviateStore) Add(ctx context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if len(doc.Vector) == 0 {
		return "", errors.New("document vector must not be empty")
	}

	err := s.withRetry(ctx, "add", func() error {
		_, err := s.client.Data().Creator().
			WithClassName(ReasoningClassName).
			WithProperties(map[string]interface{}{
				"docId":     doc.ID,
				"content":   doc.Content,
				"bugId":     doc.Metadata.BugID,
				"testName":  doc.Metadata.TestName,
				"iteration": doc.Metadata.Iteration,
				"category":  doc.Metadata.Category,
				"source":    doc.Metadata.Source,
				"timestamp": doc.Metadata.Timestamp,
				"tags":      doc.Metadata.Tags,
			}).
			WithVector(doc.Vector).
			Do(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("storing reasoning in Weaviate: %w", err)
	}

	s.logger.Debug("Stored reasoning document",
		slog.String("doc_id", doc.ID),
		slog.String("bug_id", doc.Metadata.BugID),
	)
	return doc.ID, nil
}

// Search returns the limit nearest documents to the query vector.
func (s *WeaviateStore) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, errors.New("query vector must not be empty")
	}
	if limit <= 0 {
		limit = 5
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	query := s.client.GraphQL().Get().
		WithClassName(ReasoningClassName).
		WithFields(s.queryFields()...).
		WithNearVector(nearVector).
		WithLimit(limit)

	if where := buildWhere(filter); where != nil {
		query = query.WithWhere(where)
	}

	var result *models.GraphQLResponse
	err := s.withRetry(ctx, "search", func() error {
		var doErr error
		result, doErr = query.Do(ctx)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("searching reasoning: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("query error: %s", result.Errors[0].Message)
	}

	docs, scores := parseResults(result)
	out := make([]SearchResult, len(docs))
	for i := range docs {
		out[i] = SearchResult{Document: docs[i], Score: scores[i]}
	}
	return out, nil
}

// Get returns one document by its docId.
func (s *WeaviateStore) Get(ctx context.Context, id string) (*Document, error) {
	where := filters.Where().
		WithPath([]string{"docId"}).
		WithOperator(filters.Equal).
		WithValueString(id)

	result, err := s.client.GraphQL().Get().
		WithClassName(ReasoningClassName).
		WithFields(s.queryFields()...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying reasoning: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("query error: %s", result.Errors[0].Message)
	}

	docs, _ := parseResults(result)
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

// Delete removes one document by its docId.
func (s *WeaviateStore) Delete(ctx context.Context, id string) error {
	weaviateID, err := s.weaviateID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.Data().Deleter().
		WithClassName(ReasoningClassName).
		WithID(weaviateID).
		Do(ctx); err != nil {
		return fmt.Errorf("deleting reasoning: %w", err)
	}
	return nil
}

// DeleteByFilter batch-deletes all matching documents.
func (s *WeaviateStore) DeleteByFilter(ctx context.Context, filter *Filter) (int, error) {
	where := buildWhere(filter)
	if where == nil {
		return 0, errors.New("refusing unfiltered batch delete")
	}

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ReasoningClassName).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch delete failed: %w", err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}

// Count returns the number of stored documents.
func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(ReasoningClassName).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregating reasoning: %w", err)
	}

	aggMap, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := aggMap[ReasoningClassName].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, ok := groups[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := group["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// Close is a no-op: the weaviate client holds no closable resources.
func (s *WeaviateStore) Close() error {
	return nil
}

// weaviateID resolves a docId to the backing object UUID.
func (s *WeaviateStore) weaviateID(ctx context.Context, docID string) (string, error) {
	where := filters.Where().
		WithPath([]string{"docId"}).
		WithOperator(filters.Equal).
		WithValueString(docID)

	result, err := s.client.GraphQL().Get().
		WithClassName(ReasoningClassName).
		WithFields(
			graphql.Field{Name: "docId"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
		).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("finding Weaviate ID: %w", err)
	}
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("query error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return "", ErrNotFound
	}
	objects, ok := data[ReasoningClassName].([]interface{})
	if !ok || len(objects) == 0 {
		return "", ErrNotFound
	}
	obj, ok := objects[0].(map[string]interface{})
	if !ok {
		return "", ErrNotFound
	}
	additional, ok := obj["_additional"].(map[string]interface{})
	if !ok {
		return "", errors.New("missing _additional field")
	}
	id, ok := additional["id"].(string)
	if !ok {
		return "", errors.New("missing id in _additional")
	}
	return id, nil
}

func (s *WeaviateStore) queryFields() []graphql.Field {
	return []graphql.Field{
		{Name: "docId"},
		{Name: "content"},
		{Name: "bugId"},
		{Name: "testName"},
		{Name: "iteration"},
		{Name: "category"},
		{Name: "source"},
		{Name: "timestamp"},
		{Name: "tags"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
}

// buildWhere converts a Filter into a Weaviate where clause. Nil when
// the filter is empty.
func buildWhere(filter *Filter) *filters.WhereBuilder {
	if filter.IsZero() {
		return nil
	}

	var operands []*filters.WhereBuilder
	if filter.BugID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"bugId"}).
			WithOperator(filters.Equal).
			WithValueString(filter.BugID))
	}
	if filter.TestName != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"testName"}).
			WithOperator(filters.Equal).
			WithValueString(filter.TestName))
	}
	if filter.Category != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueString(filter.Category))
	}
	if filter.Tag != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"tags"}).
			WithOperator(filters.ContainsAny).
			WithValueString(filter.Tag))
	}

	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}

// parseResults converts a GraphQL response into documents and scores.
func parseResults(result *models.GraphQLResponse) ([]Document, []float64) {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[ReasoningClassName].([]interface{})
	if !ok {
		return nil, nil
	}

	docs := make([]Document, 0, len(objects))
	scores := make([]float64, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{
			ID:      getString(m, "docId"),
			Content: getString(m, "content"),
			Metadata: Metadata{
				BugID:     getString(m, "bugId"),
				TestName:  getString(m, "testName"),
				Iteration: getInt(m, "iteration"),
				Category:  getString(m, "category"),
				Source:    getString(m, "source"),
				Timestamp: getString(m, "timestamp"),
				Tags:      getStrings(m, "tags"),
			},
		}

		score := 0.0
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				score = certainty
			}
		}
		docs = append(docs, doc)
		scores = append(scores, score)
	}
	return docs, scores
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

func getStrings(m map[string]interface{}, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
