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

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// openAIModelDimensions maps embedding models to their vector widths.
var openAIModelDimensions = map[string]int{
	string(openai.SmallEmbedding3): 1536,
	string(openai.LargeEmbedding3): 3072,
	string(openai.AdaEmbeddingV2):  1536,
}

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = string(openai.SmallEmbedding3)

// OpenAIEmbedder produces embeddings through the OpenAI API, rate
// limited so batch stores do not trip the account limit.
//
// Thread Safety: Safe for concurrent use.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// OpenAIOption configures the OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithModel sets the embedding model.
func WithModel(model string) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.model = model
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithOpenAILogger sets the logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		e.logger = logger
	}
}

// NewOpenAIEmbedder creates an embedder for the given API key.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key must not be empty")
	}

	e := &OpenAIEmbedder{
		client:  openai.NewClient(apiKey),
		model:   DefaultEmbeddingModel,
		limiter: rate.NewLimiter(rate.Limit(10), 2),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	dims, ok := openAIModelDimensions[e.model]
	if !ok {
		return nil, fmt.Errorf("unknown embedding model: %s", e.model)
	}
	e.dimensions = dims
	e.logger = e.logger.With(
		slog.String("component", "openai_embedder"),
		slog.String("model", e.model),
	)
	return e, nil
}

// Name returns the provider name.
func (e *OpenAIEmbedder) Name() string {
	return "openai"
}

// Dimensions returns the vector width of the configured model.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Embed converts one text into a vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts several texts in one API call, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts must not be empty")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	e.logger.Debug("Embedded batch", slog.Int("count", len(texts)))
	return vectors, nil
}
