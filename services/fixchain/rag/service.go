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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultServiceTimeout bounds one embedding service request.
const DefaultServiceTimeout = 30 * time.Second

// ServiceEmbedder produces embeddings through a self-hosted embedding
// service over HTTP. An alternative to OpenAI when reasoning must not
// leave the machine.
//
// Thread Safety: Safe for concurrent use.
type ServiceEmbedder struct {
	baseURL    string
	dimensions int
	httpClient *http.Client
}

// NewServiceEmbedder creates a client for the embedding service at
// baseURL. dimensions must match the model the service serves.
func NewServiceEmbedder(baseURL string, dimensions int) (*ServiceEmbedder, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL must not be empty")
	}
	if dimensions <= 0 {
		return nil, errors.New("dimensions must be positive")
	}
	return &ServiceEmbedder{
		baseURL:    baseURL,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: DefaultServiceTimeout},
	}, nil
}

// WithServiceTimeout sets a custom request timeout.
func (e *ServiceEmbedder) WithServiceTimeout(timeout time.Duration) *ServiceEmbedder {
	e.httpClient.Timeout = timeout
	return e
}

// Name returns the provider name.
func (e *ServiceEmbedder) Name() string {
	return "embedding_service"
}

// Dimensions returns the configured vector width.
func (e *ServiceEmbedder) Dimensions() int {
	return e.dimensions
}

type serviceEmbedRequest struct {
	Texts []string `json:"texts"`
}

type serviceEmbedResponse struct {
	Model   string      `json:"model"`
	Vectors [][]float32 `json:"vectors"`
	Dim     int         `json:"dim"`
}

// Embed converts one text into a vector.
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text must not be empty")
	}
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts several texts in one request, preserving order.
func (e *ServiceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts must not be empty")
	}

	bodyBytes, err := json.Marshal(serviceEmbedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/batch_embed", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp serviceEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(embResp.Vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d vectors, got %d", len(texts), len(embResp.Vectors))
	}
	return embResp.Vectors, nil
}

// Health checks whether the embedding service is reachable and ready.
func (e *ServiceEmbedder) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
