// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fixchain/fixchain/services/fixchain/executor"
	"github.com/fixchain/fixchain/services/fixchain/model"
	"github.com/fixchain/fixchain/services/fixchain/rag"
	"github.com/fixchain/fixchain/services/fixchain/runner"
)

// =============================================================================
// API CLIENT
// =============================================================================

// apiClient is a thin wrapper over the FixChain HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// do sends one request and decodes the JSON response into out. A nil
// out discards the body.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &errBody)
		if errBody.Error == "" {
			errBody.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if jsonOutput {
		var indented bytes.Buffer
		if err := json.Indent(&indented, raw, "", "  "); err == nil {
			fmt.Println(indented.String())
		} else {
			fmt.Println(string(raw))
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// -----------------------------------------------------------------------------
// Endpoints
// -----------------------------------------------------------------------------

func (c *apiClient) health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *apiClient) testTypes(ctx context.Context) ([]string, error) {
	var out struct {
		Types []string `json:"types"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/fixchain/tests/types", nil, &out)
	return out.Types, err
}

func (c *apiClient) runTest(ctx context.Context, req executor.TestRequest) (*executor.StoredResult, error) {
	var out executor.StoredResult
	if err := c.do(ctx, http.MethodPost, "/v1/fixchain/tests/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) runSuite(ctx context.Context, name string, reqs []executor.TestRequest) (*model.SuiteResult, error) {
	body := map[string]any{"suite_name": name, "tests": reqs}
	var out model.SuiteResult
	if err := c.do(ctx, http.MethodPost, "/v1/fixchain/tests/suite", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) listResults(ctx context.Context, testName string) ([]executor.StoredResult, error) {
	path := "/v1/fixchain/results"
	if testName != "" {
		path += "?test_name=" + testName
	}
	var out struct {
		Results []executor.StoredResult `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Results, err
}

func (c *apiClient) getResult(ctx context.Context, id string) (*executor.StoredResult, error) {
	var out executor.StoredResult
	if err := c.do(ctx, http.MethodGet, "/v1/fixchain/results/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) deleteResult(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/fixchain/results/"+id, nil, nil)
}

func (c *apiClient) history(ctx context.Context) ([]runner.HistoryEntry, runner.Stats, error) {
	var out struct {
		History []runner.HistoryEntry `json:"history"`
		Stats   runner.Stats          `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/fixchain/history", nil, &out)
	return out.History, out.Stats, err
}

func (c *apiClient) storeReasoning(ctx context.Context, content string, meta rag.Metadata) (string, error) {
	body := map[string]any{"content": content, "metadata": meta}
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/fixchain/reasoning", body, &out)
	return out.ID, err
}

func (c *apiClient) searchReasoning(ctx context.Context, query string, limit int, filter *rag.Filter) ([]rag.SearchResult, error) {
	body := map[string]any{"query": query, "limit": limit}
	if filter != nil {
		body["filter"] = filter
	}
	var out struct {
		Results []rag.SearchResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/fixchain/reasoning/search", body, &out)
	return out.Results, err
}

func (c *apiClient) deleteReasoning(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/fixchain/reasoning/"+id, nil, nil)
}

func (c *apiClient) deleteReasoningByBug(ctx context.Context, bugID string) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, "/v1/fixchain/reasoning/bug/"+bugID, nil, &out)
	return out.Deleted, err
}

func (c *apiClient) reasoningStats(ctx context.Context) (*rag.StoreStats, error) {
	var out rag.StoreStats
	if err := c.do(ctx, http.MethodGet, "/v1/fixchain/reasoning/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
