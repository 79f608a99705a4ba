// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the test execution engine and the reasoning
// store over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/fixchain/fixchain/services/fixchain/executor"
	"github.com/fixchain/fixchain/services/fixchain/observability"
	"github.com/fixchain/fixchain/services/fixchain/rag"
)

// Server wires the HTTP API to the executor and reasoning store.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	exec      *executor.Executor
	reasoning *rag.ReasoningStore
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates a server. reasoning may be nil, in which case the
// reasoning routes answer 503.
func New(exec *executor.Executor, reasoning *rag.ReasoningStore, metrics *observability.Metrics, logger *slog.Logger) (*Server, error) {
	if exec == nil {
		return nil, errors.New("executor must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		exec:      exec,
		reasoning: reasoning,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "http_server")),
	}, nil
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("fixchain-service"))
	router.Use(s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1/fixchain")
	{
		v1.GET("/tests/types", s.handleTestTypes)
		v1.POST("/tests/run", s.handleRunTest)
		v1.POST("/tests/suite", s.handleRunSuite)

		v1.GET("/history", s.handleHistory)

		v1.GET("/results", s.handleListResults)
		v1.GET("/results/:id", s.handleGetResult)
		v1.DELETE("/results/:id", s.handleDeleteResult)

		v1.POST("/reasoning", s.handleStoreReasoning)
		v1.POST("/reasoning/search", s.handleSearchReasoning)
		v1.GET("/reasoning/stats", s.handleReasoningStats)
		v1.DELETE("/reasoning/:id", s.handleDeleteReasoning)
		v1.DELETE("/reasoning/bug/:bugId", s.handleDeleteReasoningByBug)
	}
	return router
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"reasoning_enabled": s.reasoning != nil,
	})
}

// -----------------------------------------------------------------------------
// Test execution
// -----------------------------------------------------------------------------

func (s *Server) handleTestTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": s.exec.TestTypes()})
}

func (s *Server) handleRunTest(c *gin.Context) {
	var req executor.TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	start := time.Now()
	stored, err := s.exec.ExecuteTest(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, executor.ErrUnknownTestType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Test execution failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "test execution failed"})
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveTest(req.Type, string(stored.Result.FinalStatus),
			len(stored.Result.Attempts), time.Since(start))
		for _, issue := range stored.Result.AllIssues() {
			s.metrics.ObserveIssue(issue.Tool, issue.Severity.String())
		}
	}
	c.JSON(http.StatusOK, stored)
}

type suiteRequest struct {
	SuiteName string                 `json:"suite_name" binding:"required"`
	Tests     []executor.TestRequest `json:"tests" binding:"required,min=1"`
}

func (s *Server) handleRunSuite(c *gin.Context) {
	var req suiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	suite, err := s.exec.ExecuteSuite(c.Request.Context(), req.SuiteName, req.Tests)
	if err != nil {
		if errors.Is(err, executor.ErrUnknownTestType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Suite execution failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "suite execution failed"})
		return
	}
	c.JSON(http.StatusOK, suite)
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"history": s.exec.History(),
		"stats":   s.exec.HistoryStats(),
	})
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

func (s *Server) handleListResults(c *gin.Context) {
	results, err := s.exec.ListResults(c.Request.Context(), c.Query("test_name"))
	if err != nil {
		s.logger.Error("Listing results failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing results failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleGetResult(c *gin.Context) {
	stored, err := s.exec.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, executor.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "loading result failed"})
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (s *Server) handleDeleteResult(c *gin.Context) {
	if err := s.exec.DeleteResult(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, executor.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deleting result failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// -----------------------------------------------------------------------------
// Reasoning
// -----------------------------------------------------------------------------

// reasoningUnavailable answers 503 when no store is configured.
func (s *Server) reasoningUnavailable(c *gin.Context) bool {
	if s.reasoning == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reasoning store not configured"})
		return true
	}
	return false
}

type storeReasoningRequest struct {
	Content  string       `json:"content" binding:"required"`
	Metadata rag.Metadata `json:"metadata"`
}

func (s *Server) handleStoreReasoning(c *gin.Context) {
	if s.reasoningUnavailable(c) {
		return
	}

	var req storeReasoningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	id, err := s.reasoning.Store(c.Request.Context(), req.Content, req.Metadata)
	if err != nil {
		s.respondReasoningError(c, err, "storing reasoning failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type searchReasoningRequest struct {
	Query  string      `json:"query" binding:"required"`
	Limit  int         `json:"limit"`
	Filter *rag.Filter `json:"filter,omitempty"`
}

func (s *Server) handleSearchReasoning(c *gin.Context) {
	if s.reasoningUnavailable(c) {
		return
	}

	var req searchReasoningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	results, err := s.reasoning.Search(c.Request.Context(), req.Query, req.Limit, req.Filter)
	if err != nil {
		s.respondReasoningError(c, err, "searching reasoning failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleReasoningStats(c *gin.Context) {
	if s.reasoningUnavailable(c) {
		return
	}

	stats, err := s.reasoning.Stats(c.Request.Context())
	if err != nil {
		s.respondReasoningError(c, err, "reading reasoning stats failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDeleteReasoning(c *gin.Context) {
	if s.reasoningUnavailable(c) {
		return
	}

	if err := s.reasoning.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, rag.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.respondReasoningError(c, err, "deleting reasoning failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (s *Server) handleDeleteReasoningByBug(c *gin.Context) {
	if s.reasoningUnavailable(c) {
		return
	}

	n, err := s.reasoning.DeleteByBug(c.Request.Context(), c.Param("bugId"))
	if err != nil {
		s.respondReasoningError(c, err, "deleting reasoning by bug failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bug_id": c.Param("bugId"), "deleted": n})
}

// respondReasoningError maps typed reasoning errors to status codes.
func (s *Server) respondReasoningError(c *gin.Context, err error, fallback string) {
	var verr *rag.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		return
	}
	var eerr *rag.EmbeddingError
	if errors.As(err, &eerr) {
		s.logger.Error("Embedding provider failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "embedding provider unavailable"})
		return
	}
	var serr *rag.StoreError
	if errors.As(err, &serr) {
		s.logger.Error("Vector store failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector store unavailable"})
		return
	}
	s.logger.Error(fallback, slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
