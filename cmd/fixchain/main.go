// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fixchain starts the FixChain API server.
//
// FixChain drives iterative code quality checks (syntax, types,
// security) with a bounded retry budget per test, persists every
// attempt, and mirrors fix reasoning into a vector store for semantic
// retrieval.
//
// Usage:
//
//	go run ./cmd/fixchain
//	go run ./cmd/fixchain -config fixchain.yaml
//
// With the reasoning store backed by Weaviate:
//
//	FIXCHAIN_WEAVIATE_HOST=localhost:8080 OPENAI_API_KEY=sk-... go run ./cmd/fixchain
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8090/health
//
//	# Run a syntax check with up to 5 fix iterations
//	curl -X POST http://localhost:8090/v1/fixchain/tests/run \
//	  -H "Content-Type: application/json" \
//	  -d '{"type": "syntax_check", "source_file": "app/main.py", "max_iterations": 5}'
//
//	# Search stored fix reasoning
//	curl -X POST http://localhost:8090/v1/fixchain/reasoning/search \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "missing import", "limit": 5}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/fixchain/fixchain/services/fixchain/config"
	"github.com/fixchain/fixchain/services/fixchain/docstore"
	"github.com/fixchain/fixchain/services/fixchain/executor"
	"github.com/fixchain/fixchain/services/fixchain/observability"
	"github.com/fixchain/fixchain/services/fixchain/rag"
	"github.com/fixchain/fixchain/services/fixchain/server"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(settings.LogLevel)
	slog.SetDefault(logger)

	if settings.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logger); err != nil {
		logger.Error("Server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, settings config.Settings, logger *slog.Logger) error {
	shutdownTracing, err := initTracing(ctx)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(settings.Storage, logger)
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Result store close failed", slog.String("error", err.Error()))
		}
	}()

	reasoning, err := buildReasoning(ctx, settings.Reasoning, logger)
	if err != nil {
		return fmt.Errorf("build reasoning store: %w", err)
	}
	if reasoning != nil {
		defer func() {
			if err := reasoning.Close(); err != nil {
				logger.Warn("Reasoning store close failed", slog.String("error", err.Error()))
			}
		}()
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	execOpts := []executor.ExecutorOption{
		executor.WithExecutorLogger(logger),
		executor.WithMetrics(metrics),
	}
	if reasoning != nil {
		execOpts = append(execOpts, executor.WithReasoningStore(reasoning))
	}
	exec, err := executor.New(settings.Run, store, nil, execOpts...)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	srv, err := server.New(exec, reasoning, metrics, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         settings.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  settings.Server.ReadTimeout,
		WriteTimeout: settings.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting FixChain server",
			slog.String("address", httpServer.Addr),
			slog.Bool("reasoning_enabled", reasoning != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down FixChain server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// newLogger builds the process-wide JSON logger at the configured
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// initTracing installs a stdout trace exporter. Spans go to stdout in
// development; swap the exporter for OTLP when a collector exists.
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("fixchain-service")))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// openStore opens the embedded result store per the storage settings.
func openStore(settings config.StorageSettings, logger *slog.Logger) (*docstore.BadgerStore, error) {
	if settings.InMemory {
		cfg := docstore.InMemoryConfig()
		cfg.Logger = logger
		return docstore.OpenBadger(cfg)
	}
	cfg := docstore.DefaultConfig()
	cfg.Path = settings.Path
	cfg.Logger = logger
	return docstore.OpenBadger(cfg)
}

// buildReasoning wires the embedding provider and vector store from
// settings. Returns nil when the reasoning side channel is disabled.
func buildReasoning(ctx context.Context, settings config.ReasoningSettings, logger *slog.Logger) (*rag.ReasoningStore, error) {
	if !settings.Enabled {
		return nil, nil
	}

	var embedder rag.EmbeddingProvider
	switch settings.Provider {
	case "service":
		svc, err := rag.NewServiceEmbedder(settings.ServiceURL, settings.ServiceDimensions)
		if err != nil {
			return nil, err
		}
		embedder = svc
	default:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY required for the openai embedding provider")
		}
		oa, err := rag.NewOpenAIEmbedder(apiKey, rag.WithModel(settings.OpenAIModel))
		if err != nil {
			return nil, err
		}
		embedder = oa
	}

	var store rag.VectorStore
	if settings.WeaviateHost != "" {
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   settings.WeaviateHost,
			Scheme: settings.WeaviateScheme,
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate client: %w", err)
		}
		ws, err := rag.NewWeaviateStore(ctx, client, logger)
		if err != nil {
			return nil, err
		}
		store = ws
	} else {
		logger.Warn("No Weaviate host configured, reasoning uses the in-memory store")
		store = rag.NewInMemoryStore()
	}

	return rag.NewReasoningStore(embedder, store, rag.WithReasoningLogger(logger))
}
