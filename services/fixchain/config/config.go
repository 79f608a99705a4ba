// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration from a YAML file with
// environment variable overrides. Settings is an explicit value passed
// to whoever needs it; there is no package-level singleton.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fixchain/fixchain/services/fixchain/model"
)

// Settings is the full service configuration.
type Settings struct {
	// Server configures the HTTP API.
	Server ServerSettings `yaml:"server"`

	// Run is the default per-test run configuration.
	Run model.RunConfig `yaml:"run"`

	// Storage configures the embedded result store.
	Storage StorageSettings `yaml:"storage"`

	// Reasoning configures the vector-backed reasoning store.
	Reasoning ReasoningSettings `yaml:"reasoning"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageSettings configures the embedded document store.
type StorageSettings struct {
	// Path is the BadgerDB directory. Empty with InMemory false is
	// invalid.
	Path string `yaml:"path"`

	// InMemory disables persistence. For tests and one-shot runs.
	InMemory bool `yaml:"in_memory"`
}

// ReasoningSettings configures embeddings and the vector store.
type ReasoningSettings struct {
	// Enabled turns the reasoning side channel on.
	Enabled bool `yaml:"enabled"`

	// Provider selects the embedder: openai or service.
	Provider string `yaml:"provider"`

	// OpenAIModel is the embedding model for the openai provider.
	OpenAIModel string `yaml:"openai_model"`

	// ServiceURL is the embedding service base URL for the service
	// provider.
	ServiceURL string `yaml:"service_url"`

	// ServiceDimensions is the vector width the service produces.
	ServiceDimensions int `yaml:"service_dimensions"`

	// WeaviateHost is the vector database host:port. Empty selects the
	// in-memory store.
	WeaviateHost string `yaml:"weaviate_host"`

	// WeaviateScheme is http or https.
	WeaviateScheme string `yaml:"weaviate_scheme"`
}

// Default returns the settings used when no file is present.
func Default() Settings {
	return Settings{
		Server: ServerSettings{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Run: model.DefaultRunConfig(),
		Storage: StorageSettings{
			Path: "./data/fixchain",
		},
		Reasoning: ReasoningSettings{
			Provider:       "openai",
			OpenAIModel:    "text-embedding-3-small",
			WeaviateScheme: "http",
		},
		LogLevel: "info",
	}
}

// Load reads settings from path, falling back to defaults when path is
// empty, then applies environment overrides.
func Load(path string) (Settings, error) {
	settings := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	settings.applyEnv()
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// applyEnv overrides file values from the environment. Only the knobs
// that change between deployments are exposed.
func (s *Settings) applyEnv() {
	if v := os.Getenv("FIXCHAIN_HOST"); v != "" {
		s.Server.Host = v
	}
	if v := os.Getenv("FIXCHAIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.Server.Port = port
		}
	}
	if v := os.Getenv("FIXCHAIN_STORAGE_PATH"); v != "" {
		s.Storage.Path = v
	}
	if v := os.Getenv("FIXCHAIN_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("FIXCHAIN_WEAVIATE_HOST"); v != "" {
		s.Reasoning.WeaviateHost = v
		s.Reasoning.Enabled = true
	}
	if v := os.Getenv("FIXCHAIN_EMBEDDING_SERVICE_URL"); v != "" {
		s.Reasoning.ServiceURL = v
		s.Reasoning.Provider = "service"
	}
	if v := os.Getenv("FIXCHAIN_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Run.MaxIterations = n
		}
	}
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Server.Port)
	}
	if err := s.Run.Validate(); err != nil {
		return fmt.Errorf("run config: %w", err)
	}
	if !s.Storage.InMemory && s.Storage.Path == "" {
		return errors.New("storage path required unless in_memory is set")
	}
	if s.Reasoning.Enabled {
		switch s.Reasoning.Provider {
		case "openai":
			if s.Reasoning.OpenAIModel == "" {
				return errors.New("openai_model required for the openai provider")
			}
		case "service":
			if s.Reasoning.ServiceURL == "" {
				return errors.New("service_url required for the service provider")
			}
			if s.Reasoning.ServiceDimensions <= 0 {
				return errors.New("service_dimensions must be positive")
			}
		default:
			return fmt.Errorf("unknown embedding provider: %s", s.Reasoning.Provider)
		}
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", s.LogLevel)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (s *ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
