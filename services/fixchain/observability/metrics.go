// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the test
// execution engine.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "fixchain"

// Subsystem for test execution metrics
const executionSubsystem = "execution"

// Metrics holds all Prometheus metrics for test execution. Initialize
// once at startup via NewMetrics().
type Metrics struct {
	// TestsTotal counts completed test runs.
	// Labels: test_type, status (passed, failed, error)
	TestsTotal *prometheus.CounterVec

	// IterationsPerTest measures how many attempts a test used.
	// Labels: test_type
	IterationsPerTest *prometheus.HistogramVec

	// TestDurationSeconds measures wall-clock test duration.
	// Labels: test_type, status
	TestDurationSeconds *prometheus.HistogramVec

	// IssuesFound counts issues reported by analyzers.
	// Labels: tool, severity
	IssuesFound *prometheus.CounterVec

	// ReasoningStoresTotal counts reasoning store writes.
	// Labels: outcome (success, validation_error, embedding_error, store_error)
	ReasoningStoresTotal *prometheus.CounterVec

	// ActiveTests gauges currently running tests.
	ActiveTests prometheus.Gauge
}

// NewMetrics creates and registers the metric set with the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: executionSubsystem,
			Name:      "tests_total",
			Help:      "Completed test runs by type and final status.",
		}, []string{"test_type", "status"}),

		IterationsPerTest: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: executionSubsystem,
			Name:      "iterations_per_test",
			Help:      "Attempts used per test run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}, []string{"test_type"}),

		TestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: executionSubsystem,
			Name:      "test_duration_seconds",
			Help:      "Wall-clock duration of test runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"test_type", "status"}),

		IssuesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: executionSubsystem,
			Name:      "issues_found_total",
			Help:      "Issues reported by analyzers.",
		}, []string{"tool", "severity"}),

		ReasoningStoresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reasoning",
			Name:      "stores_total",
			Help:      "Reasoning store writes by outcome.",
		}, []string{"outcome"}),

		ActiveTests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: executionSubsystem,
			Name:      "active_tests",
			Help:      "Tests currently running.",
		}),
	}
}

// ObserveTest records one completed test run.
func (m *Metrics) ObserveTest(testType, status string, iterations int, duration time.Duration) {
	m.TestsTotal.WithLabelValues(testType, status).Inc()
	m.IterationsPerTest.WithLabelValues(testType).Observe(float64(iterations))
	m.TestDurationSeconds.WithLabelValues(testType, status).Observe(duration.Seconds())
}

// ObserveIssue records one analyzer finding.
func (m *Metrics) ObserveIssue(tool, severity string) {
	m.IssuesFound.WithLabelValues(tool, severity).Inc()
}
