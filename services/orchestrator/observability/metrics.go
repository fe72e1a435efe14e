// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the homeops API.
//
// # Description
//
// Metrics cover the decisions the API makes rather than raw traffic alone:
//   - Request counters and latency by endpoint
//   - Safety stops by layer (1 = keyword catalogue, 2 = LLM) and pattern
//   - Evidence gate outcomes on /ask
//   - Citations kept and dropped after matching
//   - Session store size and evictions by reason
//   - LLM call latency by operation
//   - Retrieval outcomes
//
// Metrics are exposed via /metrics.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Every method is a no-op on a nil
// *Metrics, so components can run without instrumentation in tests.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "homeops"

// Metrics holds every homeops collector.
type Metrics struct {
	// RequestsTotal labels: endpoint, status (success, client_error, error)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds labels: endpoint
	RequestDurationSeconds *prometheus.HistogramVec

	// SafetyStopsTotal labels: layer (1, 2), pattern (catalogue name or "llm")
	SafetyStopsTotal *prometheus.CounterVec

	// EvidenceGateTotal labels: outcome (sufficient, insufficient)
	EvidenceGateTotal *prometheus.CounterVec

	// CitationsTotal labels: result (kept, dropped)
	CitationsTotal *prometheus.CounterVec

	// SessionsActive is the current SessionStore size.
	SessionsActive prometheus.Gauge

	// SessionEvictionsTotal labels: reason (expired, capacity, consumed)
	SessionEvictionsTotal *prometheus.CounterVec

	// LLMCallDurationSeconds labels: operation, status (success, error)
	LLMCallDurationSeconds *prometheus.HistogramVec

	// RetrievalTotal labels: outcome (filtered, unfiltered_fallback, empty, error)
	RetrievalTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg.
//
// # Inputs
//
//   - reg: Registry to register with. prometheus.DefaultRegisterer in
//     production, prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics on duplicate registration, like promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),

		SafetyStopsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "safety",
				Name:      "stops_total",
				Help:      "Troubleshooting sessions stopped for safety by layer and pattern",
			},
			[]string{"layer", "pattern"},
		),

		EvidenceGateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "rag",
				Name:      "evidence_gate_total",
				Help:      "Evidence sufficiency decisions on /ask",
			},
			[]string{"outcome"},
		),

		CitationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "rag",
				Name:      "citations_total",
				Help:      "LLM citations kept or dropped after matching against retrieved sources",
			},
			[]string{"result"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Troubleshooting sessions currently held between intake and diagnosis",
			},
		),

		SessionEvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sessions",
				Name:      "evictions_total",
				Help:      "Sessions removed from the store by reason",
			},
			[]string{"reason"},
		),

		LLMCallDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "call_duration_seconds",
				Help:      "Structured LLM call latency by operation",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation", "status"},
		),

		RetrievalTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "rag",
				Name:      "retrievals_total",
				Help:      "Document retrievals by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels an API route.
type Endpoint string

const (
	EndpointTroubleshootStart    Endpoint = "troubleshoot_start"
	EndpointTroubleshootDiagnose Endpoint = "troubleshoot_diagnose"
	EndpointAsk                  Endpoint = "ask"
	EndpointPartsLookup          Endpoint = "parts_lookup"
)

// Eviction reasons for RecordSessionEviction.
const (
	EvictionExpired  = "expired"
	EvictionCapacity = "capacity"
	EvictionConsumed = "consumed"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request with its HTTP status code.
func (m *Metrics) RecordRequest(endpoint Endpoint, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	switch {
	case statusCode >= 500:
		status = "error"
	case statusCode >= 400:
		status = "client_error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
	m.RequestDurationSeconds.WithLabelValues(string(endpoint)).Observe(elapsed.Seconds())
}

// RecordSafetyStop records a safety stop. pattern is the catalogue pattern
// name for layer 1 and "llm" for layer 2.
func (m *Metrics) RecordSafetyStop(layer int, pattern string) {
	if m == nil {
		return
	}
	m.SafetyStopsTotal.WithLabelValues(strconv.Itoa(layer), pattern).Inc()
}

// RecordEvidenceGate records one gate decision.
func (m *Metrics) RecordEvidenceGate(sufficient bool) {
	if m == nil {
		return
	}
	outcome := "sufficient"
	if !sufficient {
		outcome = "insufficient"
	}
	m.EvidenceGateTotal.WithLabelValues(outcome).Inc()
}

// RecordCitations records the result of citation matching for one answer.
func (m *Metrics) RecordCitations(kept, dropped int) {
	if m == nil {
		return
	}
	m.CitationsTotal.WithLabelValues("kept").Add(float64(kept))
	m.CitationsTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// RecordSessionEviction counts one removed session.
func (m *Metrics) RecordSessionEviction(reason string) {
	if m == nil {
		return
	}
	m.SessionEvictionsTotal.WithLabelValues(reason).Inc()
}

// ObserveLLMCall records one logical LLM call including retries. Its
// signature matches llm.ResilienceOptions.Observe.
func (m *Metrics) ObserveLLMCall(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMCallDurationSeconds.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

// RecordRetrieval counts one retrieval by outcome.
func (m *Metrics) RecordRetrieval(outcome string) {
	if m == nil {
		return
	}
	m.RetrievalTotal.WithLabelValues(outcome).Inc()
}
