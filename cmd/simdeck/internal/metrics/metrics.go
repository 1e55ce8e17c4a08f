// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics provides Prometheus instrumentation for simdeck.
//
// # Description
//
// One Metrics value observes the whole client:
//   - Backend requests by route and status class, with latency
//   - Mutation retries by operation
//   - Poll outcomes by poller (update, transient_error, completed, ...)
//   - The current pipeline phase and setup sub-phase
//   - Reconcile log growth and dropped duplicates by stream
//
// Metrics are exposed by the live viewer at /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "simdeck"

// phases lists every phase label the phase gauge carries.
var phases = []string{"graph", "setup", "run", "report", "done"}

// Metrics holds every simdeck collector.
type Metrics struct {
	// RequestsTotal counts backend requests.
	// Labels: method, route, status (2xx, 4xx, 5xx, transport)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures backend request latency.
	// Labels: route
	RequestDurationSeconds *prometheus.HistogramVec

	// RetriesTotal counts mutation retries.
	// Labels: operation
	RetriesTotal *prometheus.CounterVec

	// PollsTotal counts poll outcomes.
	// Labels: poller, outcome
	PollsTotal *prometheus.CounterVec

	// Phase is 1 for the current phase and 0 for the others.
	// Labels: phase
	Phase *prometheus.GaugeVec

	// SetupStep is the current setup sub-phase (0 init .. 4 ready).
	SetupStep prometheus.Gauge

	// RecordsTotal counts reconcile log records.
	// Labels: stream (actions, profiles), result (added, duplicate)
	RecordsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	_ api.RequestObserver   = (*Metrics)(nil)
	_ orchestrator.Observer = (*Metrics)(nil)
)

// New creates and registers all collectors on a private registry.
//
// # Description
//
// A private registry keeps repeated construction (tests, one orchestrator
// per command) free of duplicate registration panics. Go runtime and
// process collectors are registered alongside.
//
// # Outputs
//
//   - *Metrics: Ready to hand to api.WithObserver and
//     orchestrator.WithObserver
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "backend",
				Name:      "requests_total",
				Help:      "Total backend requests by method, route and status class",
			},
			[]string{"method", "route", "status"},
		),

		RequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "backend",
				Name:      "request_duration_seconds",
				Help:      "Backend request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120, 300},
			},
			[]string{"route"},
		),

		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "backend",
				Name:      "retries_total",
				Help:      "Total retries of mutating backend calls",
			},
			[]string{"operation"},
		),

		PollsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "poller",
				Name:      "polls_total",
				Help:      "Total poll probes by poller and outcome",
			},
			[]string{"poller", "outcome"},
		),

		Phase: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "phase",
				Help:      "1 for the current pipeline phase, 0 otherwise",
			},
			[]string{"phase"},
		),

		SetupStep: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "setup_step",
				Help:      "Current environment setup sub-phase, 0 init to 4 ready",
			},
		),

		RecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "reconcile",
				Name:      "records_total",
				Help:      "Streamed records by stream and whether they were new or duplicates",
			},
			[]string{"stream", "result"},
		),

		registry: reg,
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// Observer Implementations
// =============================================================================

// ObserveRequest implements api.RequestObserver. A zero status means the
// request never got a response.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.RequestDurationSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveRetry implements api.RequestObserver.
func (m *Metrics) ObserveRetry(operation string, _ int) {
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// ObservePoll implements poller.Observer.
func (m *Metrics) ObservePoll(poller, outcome string) {
	m.PollsTotal.WithLabelValues(poller, outcome).Inc()
}

// SetPhase implements orchestrator.Observer.
func (m *Metrics) SetPhase(phase string, setupStep int) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.Phase.WithLabelValues(p).Set(v)
	}
	m.SetupStep.Set(float64(setupStep))
}

// ObserveDedup implements orchestrator.Observer.
func (m *Metrics) ObserveDedup(stream string, added, dropped int) {
	if added > 0 {
		m.RecordsTotal.WithLabelValues(stream, "added").Add(float64(added))
	}
	if dropped > 0 {
		m.RecordsTotal.WithLabelValues(stream, "duplicate").Add(float64(dropped))
	}
}

func statusClass(status int) string {
	if status <= 0 {
		return "transport"
	}
	return strconv.Itoa(status/100) + "xx"
}
