// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()
	assert.Equal(t, "simdeck", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterPrometheus, cfg.MetricExporter)
}

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutTraceAndPrometheusMetrics(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterStdout
	cfg.MetricExporter = ExporterPrometheus
	cfg.Writer = &buf
	reg := prometheus.NewRegistry()

	p, err := Init(context.Background(), cfg, reg)
	require.NoError(t, err)

	_, span := p.Tracer.Start(context.Background(), "GET /graph/task/{id}")
	span.End()

	rec, err := NewPhaseRecorder(p.Meter)
	require.NoError(t, err)
	graph := func(status orchestrator.PhaseStatus) orchestrator.State {
		return orchestrator.State{Phases: []orchestrator.PhaseView{{Phase: orchestrator.PhaseGraph, Name: "graph", Status: status}}}
	}
	rec.Observe(context.Background(), graph(orchestrator.StatusRunning))
	rec.Observe(context.Background(), graph(orchestrator.StatusCompleted))

	// The bridge reads from the live meter provider, so gather before shutdown.
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.True(t, hasPrefix(names, "simdeck_phase_duration"), "families: %v", names)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "GET /graph/task/{id}")
}

func hasPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func TestPhaseRecorder_RecordsDurationOnLeavingRunning(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	rec, err := NewPhaseRecorder(mp.Meter("test"))
	require.NoError(t, err)
	clock := time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return clock }

	state := func(status orchestrator.PhaseStatus) orchestrator.State {
		return orchestrator.State{Phases: []orchestrator.PhaseView{{Phase: orchestrator.PhaseRun, Name: "run", Status: status}}}
	}
	ctx := context.Background()
	rec.Observe(ctx, state(orchestrator.StatusIdle))
	rec.Observe(ctx, state(orchestrator.StatusRunning))
	rec.Observe(ctx, state(orchestrator.StatusRunning))
	clock = clock.Add(90 * time.Second)
	rec.Observe(ctx, state(orchestrator.StatusCompleted))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var (
		sum         float64
		count       uint64
		transitions int64
	)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					sum += dp.Sum
					count += dp.Count
				}
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					transitions += dp.Value
				}
			}
		}
	}
	assert.Equal(t, uint64(1), count)
	assert.InDelta(t, 90, sum, 0.001)
	assert.Equal(t, int64(2), transitions, "running and completed; the initial idle is not a transition")
}
