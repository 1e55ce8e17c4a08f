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
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
)

// PhaseRecorder turns orchestrator state updates into phase metrics.
//
// # Description
//
// It watches each phase's status. When a phase enters running its start
// time is noted; when it leaves running the duration is recorded on the
// phase duration histogram with the final status as an attribute.
//
// # Thread Safety
//
// Not safe for concurrent use. Feed it from one subscriber goroutine.
type PhaseRecorder struct {
	duration    metric.Float64Histogram
	transitions metric.Int64Counter

	last    map[orchestrator.Phase]orchestrator.PhaseStatus
	started map[orchestrator.Phase]time.Time
	now     func() time.Time
}

// NewPhaseRecorder creates the instruments on meter.
func NewPhaseRecorder(meter metric.Meter) (*PhaseRecorder, error) {
	duration, err := meter.Float64Histogram(
		"simdeck.phase.duration",
		metric.WithDescription("Wall time a pipeline phase spent running"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 300, 900, 1800, 3600),
	)
	if err != nil {
		return nil, fmt.Errorf("create phase duration histogram: %w", err)
	}
	transitions, err := meter.Int64Counter(
		"simdeck.phase.transitions",
		metric.WithDescription("Phase status changes by phase and new status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create phase transition counter: %w", err)
	}
	return &PhaseRecorder{
		duration:    duration,
		transitions: transitions,
		last:        make(map[orchestrator.Phase]orchestrator.PhaseStatus),
		started:     make(map[orchestrator.Phase]time.Time),
		now:         time.Now,
	}, nil
}

// Observe records every phase whose status changed since the last call.
func (r *PhaseRecorder) Observe(ctx context.Context, st orchestrator.State) {
	for _, pv := range st.Phases {
		prev, seen := r.last[pv.Phase]
		if seen && prev == pv.Status {
			continue
		}
		r.last[pv.Phase] = pv.Status

		attrs := metric.WithAttributes(
			attribute.String("phase", pv.Name),
			attribute.String("status", string(pv.Status)),
		)
		if seen || pv.Status != orchestrator.StatusIdle {
			r.transitions.Add(ctx, 1, attrs)
		}

		switch {
		case pv.Status == orchestrator.StatusRunning:
			r.started[pv.Phase] = r.now()
		case prev == orchestrator.StatusRunning:
			if start, ok := r.started[pv.Phase]; ok {
				r.duration.Record(ctx, r.now().Sub(start).Seconds(), attrs)
				delete(r.started, pv.Phase)
			}
		}
	}
}
