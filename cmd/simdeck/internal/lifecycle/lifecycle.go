// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle tears down a remote simulation environment.
//
// Teardown escalates: a live environment is asked to close gracefully
// within a bounded timeout; if that fails, or if the environment is gone
// but the run still reports running, the run is force-stopped. Nothing is
// mutated when nothing is running.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
)

// Action is what a teardown ended up doing.
type Action string

const (
	// ActionNone means nothing was running; no mutating call was made.
	ActionNone Action = "none"

	// ActionClosed means the environment confirmed a graceful close.
	ActionClosed Action = "closed"

	// ActionForced means the run was force-stopped.
	ActionForced Action = "forced_stop"
)

// Result describes a finished teardown.
type Result struct {
	Action Action

	// EnvAlive is the liveness answer, false when the check failed.
	EnvAlive bool

	// LivenessErr is set when env-status could not be read. It is never
	// fatal on its own.
	LivenessErr error

	// CloseErr is the graceful-close failure that triggered escalation.
	CloseErr error

	Elapsed time.Duration
}

// Hint carries what the caller already knows about the run.
type Hint struct {
	// RunnerStatus is the last observed runner_status. When empty the
	// manager queries run-status itself.
	RunnerStatus string
}

// Sink receives user-facing progress lines.
type Sink func(level, msg string)

// Manager runs teardowns against one backend.
type Manager struct {
	backend      api.Backend
	logger       *slog.Logger
	closeTimeout time.Duration
	sink         Sink
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCloseTimeout bounds the graceful close call.
func WithCloseTimeout(d time.Duration) Option {
	return func(m *Manager) { m.closeTimeout = d }
}

// WithSink routes progress lines to a diagnostic log.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// NewManager creates a Manager.
func NewManager(backend api.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:      backend,
		logger:       slog.Default(),
		closeTimeout: util.DefaultGracefulCloseTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.closeTimeout = util.EnforceMinTimeout(m.closeTimeout, util.MinRequestTimeout)
	return m
}

// CloseTimeout returns the effective graceful close bound.
func (m *Manager) CloseTimeout() time.Duration { return m.closeTimeout }

// Teardown stops whatever is running for a simulation.
//
// # Description
//
// Steps, each of which is logged:
//
//  1. Query env-status. A failure here is logged and treated as "not alive".
//  2. Alive: call close-env bounded by the close timeout. On error or a
//     non-success envelope, escalate to a forced stop.
//  3. Not alive: if the run still reports an active runner status, force
//     stop directly.
//  4. Otherwise do nothing.
//
// # Outputs
//
//   - Result: What happened
//   - error: *api.LifecycleCleanupFailure only when the forced stop itself
//     fails; graceful close failures are recovered by escalation
func (m *Manager) Teardown(ctx context.Context, simulationID string, hint Hint) (res Result, err error) {
	start := time.Now()
	res = Result{Action: ActionNone}
	defer func() { res.Elapsed = time.Since(start) }()

	if simulationID == "" {
		return res, fmt.Errorf("%w: teardown needs a simulation id", api.ErrInvalidRequest)
	}

	m.emit("info", "checking environment status")
	env, envErr := m.backend.GetEnvStatus(ctx, simulationID)
	if envErr != nil {
		res.LivenessErr = envErr
		m.logger.Warn("env status check failed", "simulation_id", simulationID, "error", envErr)
		m.emit("warn", fmt.Sprintf("environment status unavailable: %v", envErr))
	} else {
		res.EnvAlive = env.EnvAlive
	}

	if res.EnvAlive {
		m.emit("info", fmt.Sprintf("closing environment (timeout %s)", m.closeTimeout))
		closeErr := m.closeEnv(ctx, simulationID)
		if closeErr == nil {
			m.logger.Info("environment closed", "simulation_id", simulationID)
			m.emit("info", "environment closed")
			res.Action = ActionClosed
			return res, nil
		}
		res.CloseErr = closeErr
		m.logger.Warn("graceful close failed, forcing stop", "simulation_id", simulationID, "error", closeErr)
		m.emit("warn", fmt.Sprintf("graceful close failed: %v; forcing stop", closeErr))
		return m.forceStop(ctx, simulationID, res)
	}

	status := hint.RunnerStatus
	if status == "" {
		if rs, rsErr := m.backend.GetRunStatus(ctx, simulationID); rsErr != nil {
			m.logger.Warn("run status check failed", "simulation_id", simulationID, "error", rsErr)
		} else {
			status = rs.RunnerStatus
		}
	}
	if (api.RunStatus{RunnerStatus: status}).IsActive() {
		m.emit("warn", fmt.Sprintf("environment not alive but run is %s; forcing stop", status))
		return m.forceStop(ctx, simulationID, res)
	}

	m.emit("info", "nothing running")
	return res, nil
}

func (m *Manager) closeEnv(ctx context.Context, simulationID string) error {
	cctx, cancel := context.WithTimeout(ctx, m.closeTimeout)
	defer cancel()

	_, err := m.backend.CloseEnv(cctx, api.CloseEnvRequest{
		SimulationID: simulationID,
		Timeout:      int(m.closeTimeout / time.Second),
	})
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("close env timed out after %s: %w", m.closeTimeout, err)
	}
	return err
}

func (m *Manager) forceStop(ctx context.Context, simulationID string, res Result) (Result, error) {
	res.Action = ActionForced
	if _, err := m.backend.StopSimulation(ctx, simulationID); err != nil {
		m.logger.Error("forced stop failed", "simulation_id", simulationID, "error", err)
		m.emit("error", fmt.Sprintf("forced stop failed: %v", err))
		return res, &api.LifecycleCleanupFailure{
			SimulationID: simulationID,
			Err:          errors.Join(res.CloseErr, err),
		}
	}
	m.logger.Info("simulation force-stopped", "simulation_id", simulationID)
	m.emit("info", "simulation stopped")
	return res, nil
}

func (m *Manager) emit(level, msg string) {
	if m.sink != nil {
		m.sink(level, msg)
	}
}
