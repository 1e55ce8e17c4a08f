// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/lifecycle"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/poller"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
)

// RunInput starts the simulation run phase.
type RunInput struct {
	// MaxRounds caps the run. Nil keeps the server default derived from
	// the simulation's time config.
	MaxRounds *int

	// Platform is twitter, reddit or parallel. Empty derives it from the
	// enabled platforms.
	Platform string

	EnableGraphMemoryUpdate bool
}

func needSetup(s *Session) error {
	if s.phases[PhaseSetup].status != StatusCompleted || s.simulationID == "" {
		return fmt.Errorf("%w: the environment is not ready", ErrPrerequisite)
	}
	return nil
}

// platformFor derives the start platform from the enabled platforms.
func (o *Orchestrator) platformFor(in RunInput) string {
	if in.Platform != "" {
		return in.Platform
	}
	switch {
	case o.cfg.EnableTwitter && !o.cfg.EnableReddit:
		return api.PlatformTwitter
	case o.cfg.EnableReddit && !o.cfg.EnableTwitter:
		return api.PlatformReddit
	default:
		return api.PlatformParallel
	}
}

// StartRun enters the simulation run phase.
//
// # Description
//
// Starts the simulation and two pollers: run status, which evaluates the
// completion gate, and run detail, which feeds the action reconcile log.
// The phase completes only when every started platform is done.
func (o *Orchestrator) StartRun(ctx context.Context, in RunInput) error {
	epoch, mode, err := o.enter(PhaseRun, needSetup)
	if err != nil {
		return err
	}
	switch mode {
	case entryBusy:
		return nil
	case entryReload:
		return o.reloadRun(ctx, epoch)
	}
	return o.startRun(ctx, epoch, in, false)
}

// Restart discards the current run and starts a fresh one.
//
// # Description
//
// Stops run and report pollers, bumps the epoch and zeroes run status,
// action log, dedup set and report state in one step under the session
// lock, then resubmits with force so the backend cleans up the previous
// run. A nil MaxRounds reverts to the server default.
func (o *Orchestrator) Restart(ctx context.Context, in RunInput) error {
	o.s.mu.Lock()
	if o.closed {
		o.s.mu.Unlock()
		return ErrClosed
	}
	if err := needSetup(o.s); err != nil {
		o.s.mu.Unlock()
		return err
	}
	o.stopPhase(PhaseRun)
	o.stopPhase(PhaseReport)
	o.s.epoch++
	o.s.resetFrom(PhaseRun)
	o.s.phases[PhaseRun].status = StatusRunning
	o.s.logf(PhaseRun, reconcile.LevelInfo, "Restarting simulation")
	epoch := o.s.epoch
	o.logger.Info("restarting run", "simulation_id", o.s.simulationID, "epoch", epoch)
	o.publish()
	o.s.mu.Unlock()

	return o.startRun(ctx, epoch, in, true)
}

// startRun submits the start request and launches the run pollers.
func (o *Orchestrator) startRun(ctx context.Context, epoch uint64, in RunInput, force bool) error {
	o.s.mu.Lock()
	simID := o.s.simulationID
	o.s.mu.Unlock()

	platform := o.platformFor(in)
	resp, err := o.backend.StartSimulation(ctx, api.StartRequest{
		SimulationID:            simID,
		Platform:                platform,
		MaxRounds:               in.MaxRounds,
		EnableGraphMemoryUpdate: in.EnableGraphMemoryUpdate,
		Force:                   force,
	})
	if err != nil {
		return o.failUnlessStale(epoch, PhaseRun, describeErr("start simulation", err))
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()

	platforms := Platforms(platform)
	o.s.runID = uuid.NewString()
	o.s.platforms = platforms
	o.s.maxRounds = nil
	if in.MaxRounds != nil {
		v := *in.MaxRounds
		o.s.maxRounds = &v
	}
	rs := resp.RunStatus
	o.s.run = &rs
	o.s.gate = EvaluateGate(rs, platforms)

	msg := fmt.Sprintf("Simulation started on %s: %d rounds", platform, rs.TotalRounds)
	if resp.MaxRoundsApplied != nil {
		msg += fmt.Sprintf(" (capped at %d)", *resp.MaxRoundsApplied)
	}
	if resp.ForceRestarted {
		msg += ", previous run cleaned"
	}
	o.s.logf(PhaseRun, reconcile.LevelInfo, "%s", msg)

	o.startRunPollers(epoch, simID, platforms)
	o.checkpoint()
	o.publish()
	return nil
}

// runTick maps a run status onto a poller tick.
func runTick(rs *api.RunStatus, platforms []string) poller.Tick[*api.RunStatus] {
	t := poller.Tick[*api.RunStatus]{
		Value:    rs,
		Status:   api.TaskRunning,
		Progress: rs.ProgressPercent,
	}
	if rs.TotalRounds > 0 {
		t.Message = fmt.Sprintf("round %d/%d", rs.CurrentRound, rs.TotalRounds)
	}
	switch {
	case RunComplete(*rs, platforms):
		t.Status = api.TaskCompleted
	case rs.RunnerStatus == api.RunnerFailed:
		t.Status = api.TaskFailed
		t.Error = rs.Error
		if t.Error == "" {
			t.Error = "simulation runner failed"
		}
	case rs.RunnerStatus == api.RunnerStopped:
		t.Status = api.TaskFailed
		t.Error = "simulation stopped before completion"
	}
	return t
}

// startRunPollers starts run-status and run-detail. Caller holds mu.
func (o *Orchestrator) startRunPollers(epoch uint64, simID string, platforms []string) {
	startPoller(o, pollerSpec[*api.RunStatus]{
		phase:    PhaseRun,
		name:     "run-status",
		interval: o.cfg.Intervals.RunStatus,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.RunStatus], error) {
			rs, err := o.backend.GetRunStatus(ctx, simID)
			if err != nil {
				return poller.Tick[*api.RunStatus]{}, err
			}
			return runTick(rs, platforms), nil
		},
		update: func(t poller.Tick[*api.RunStatus]) {
			o.applyRunStatus(t.Value, platforms)
			o.setProgress(PhaseRun, t.Progress, t.Message, poller.Stage{})
			o.publish()
		},
		terminal: func(out poller.Outcome[*api.RunStatus]) {
			if !out.Success {
				o.fail(PhaseRun, &api.TaskFailure{Kind: api.TaskSimulationRun, Message: out.Message})
				return
			}
			o.stopPhase(PhaseRun)
			o.s.logf(PhaseRun, reconcile.LevelInfo, "All platforms completed")
			o.spawn("final-run-detail", func(ctx context.Context) { o.finishRun(ctx, epoch, simID) })
		},
	})

	startPoller(o, pollerSpec[*api.RunDetail]{
		phase:    PhaseRun,
		name:     "run-detail",
		interval: o.cfg.Intervals.RunDetail,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.RunDetail], error) {
			d, err := o.backend.GetRunDetail(ctx, simID)
			if err != nil {
				return poller.Tick[*api.RunDetail]{}, err
			}
			return poller.Tick[*api.RunDetail]{Value: d, Status: api.TaskRunning}, nil
		},
		update: func(t poller.Tick[*api.RunDetail]) {
			if o.ingestActions(t.Value.AllActions) > 0 {
				o.publish()
			}
		},
	})
}

// applyRunStatus records a run status and logs platforms finishing.
// Caller holds mu.
func (o *Orchestrator) applyRunStatus(rs *api.RunStatus, platforms []string) {
	prev := o.s.gate
	o.s.run = rs
	o.s.gate = EvaluateGate(*rs, platforms)
	for _, name := range platforms {
		if o.s.gate.Done[name] && !prev.Done[name] {
			o.s.logf(PhaseRun, reconcile.LevelInfo, "%s finished at round %d", name, rs.Platform(name).CurrentRound)
		}
	}
}

// ingestActions merges an action snapshot and returns how many records
// were new. Caller holds mu.
func (o *Orchestrator) ingestActions(all []api.ActionRecord) int {
	added := o.s.actions.Ingest(all)
	o.observer.ObserveDedup("actions", len(added), len(all)-len(added))
	if o.s.actionMark.Advance(o.s.actions.Len()) {
		o.s.logf(PhaseRun, reconcile.LevelInfo, "%d actions recorded (+%d)", o.s.actions.Len(), len(added))
	}
	return len(added)
}

// finishRun does a last detail fetch so no trailing actions are lost,
// then completes the run phase.
func (o *Orchestrator) finishRun(ctx context.Context, epoch uint64, simID string) {
	d, err := o.backend.GetRunDetail(ctx, simID)

	if !o.guard(epoch) {
		return
	}
	defer o.s.mu.Unlock()
	if err != nil {
		o.s.logf(PhaseRun, reconcile.LevelWarn, "final action fetch failed: %v", err)
	} else {
		o.ingestActions(d.AllActions)
	}
	o.complete(PhaseRun)
}

// reloadRun refreshes status and actions of a completed run.
func (o *Orchestrator) reloadRun(ctx context.Context, epoch uint64) error {
	o.s.mu.Lock()
	simID := o.s.simulationID
	platforms := o.s.platforms
	o.s.mu.Unlock()

	var (
		rs     *api.RunStatus
		detail *api.RunDetail
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rs, err = o.backend.GetRunStatus(gctx, simID)
		return err
	})
	g.Go(func() error {
		var err error
		detail, err = o.backend.GetRunDetail(gctx, simID)
		return err
	})
	if err := g.Wait(); err != nil {
		return describeErr("reload run", err)
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.applyRunStatus(rs, platforms)
	o.ingestActions(detail.AllActions)
	o.publish()
	return nil
}

// Back returns to environment setup and tears the remote environment down.
//
// # Description
//
// Run and report pollers stop and their state is zeroed before any
// network call, so nothing from the abandoned run can land afterwards.
// The lifecycle manager then checks liveness, closes the environment
// gracefully within its timeout and escalates to a forced stop when
// needed.
//
// # Outputs
//
//   - lifecycle.Result: Which teardown path ran
//   - error: *api.LifecycleCleanupFailure when even the forced stop
//     failed; ErrPrerequisite when no simulation exists yet
func (o *Orchestrator) Back(ctx context.Context) (lifecycle.Result, error) {
	o.s.mu.Lock()
	if o.closed {
		o.s.mu.Unlock()
		return lifecycle.Result{}, ErrClosed
	}
	simID := o.s.simulationID
	if simID == "" || o.s.phase < PhaseSetup {
		o.s.mu.Unlock()
		return lifecycle.Result{}, fmt.Errorf("%w: no simulation to tear down", ErrPrerequisite)
	}
	var hint lifecycle.Hint
	if o.s.run != nil {
		hint.RunnerStatus = o.s.run.RunnerStatus
	}
	if o.s.phase >= PhaseRun {
		o.stopPhase(PhaseRun)
		o.stopPhase(PhaseReport)
		o.s.epoch++
		o.s.resetFrom(PhaseRun)
		o.s.phase = PhaseSetup
	}
	o.s.logf(PhaseSetup, reconcile.LevelInfo, "Returning to setup, closing environment")
	o.publish()
	o.s.mu.Unlock()

	res, err := o.lifecycle.Teardown(ctx, simID, hint)

	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if err != nil {
		o.s.logf(PhaseSetup, reconcile.LevelError, "Environment cleanup failed: %v", err)
	} else {
		o.s.logf(PhaseSetup, reconcile.LevelInfo, "Environment cleanup: %s", res.Action)
	}
	o.checkpoint()
	o.publish()
	return res, err
}
