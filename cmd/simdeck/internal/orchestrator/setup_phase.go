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

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/poller"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
)

// SetupInput starts the environment setup phase.
type SetupInput struct {
	EntityTypes          []string
	UseLLMForProfiles    bool
	ParallelProfileCount int
	ForceRegenerate      bool
}

func needGraph(s *Session) error {
	if s.phases[PhaseGraph].status != StatusCompleted || s.graphID == "" {
		return fmt.Errorf("%w: the graph has not been built", ErrPrerequisite)
	}
	return nil
}

// StartSetup enters the environment setup phase.
//
// # Description
//
// Creates the simulation (once per session) and submits preparation. Two
// pollers then run side by side: prepare status, which drives the setup
// sub-phase from the reported stage, and realtime profiles, which streams
// generated agent profiles into the reconcile log. When the prepare task
// reports the config stage a third poller fetches the simulation config;
// its arrival moves setup to ready.
//
// A simulation the backend reports as already prepared skips polling and
// loads profiles and config directly.
func (o *Orchestrator) StartSetup(ctx context.Context, in SetupInput) error {
	epoch, mode, err := o.enter(PhaseSetup, needGraph)
	if err != nil {
		return err
	}
	switch mode {
	case entryBusy:
		return nil
	case entryReload:
		return o.loadPrepared(ctx, epoch, false)
	}

	o.s.mu.Lock()
	simID := o.s.simulationID
	projectID := o.s.projectID
	graphID := o.s.graphID
	o.s.mu.Unlock()

	if simID == "" {
		sim, err := o.backend.CreateSimulation(ctx, api.CreateSimulationRequest{
			ProjectID:     projectID,
			GraphID:       graphID,
			EnableTwitter: o.cfg.EnableTwitter,
			EnableReddit:  o.cfg.EnableReddit,
		})
		if err != nil {
			return o.failUnlessStale(epoch, PhaseSetup, describeErr("create simulation", err))
		}
		if !o.guard(epoch) {
			return ErrSuperseded
		}
		o.s.simulationID = sim.SimulationID
		o.s.logf(PhaseSetup, reconcile.LevelInfo, "Simulation %s created", sim.SimulationID)
		o.checkpoint()
		o.publish()
		o.s.mu.Unlock()
		simID = sim.SimulationID
	}

	resp, err := o.backend.PrepareSimulation(ctx, api.PrepareRequest{
		SimulationID:         simID,
		EntityTypes:          in.EntityTypes,
		UseLLMForProfiles:    in.UseLLMForProfiles,
		ParallelProfileCount: in.ParallelProfileCount,
		ForceRegenerate:      in.ForceRegenerate,
	})
	if err != nil {
		return o.failUnlessStale(epoch, PhaseSetup, describeErr("prepare simulation", err))
	}
	if resp.AlreadyPrepared {
		return o.loadPrepared(ctx, epoch, true)
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.s.prepTaskID = resp.TaskID
	o.s.advanceSetup(SetupProfiles)
	o.s.logf(PhaseSetup, reconcile.LevelInfo, "Preparation submitted (task %s)", resp.TaskID)
	o.startPreparePoller(epoch, simID, resp.TaskID)
	o.startProfilesPoller(epoch, simID)
	o.checkpoint()
	o.publish()
	return nil
}

// loadPrepared fetches profiles and config of a prepared simulation in
// parallel. With complete set the phase completes afterwards.
func (o *Orchestrator) loadPrepared(ctx context.Context, epoch uint64, complete bool) error {
	o.s.mu.Lock()
	simID := o.s.simulationID
	o.s.mu.Unlock()

	var (
		cfg      *api.ConfigSnapshot
		profiles *api.ProfilesSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cfg, err = o.backend.RealtimeConfig(gctx, simID)
		return err
	})
	g.Go(func() error {
		var err error
		profiles, err = o.backend.RealtimeProfiles(gctx, simID, o.cfg.ProfilePlatform)
		return err
	})
	if err := g.Wait(); err != nil {
		if complete {
			return o.failUnlessStale(epoch, PhaseSetup, describeErr("load prepared simulation", err))
		}
		return describeErr("reload setup", err)
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.ingestProfiles(profiles)
	if cfg.Config != nil {
		o.s.config = cfg
	}
	o.s.prepareDone = true
	o.s.profilesDone = true
	o.s.advanceSetup(SetupReady)
	if complete {
		o.s.logf(PhaseSetup, reconcile.LevelInfo, "Simulation already prepared, %d profiles loaded", o.s.profiles.Len())
		o.complete(PhaseSetup)
		return nil
	}
	o.publish()
	return nil
}

// startPreparePoller polls prepare status. Caller holds mu.
func (o *Orchestrator) startPreparePoller(epoch uint64, simID, taskID string) {
	startPoller(o, pollerSpec[*api.TaskState]{
		phase:    PhaseSetup,
		name:     "prepare",
		interval: o.cfg.Intervals.Task,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.TaskState], error) {
			ts, err := o.backend.PrepareStatus(ctx, api.PrepareStatusRequest{TaskID: taskID, SimulationID: simID})
			if err != nil {
				return poller.Tick[*api.TaskState]{}, err
			}
			t := taskTick(ts)
			if ts.AlreadyPrepared {
				t.Status = api.TaskCompleted
			}
			return t, nil
		},
		update: func(t poller.Tick[*api.TaskState]) {
			o.setProgress(PhaseSetup, t.Progress, t.Message, t.Stage)
			if step, ok := setupStepForStage(t.Value.ProgressDetail.CurrentStage); ok {
				if o.s.advanceSetup(step) {
					o.s.logf(PhaseSetup, reconcile.LevelInfo, "Setup step: %s", step)
				}
				if step >= SetupConfig {
					o.ensureConfigPoller(epoch, simID)
				}
			}
			o.publish()
		},
		terminal: func(out poller.Outcome[*api.TaskState]) {
			if !out.Success {
				o.fail(PhaseSetup, &api.TaskFailure{TaskID: taskID, Kind: api.TaskPrepare, Message: out.Message})
				return
			}
			o.s.prepareDone = true
			o.s.logf(PhaseSetup, reconcile.LevelInfo, "Preparation finished")
			o.ensureConfigPoller(epoch, simID)
			o.maybeCompleteSetup()
		},
	})
}

// startProfilesPoller streams generated profiles. Caller holds mu.
func (o *Orchestrator) startProfilesPoller(epoch uint64, simID string) {
	startPoller(o, pollerSpec[*api.ProfilesSnapshot]{
		phase:    PhaseSetup,
		name:     "profiles",
		interval: o.cfg.Intervals.Profiles,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.ProfilesSnapshot], error) {
			snap, err := o.backend.RealtimeProfiles(ctx, simID, o.cfg.ProfilePlatform)
			if err != nil {
				return poller.Tick[*api.ProfilesSnapshot]{}, err
			}
			o.s.mu.Lock()
			prepared := o.s.prepareDone
			o.s.mu.Unlock()
			return profilesTick(snap, prepared), nil
		},
		update: func(t poller.Tick[*api.ProfilesSnapshot]) {
			o.ingestProfiles(t.Value)
			o.publish()
		},
		terminal: func(poller.Outcome[*api.ProfilesSnapshot]) {
			o.s.profilesDone = true
			o.maybeCompleteSetup()
		},
	})
}

// profilesTick decides whether profile generation is over: the server
// stopped generating and either the expected count arrived or the prepare
// task already finished.
func profilesTick(snap *api.ProfilesSnapshot, prepared bool) poller.Tick[*api.ProfilesSnapshot] {
	t := poller.Tick[*api.ProfilesSnapshot]{Value: snap, Status: api.TaskRunning}
	expected := 0
	if snap.TotalExpected != nil {
		expected = *snap.TotalExpected
	}
	if expected > 0 {
		t.Progress = min(100, float64(len(snap.Profiles))*100/float64(expected))
	}
	if !snap.IsGenerating && (prepared || (expected > 0 && len(snap.Profiles) >= expected)) {
		t.Status = api.TaskCompleted
	}
	return t
}

// ingestProfiles merges a profile snapshot. Caller holds mu.
func (o *Orchestrator) ingestProfiles(snap *api.ProfilesSnapshot) {
	if snap == nil {
		return
	}
	added := o.s.profiles.Ingest(snap.Profiles)
	o.observer.ObserveDedup("profiles", len(added), len(snap.Profiles)-len(added))
	if snap.TotalExpected != nil {
		o.s.profileExpected = *snap.TotalExpected
	}
	if o.s.profileMark.Advance(o.s.profiles.Len()) {
		if o.s.profileExpected > 0 {
			o.s.logf(PhaseSetup, reconcile.LevelInfo, "Generated %d/%d agent profiles", o.s.profiles.Len(), o.s.profileExpected)
		} else {
			o.s.logf(PhaseSetup, reconcile.LevelInfo, "Generated %d agent profiles", o.s.profiles.Len())
		}
	}
}

// ensureConfigPoller starts the config poller once. Caller holds mu.
func (o *Orchestrator) ensureConfigPoller(epoch uint64, simID string) {
	if o.s.configStarted {
		return
	}
	o.s.configStarted = true
	startPoller(o, pollerSpec[*api.ConfigSnapshot]{
		phase:    PhaseSetup,
		name:     "config",
		interval: o.cfg.Intervals.Config,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.ConfigSnapshot], error) {
			snap, err := o.backend.RealtimeConfig(ctx, simID)
			if err != nil {
				return poller.Tick[*api.ConfigSnapshot]{}, err
			}
			t := poller.Tick[*api.ConfigSnapshot]{Value: snap, Status: api.TaskRunning, Message: snap.GenerationStage}
			if snap.Ready() {
				t.Status = api.TaskCompleted
			}
			return t, nil
		},
		terminal: func(out poller.Outcome[*api.ConfigSnapshot]) {
			cfg := out.Last.Value
			o.s.config = cfg
			o.s.advanceSetup(SetupReady)
			if cfg.Summary != nil {
				o.s.logf(PhaseSetup, reconcile.LevelInfo, "Simulation config ready: %d agents, %d simulated hours",
					cfg.Summary.TotalAgents, cfg.Summary.SimulationHours)
			} else {
				o.s.logf(PhaseSetup, reconcile.LevelInfo, "Simulation config ready")
			}
			o.maybeCompleteSetup()
		},
	})
}

// maybeCompleteSetup completes setup once config, prepare and profiles
// are all done. Caller holds mu.
func (o *Orchestrator) maybeCompleteSetup() {
	if o.s.phases[PhaseSetup].status != StatusRunning {
		return
	}
	if o.s.setupStep == SetupReady && o.s.prepareDone && o.s.profilesDone {
		o.complete(PhaseSetup)
		return
	}
	o.publish()
}
