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
	"errors"
	"fmt"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/poller"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
)

// GraphInput starts the graph phase.
//
// Either Files and Requirement (new project) or ProjectID (resume) must be
// set.
type GraphInput struct {
	Files             []string
	Requirement       string
	AdditionalContext string
	ProjectName       string

	// ProjectID resumes an existing project instead of uploading files.
	ProjectID string

	ChunkSize    int
	ChunkOverlap int
}

// StartGraph enters the graph phase.
//
// # Description
//
// Generates the ontology, auto-submits the graph build and starts two
// pollers: the build task poller and a snapshot refresh poller that keeps
// the live graph current while the build runs. When the build completes
// the final snapshot is fetched and the phase completes.
//
// With ProjectID set the upload is skipped: a built project goes straight
// to the snapshot fetch, a building one resumes polling its task.
//
// # Outputs
//
//   - error: Submission failures. Later failures are reported through
//     Await and State.
func (o *Orchestrator) StartGraph(ctx context.Context, in GraphInput) error {
	epoch, mode, err := o.enter(PhaseGraph, func(*Session) error {
		if in.ProjectID == "" && (len(in.Files) == 0 || in.Requirement == "") {
			return fmt.Errorf("%w: graph phase needs files and a requirement, or a project id", api.ErrInvalidRequest)
		}
		return nil
	})
	if err != nil {
		return err
	}
	switch mode {
	case entryBusy:
		return nil
	case entryReload:
		return o.reloadGraph(ctx, epoch)
	}

	if in.ProjectID != "" {
		return o.resumeProject(ctx, epoch, in)
	}

	res, err := o.backend.GenerateOntology(ctx, api.OntologyRequest{
		Files:                 in.Files,
		SimulationRequirement: in.Requirement,
		AdditionalContext:     in.AdditionalContext,
		ProjectName:           in.ProjectName,
	})
	if err != nil {
		return o.failUnlessStale(epoch, PhaseGraph, describeErr("generate ontology", err))
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	o.s.projectID = res.ProjectID
	o.s.projectName = res.ProjectName
	o.s.ontology = &res.Ontology
	o.s.logf(PhaseGraph, reconcile.LevelInfo, "Ontology generated: %d entity types, %d relation types",
		len(res.Ontology.EntityTypes), len(res.Ontology.RelationTypes))
	o.checkpoint()
	o.publish()
	o.s.mu.Unlock()

	return o.submitBuild(ctx, epoch, res.ProjectID, in)
}

// resumeProject picks up an existing project.
func (o *Orchestrator) resumeProject(ctx context.Context, epoch uint64, in GraphInput) error {
	proj, err := o.backend.GetProject(ctx, in.ProjectID)
	if err != nil {
		return o.failUnlessStale(epoch, PhaseGraph, describeErr("load project", err))
	}
	if proj.Status == api.ProjectFailed {
		msg := proj.Error
		if msg == "" {
			msg = "project failed"
		}
		return o.failUnlessStale(epoch, PhaseGraph, &api.TaskFailure{Kind: api.TaskGraphBuild, Message: msg})
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	o.s.projectID = proj.ProjectID
	o.s.projectName = proj.Name
	o.s.ontology = proj.Ontology
	o.s.logf(PhaseGraph, reconcile.LevelInfo, "Resuming project %s (%s)", proj.ProjectID, proj.Status)

	switch {
	case proj.GraphID != "" && (proj.Status == api.ProjectGraphCompleted || proj.Status == api.ProjectGraphBuilt):
		o.s.graphID = proj.GraphID
		graphID := proj.GraphID
		o.spawn("finalize-graph", func(ctx context.Context) { o.finalizeGraph(ctx, epoch, graphID) })
		o.publish()
		o.s.mu.Unlock()
		return nil
	case proj.GraphBuildTaskID != "" && proj.Status == api.ProjectGraphBuilding:
		o.s.buildTaskID = proj.GraphBuildTaskID
		o.startGraphPollers(epoch, proj.GraphBuildTaskID)
		o.publish()
		o.s.mu.Unlock()
		return nil
	}
	o.publish()
	o.s.mu.Unlock()

	return o.submitBuild(ctx, epoch, proj.ProjectID, in)
}

// submitBuild submits the graph build and starts its pollers.
func (o *Orchestrator) submitBuild(ctx context.Context, epoch uint64, projectID string, in GraphInput) error {
	resp, err := o.backend.BuildGraph(ctx, api.BuildRequest{
		ProjectID:    projectID,
		GraphName:    in.ProjectName,
		ChunkSize:    in.ChunkSize,
		ChunkOverlap: in.ChunkOverlap,
	})
	if err != nil {
		return o.failUnlessStale(epoch, PhaseGraph, describeErr("build graph", err))
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.s.buildTaskID = resp.TaskID
	o.s.logf(PhaseGraph, reconcile.LevelInfo, "Graph build submitted (task %s)", resp.TaskID)
	o.startGraphPollers(epoch, resp.TaskID)
	o.checkpoint()
	o.publish()
	return nil
}

// startGraphPollers starts the build and refresh pollers. Caller holds mu.
func (o *Orchestrator) startGraphPollers(epoch uint64, taskID string) {
	startPoller(o, pollerSpec[*api.TaskState]{
		phase:    PhaseGraph,
		name:     "graph-build",
		interval: o.cfg.Intervals.Task,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.TaskState], error) {
			ts, err := o.backend.GetTask(ctx, taskID)
			if err != nil {
				return poller.Tick[*api.TaskState]{}, err
			}
			return taskTick(ts), nil
		},
		update: func(t poller.Tick[*api.TaskState]) {
			o.setProgress(PhaseGraph, t.Progress, t.Message, t.Stage)
			o.publish()
		},
		terminal: func(out poller.Outcome[*api.TaskState]) {
			if !out.Success {
				o.fail(PhaseGraph, &api.TaskFailure{TaskID: taskID, Kind: api.TaskGraphBuild, Message: out.Message})
				return
			}
			graphID := out.Last.Value.ResultString("graph_id")
			if graphID != "" {
				o.s.graphID = graphID
			}
			o.s.logf(PhaseGraph, reconcile.LevelInfo, "Graph build finished, fetching snapshot")
			o.spawn("finalize-graph", func(ctx context.Context) { o.finalizeGraph(ctx, epoch, graphID) })
		},
	})

	projectID := o.s.projectID
	startPoller(o, pollerSpec[*api.GraphSnapshot]{
		phase:    PhaseGraph,
		name:     "graph-refresh",
		interval: o.cfg.Intervals.GraphRefresh,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.GraphSnapshot], error) {
			o.s.mu.Lock()
			graphID := o.s.graphID
			o.s.mu.Unlock()

			if graphID == "" {
				proj, err := o.backend.GetProject(ctx, projectID)
				if err != nil {
					return poller.Tick[*api.GraphSnapshot]{}, err
				}
				graphID = proj.GraphID
			}
			if graphID == "" {
				return poller.Tick[*api.GraphSnapshot]{Status: api.TaskRunning}, nil
			}
			snap, err := o.fetchGraph(ctx, graphID)
			if err != nil {
				return poller.Tick[*api.GraphSnapshot]{}, err
			}
			return poller.Tick[*api.GraphSnapshot]{Value: snap, Status: api.TaskRunning}, nil
		},
		update: func(t poller.Tick[*api.GraphSnapshot]) {
			if t.Value != nil {
				o.applyGraph(t.Value)
			}
		},
	})
}

// finalizeGraph fetches the final snapshot and completes the phase.
func (o *Orchestrator) finalizeGraph(ctx context.Context, epoch uint64, graphID string) {
	if graphID == "" {
		o.s.mu.Lock()
		graphID = o.s.graphID
		projectID := o.s.projectID
		o.s.mu.Unlock()

		if graphID == "" {
			proj, err := o.backend.GetProject(ctx, projectID)
			if err != nil {
				_ = o.failUnlessStale(epoch, PhaseGraph, describeErr("load project", err))
				return
			}
			graphID = proj.GraphID
		}
	}
	if graphID == "" {
		_ = o.failUnlessStale(epoch, PhaseGraph, errors.New("graph build completed without a graph id"))
		return
	}

	snap, err := o.fetchGraph(ctx, graphID)
	if err != nil {
		_ = o.failUnlessStale(epoch, PhaseGraph, describeErr("fetch graph", err))
		return
	}

	if !o.guard(epoch) {
		return
	}
	defer o.s.mu.Unlock()
	o.s.graphID = graphID
	o.applyGraph(snap)
	o.complete(PhaseGraph)
}

// reloadGraph refreshes the snapshot of a completed graph phase.
func (o *Orchestrator) reloadGraph(ctx context.Context, epoch uint64) error {
	o.s.mu.Lock()
	graphID := o.s.graphID
	o.s.mu.Unlock()
	if graphID == "" {
		return nil
	}

	snap, err := o.fetchGraph(ctx, graphID)
	if err != nil {
		return describeErr("reload graph", err)
	}
	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.applyGraph(snap)
	return nil
}

// fetchGraph coalesces concurrent snapshot fetches of one graph.
func (o *Orchestrator) fetchGraph(ctx context.Context, graphID string) (*api.GraphSnapshot, error) {
	v, err, _ := o.sf.Do("graph:"+graphID, func() (any, error) {
		return o.backend.GetGraphData(ctx, graphID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*api.GraphSnapshot), nil
}

// applyGraph installs a snapshot if it differs from the current one.
// Caller holds mu. Snapshots are shared and never mutated.
func (o *Orchestrator) applyGraph(snap *api.GraphSnapshot) {
	delta := layout.Diff(o.s.graph, *snap)
	if o.s.graph != nil && delta.Empty() {
		return
	}
	o.s.graph = snap
	if snap.GraphID != "" {
		o.s.graphID = snap.GraphID
	}
	o.s.logf(PhaseGraph, reconcile.LevelInfo, "Graph updated: %d nodes, %d edges (%s)",
		len(snap.Nodes), len(snap.Edges), delta)

	for _, fn := range o.onGraph {
		fn(*snap, delta)
	}
	if o.store != nil {
		if err := o.store.SaveGraph(*snap); err != nil {
			o.logger.Warn("graph snapshot save failed", "graph_id", snap.GraphID, "error", err)
		}
	}
	o.publish()
}
