// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apitest provides an in-process fake of the simulation backend.
//
// The fake speaks the real envelope over httptest so tests exercise the
// whole client stack (encoding, retries, envelope errors). Scripted
// sequences drive task progress: each probe pops the next state and the
// last state repeats forever.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// Seq hands out scripted values in order and repeats the last one.
type Seq[T any] struct {
	mu     sync.Mutex
	values []T
	next   int
}

// NewSeq creates a sequence.
func NewSeq[T any](values ...T) *Seq[T] {
	return &Seq[T]{values: values}
}

// Next returns the next value. The zero value is returned for an empty Seq.
func (s *Seq[T]) Next() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		var zero T
		return zero
	}
	v := s.values[s.next]
	if s.next < len(s.values)-1 {
		s.next++
	}
	return v
}

// Set replaces the script and rewinds it.
func (s *Seq[T]) Set(values ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	s.next = 0
}

// Backend is a stateful fake backend.
//
// Every field may be adjusted by a test before (or while) the pipeline
// runs; access from tests should go through Lock/Unlock when the server
// is live.
type Backend struct {
	sync.Mutex

	Server *httptest.Server

	// Graph phase.
	ProjectID     string
	GraphID       string
	OntologyFiles []string
	Ontology      api.Ontology
	BuildStates   *Seq[api.TaskState]
	Graphs        *Seq[api.GraphSnapshot]
	BuildRequests []api.BuildRequest

	// Setup phase.
	SimulationID    string
	AlreadyPrepared bool
	PrepareStates   *Seq[api.TaskState]
	Profiles        *Seq[api.ProfilesSnapshot]
	Configs         *Seq[api.ConfigSnapshot]
	ProfilePlatform []string

	// Run phase.
	TimeConfig    api.TimeConfig
	RoundStep     int
	StartRequests []api.StartRequest
	Run           api.RunStatus
	Actions       []api.ActionRecord
	ActionsPerHit int

	// Lifecycle.
	EnvAlive       bool
	EnvStatusFails bool
	CloseSucceeds  bool
	CloseFails     bool
	StopFails      bool
	CloseRequests  []api.CloseEnvRequest
	StopCalls      int

	// Report phase.
	ReportID        string
	ReportCompleted bool
	ReportStates    *Seq[api.TaskState]
	ReportSubmitted int

	// FailNext makes the next n calls to a route ("POST /simulation/start")
	// answer 500.
	FailNext map[string]int

	// Calls records every request as "METHOD /route".
	Calls []string
}

// New starts a fake backend with a complete happy-path script and
// registers cleanup on t.
func New(t testing.TB) *Backend {
	b := &Backend{
		ProjectID:    "proj_1",
		GraphID:      "graph_1",
		SimulationID: "sim_1",
		ReportID:     "report_1",
		Ontology: api.Ontology{
			EntityTypes:   []api.OntologyType{{Name: "Person"}, {Name: "Organization"}},
			RelationTypes: []api.OntologyType{{Name: "WORKS_FOR"}},
		},
		BuildStates: NewSeq(
			api.TaskState{TaskID: "task_build", RawStatus: "processing", Progress: 40, Message: "extracting"},
			api.TaskState{TaskID: "task_build", RawStatus: "completed", Progress: 100, Message: "done", Result: json.RawMessage(`{"graph_id":"graph_1"}`)},
		),
		Graphs: NewSeq(SampleGraph()),
		PrepareStates: NewSeq(
			api.TaskState{TaskID: "task_prep", RawStatus: "processing", Progress: 20,
				ProgressDetail: api.ProgressDetail{CurrentStage: api.StageGeneratingProfiles, StageIndex: 2, TotalStages: 4, CurrentItem: 1, TotalItems: 3}},
			api.TaskState{TaskID: "task_prep", RawStatus: "processing", Progress: 70,
				ProgressDetail: api.ProgressDetail{CurrentStage: api.StageGeneratingConfig, StageIndex: 3, TotalStages: 4}},
			api.TaskState{TaskID: "task_prep", RawStatus: "completed", Progress: 100},
		),
		Profiles: NewSeq(
			api.ProfilesSnapshot{Count: 1, TotalExpected: intPtr(3), IsGenerating: true, Profiles: []api.AgentProfile{{Username: "alice", Name: "Alice"}}},
			api.ProfilesSnapshot{Count: 3, TotalExpected: intPtr(3), Profiles: []api.AgentProfile{{Username: "alice", Name: "Alice"}, {Username: "bob", Name: "Bob"}, {Username: "carol", Name: "Carol"}}},
		),
		Configs: NewSeq(
			api.ConfigSnapshot{IsGenerating: true, GenerationStage: api.GenerationConfig},
			api.ConfigSnapshot{GenerationStage: api.GenerationCompleted, ConfigGenerated: true,
				Config:  &api.SimulationConfig{TimeConfig: api.TimeConfig{TotalSimulationHours: 72, MinutesPerRound: 60}},
				Summary: &api.ConfigSummary{TotalAgents: 3, SimulationHours: 72}},
		),
		TimeConfig:    api.TimeConfig{TotalSimulationHours: 72, MinutesPerRound: 60},
		RoundStep:     1000,
		ActionsPerHit: 2,
		EnvAlive:      true,
		CloseSucceeds: true,
		ReportStates: NewSeq(
			api.TaskState{TaskID: "task_report", RawStatus: "processing", Progress: 50},
			api.TaskState{TaskID: "task_report", RawStatus: "completed", Progress: 100, ReportID: "report_1"},
		),
		FailNext: make(map[string]int),
	}

	mux := http.NewServeMux()
	b.routes(mux)
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the API base URL to hand to api.Config.
func (b *Backend) URL() string {
	return b.Server.URL + "/api"
}

// Client returns an api.Client pointed at the fake, with rate limiting off
// and retry sleeps skipped.
func (b *Backend) Client(t testing.TB, opts ...api.Option) *api.Client {
	t.Helper()
	cfg := api.DefaultConfig()
	cfg.BaseURL = b.URL()
	cfg.RequestsPerSecond = 0
	opts = append([]api.Option{api.WithSleeper(func(context.Context, time.Duration) error { return nil })}, opts...)
	c, err := api.New(cfg, opts...)
	if err != nil {
		t.Fatalf("apitest: new client: %v", err)
	}
	return c
}

// Fail makes the next n calls to route answer 500.
func (b *Backend) Fail(route string, n int) {
	b.Lock()
	defer b.Unlock()
	b.FailNext[route] = n
}

// Update runs fn with the backend locked.
func (b *Backend) Update(fn func(b *Backend)) {
	b.Lock()
	defer b.Unlock()
	fn(b)
}

// CallCount returns how often route was requested.
func (b *Backend) CallCount(route string) int {
	b.Lock()
	defer b.Unlock()
	n := 0
	for _, c := range b.Calls {
		if c == route {
			n++
		}
	}
	return n
}

// SampleGraph returns a small graph with a self-loop pair and parallel edges.
func SampleGraph() api.GraphSnapshot {
	nodes := []api.GraphNode{
		{UUID: "n1", Name: "Alice", Labels: []string{"Entity", "Person"}},
		{UUID: "n2", Name: "Acme", Labels: []string{"Entity", "Organization"}},
		{UUID: "n3", Name: "Bob", Labels: []string{"Entity", "Person"}},
	}
	edges := []api.GraphEdge{
		{UUID: "e1", Name: "WORKS_FOR", SourceNodeUUID: "n1", TargetNodeUUID: "n2"},
		{UUID: "e2", Name: "FOUNDED", SourceNodeUUID: "n1", TargetNodeUUID: "n2"},
		{UUID: "e3", Name: "KNOWS", SourceNodeUUID: "n3", TargetNodeUUID: "n1"},
	}
	return api.GraphSnapshot{GraphID: "graph_1", Nodes: nodes, Edges: edges, NodeCount: len(nodes), EdgeCount: len(edges)}
}

func intPtr(v int) *int { return &v }

// =============================================================================
// Handlers
// =============================================================================

type handler func(r *http.Request) (any, int, error)

func (b *Backend) handle(mux *http.ServeMux, pattern, route string, h handler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		b.Lock()
		b.Calls = append(b.Calls, route)
		if b.FailNext[route] > 0 {
			b.FailNext[route]--
			b.Unlock()
			writeEnvelope(w, http.StatusInternalServerError, nil, fmt.Errorf("injected failure"))
			return
		}
		b.Unlock()

		data, status, err := h(r)
		writeEnvelope(w, status, data, err)
	})
}

func writeEnvelope(w http.ResponseWriter, status int, data any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	body := map[string]any{"success": err == nil}
	if err != nil {
		body["error"] = err.Error()
	} else {
		body["data"] = data
	}
	_ = json.NewEncoder(w).Encode(body)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (b *Backend) routes(mux *http.ServeMux) {
	b.handle(mux, "POST /api/graph/ontology/generate", "POST /graph/ontology/generate", func(r *http.Request) (any, int, error) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, http.StatusBadRequest, err
		}
		if r.FormValue("simulation_requirement") == "" {
			return nil, http.StatusBadRequest, fmt.Errorf("Simulation requirement is required")
		}
		var names []string
		for _, fh := range r.MultipartForm.File["files"] {
			names = append(names, fh.Filename)
		}
		if len(names) == 0 {
			return nil, http.StatusBadRequest, fmt.Errorf("At least one file required")
		}
		b.Lock()
		defer b.Unlock()
		b.OntologyFiles = names
		return api.OntologyResult{ProjectID: b.ProjectID, Ontology: b.Ontology}, 0, nil
	})

	b.handle(mux, "POST /api/graph/build", "POST /graph/build", func(r *http.Request) (any, int, error) {
		var req api.BuildRequest
		if err := decode(r, &req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		b.Lock()
		b.BuildRequests = append(b.BuildRequests, req)
		b.Unlock()
		return api.BuildResponse{TaskID: "task_build"}, 0, nil
	})

	b.handle(mux, "GET /api/graph/task/{id}", "GET /graph/task/{id}", func(r *http.Request) (any, int, error) {
		return b.BuildStates.Next(), 0, nil
	})

	b.handle(mux, "GET /api/graph/data/{id}", "GET /graph/data/{id}", func(r *http.Request) (any, int, error) {
		return b.Graphs.Next(), 0, nil
	})

	b.handle(mux, "GET /api/graph/project/{id}", "GET /graph/project/{id}", func(r *http.Request) (any, int, error) {
		b.Lock()
		defer b.Unlock()
		status := api.ProjectGraphBuilding
		graphID := ""
		if len(b.BuildRequests) > 0 {
			graphID = b.GraphID
			status = api.ProjectGraphCompleted
		}
		return api.Project{ProjectID: r.PathValue("id"), Name: "fake", Status: status, GraphID: graphID, Ontology: &b.Ontology}, 0, nil
	})

	b.handle(mux, "POST /api/simulation/create", "POST /simulation/create", func(r *http.Request) (any, int, error) {
		var req api.CreateSimulationRequest
		if err := decode(r, &req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		b.Lock()
		defer b.Unlock()
		return api.Simulation{SimulationID: b.SimulationID, ProjectID: req.ProjectID, GraphID: b.GraphID, Status: "created",
			EnableTwitter: req.EnableTwitter, EnableReddit: req.EnableReddit}, 0, nil
	})

	b.handle(mux, "POST /api/simulation/prepare", "POST /simulation/prepare", func(r *http.Request) (any, int, error) {
		b.Lock()
		defer b.Unlock()
		if b.AlreadyPrepared {
			return api.PrepareResponse{SimulationID: b.SimulationID, Status: "ready", AlreadyPrepared: true}, 0, nil
		}
		return api.PrepareResponse{SimulationID: b.SimulationID, TaskID: "task_prep", Status: "preparing"}, 0, nil
	})

	b.handle(mux, "POST /api/simulation/prepare/status", "POST /simulation/prepare/status", func(r *http.Request) (any, int, error) {
		var req api.PrepareStatusRequest
		_ = decode(r, &req)
		b.Lock()
		prepared := b.AlreadyPrepared
		b.Unlock()
		if prepared {
			return api.TaskState{SimulationID: req.SimulationID, RawStatus: "ready", Progress: 100, AlreadyPrepared: true}, 0, nil
		}
		if req.TaskID == "" {
			return api.TaskState{SimulationID: req.SimulationID, RawStatus: "not_started"}, 0, nil
		}
		return b.PrepareStates.Next(), 0, nil
	})

	b.handle(mux, "GET /api/simulation/{id}/profiles/realtime", "GET /simulation/{id}/profiles/realtime", func(r *http.Request) (any, int, error) {
		b.Lock()
		b.ProfilePlatform = append(b.ProfilePlatform, r.URL.Query().Get("platform"))
		b.Unlock()
		snap := b.Profiles.Next()
		snap.SimulationID = r.PathValue("id")
		snap.Platform = r.URL.Query().Get("platform")
		return snap, 0, nil
	})

	b.handle(mux, "GET /api/simulation/{id}/config/realtime", "GET /simulation/{id}/config/realtime", func(r *http.Request) (any, int, error) {
		snap := b.Configs.Next()
		snap.SimulationID = r.PathValue("id")
		return snap, 0, nil
	})

	b.handle(mux, "POST /api/simulation/start", "POST /simulation/start", func(r *http.Request) (any, int, error) {
		var req api.StartRequest
		if err := decode(r, &req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		b.Lock()
		defer b.Unlock()
		b.StartRequests = append(b.StartRequests, req)
		total := b.TimeConfig.DefaultRounds()
		var applied *int
		if req.MaxRounds != nil && *req.MaxRounds < total {
			total = *req.MaxRounds
			applied = intPtr(total)
		}
		b.Run = api.RunStatus{SimulationID: req.SimulationID, RunnerStatus: api.RunnerRunning, TotalRounds: total,
			TwitterRunning: true, RedditRunning: true, TotalSimulationHours: b.TimeConfig.TotalSimulationHours}
		b.Actions = nil
		return api.StartResponse{RunStatus: b.Run, MaxRoundsApplied: applied, ForceRestarted: req.Force}, 0, nil
	})

	b.handle(mux, "GET /api/simulation/{id}/run-status", "GET /simulation/{id}/run-status", func(r *http.Request) (any, int, error) {
		b.Lock()
		defer b.Unlock()
		b.advanceRun()
		return b.Run, 0, nil
	})

	b.handle(mux, "GET /api/simulation/{id}/run-status/detail", "GET /simulation/{id}/run-status/detail", func(r *http.Request) (any, int, error) {
		b.Lock()
		defer b.Unlock()
		for i := 0; i < b.ActionsPerHit; i++ {
			n := len(b.Actions)
			platform := api.PlatformTwitter
			if n%2 == 1 {
				platform = api.PlatformReddit
			}
			b.Actions = append(b.Actions, api.ActionRecord{
				RoundNum:   n / 2,
				Timestamp:  fmt.Sprintf("2025-12-01T10:%02d:%02d", n/60%60, n%60),
				Platform:   platform,
				AgentID:    n % 3,
				AgentName:  fmt.Sprintf("agent-%d", n%3),
				ActionType: "CREATE_POST",
				ActionArgs: map[string]any{"content": fmt.Sprintf("post %d", n)},
				Success:    true,
			})
		}
		all := make([]api.ActionRecord, len(b.Actions))
		copy(all, b.Actions)
		return api.RunDetail{RunStatus: b.Run, AllActions: all}, 0, nil
	})

	b.handle(mux, "POST /api/simulation/stop", "POST /simulation/stop", func(r *http.Request) (any, int, error) {
		b.Lock()
		defer b.Unlock()
		b.StopCalls++
		if b.StopFails {
			return nil, http.StatusBadRequest, fmt.Errorf("stop failed")
		}
		b.Run.RunnerStatus = api.RunnerStopped
		b.EnvAlive = false
		return b.Run, 0, nil
	})

	b.handle(mux, "POST /api/simulation/env-status", "POST /simulation/env-status", func(r *http.Request) (any, int, error) {
		b.Lock()
		defer b.Unlock()
		if b.EnvStatusFails {
			return nil, http.StatusInternalServerError, fmt.Errorf("env status unavailable")
		}
		return api.EnvStatus{SimulationID: b.SimulationID, EnvAlive: b.EnvAlive, TwitterAvailable: b.EnvAlive, RedditAvailable: b.EnvAlive}, 0, nil
	})

	b.handle(mux, "POST /api/simulation/close-env", "POST /simulation/close-env", func(r *http.Request) (any, int, error) {
		var req api.CloseEnvRequest
		_ = decode(r, &req)
		b.Lock()
		defer b.Unlock()
		b.CloseRequests = append(b.CloseRequests, req)
		if b.CloseFails {
			return nil, http.StatusInternalServerError, fmt.Errorf("close timed out")
		}
		if !b.CloseSucceeds {
			return nil, http.StatusOK, fmt.Errorf("environment did not confirm shutdown")
		}
		b.EnvAlive = false
		b.Run.RunnerStatus = api.RunnerStopped
		return api.CloseEnvResponse{Message: "closed"}, 0, nil
	})

	b.handle(mux, "POST /api/report/generate", "POST /report/generate", func(r *http.Request) (any, int, error) {
		b.Lock()
		defer b.Unlock()
		if b.ReportCompleted {
			return api.ReportSubmission{SimulationID: b.SimulationID, ReportID: b.ReportID, Status: "completed", AlreadyGenerated: true}, 0, nil
		}
		b.ReportSubmitted++
		return api.ReportSubmission{SimulationID: b.SimulationID, ReportID: b.ReportID, TaskID: "task_report", Status: "generating"}, 0, nil
	})

	b.handle(mux, "POST /api/report/generate/status", "POST /report/generate/status", func(r *http.Request) (any, int, error) {
		var req api.ReportStatusRequest
		_ = decode(r, &req)
		b.Lock()
		completed := b.ReportCompleted
		b.Unlock()
		if completed && req.SimulationID != "" {
			return api.TaskState{RawStatus: "completed", Progress: 100, ReportID: b.ReportID, AlreadyCompleted: true}, 0, nil
		}
		return b.ReportStates.Next(), 0, nil
	})

	b.handle(mux, "GET /api/report/{id}", "GET /report/{id}", func(r *http.Request) (any, int, error) {
		return api.Report{ReportID: r.PathValue("id"), SimulationID: b.SimulationID, Status: "completed", MarkdownContent: "# Report"}, 0, nil
	})
}

// advanceRun moves both platforms forward by RoundStep rounds. Caller holds
// the lock.
func (b *Backend) advanceRun() {
	if b.Run.RunnerStatus != api.RunnerRunning || b.Run.TotalRounds == 0 {
		return
	}
	step := b.RoundStep
	if step <= 0 {
		return
	}
	b.Run.TwitterCurrentRound = min(b.Run.TwitterCurrentRound+step, b.Run.TotalRounds)
	b.Run.RedditCurrentRound = min(b.Run.RedditCurrentRound+step, b.Run.TotalRounds)
	b.Run.CurrentRound = max(b.Run.TwitterCurrentRound, b.Run.RedditCurrentRound)
	b.Run.TwitterCompleted = b.Run.TwitterCurrentRound >= b.Run.TotalRounds
	b.Run.RedditCompleted = b.Run.RedditCurrentRound >= b.Run.TotalRounds
	b.Run.ProgressPercent = float64(b.Run.CurrentRound) / float64(b.Run.TotalRounds) * 100
	if b.Run.TwitterCompleted && b.Run.RedditCompleted {
		b.Run.RunnerStatus = api.RunnerCompleted
		b.Run.TwitterRunning = false
		b.Run.RedditRunning = false
	}
}
