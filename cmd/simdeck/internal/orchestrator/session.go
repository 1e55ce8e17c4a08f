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
	"sync"
	"time"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/actions"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
)

// =============================================================================
// Session
// =============================================================================

// phaseState is the mutable per-phase status.
type phaseState struct {
	status   PhaseStatus
	progress float64
	message  string
	stage    string
	err      error
	log      *reconcile.BoundedLog
}

// Session is the shared state of one pipeline run.
//
// # Description
//
// Every field is guarded by mu. Poller callbacks run with mu held, so
// state changes are serialized the way they would be on a single event
// loop. Network I/O never happens under mu.
//
// epoch increases on Restart and Back. Work that captured an older epoch
// drops its results instead of applying them.
type Session struct {
	mu sync.Mutex

	epoch     uint64
	runID     string
	phase     Phase
	setupStep SetupStep
	phases    [phaseCount]phaseState

	projectID    string
	projectName  string
	graphID      string
	simulationID string
	reportID     string
	buildTaskID  string
	prepTaskID   string
	reportTaskID string

	ontology *api.Ontology
	graph    *api.GraphSnapshot

	profiles        *reconcile.Log[api.AgentProfile]
	profileMark     reconcile.Watermark
	profileExpected int
	prepareDone     bool
	profilesDone    bool
	configStarted   bool
	config          *api.ConfigSnapshot

	platforms   []string
	maxRounds   *int
	run         *api.RunStatus
	gate        GateResult
	actions     *reconcile.Log[api.ActionRecord]
	actionMark  reconcile.Watermark
	recentLimit int

	report *api.Report

	changed chan struct{}
	subs    map[int]chan State
	nextSub int
	updated time.Time
}

func newSession(logCap, runLogCap, recent int) *Session {
	s := &Session{
		profiles:    reconcile.NewLog[api.AgentProfile](api.AgentProfile.DedupKey),
		actions:     reconcile.NewLog[api.ActionRecord](api.ActionRecord.DedupKey),
		recentLimit: recent,
		changed:     make(chan struct{}),
		subs:        make(map[int]chan State),
	}
	for i := range s.phases {
		c := logCap
		if Phase(i) == PhaseRun {
			c = runLogCap
		}
		s.phases[i] = phaseState{status: StatusIdle, log: reconcile.NewBoundedLog(c)}
	}
	return s
}

// Lock and Unlock make the session the pollers' sync.Locker.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// logf appends to a phase's diagnostic log. Caller holds mu or the log
// is otherwise safe to touch; BoundedLog has its own lock.
func (s *Session) logf(p Phase, level reconcile.Level, format string, args ...any) {
	switch level {
	case reconcile.LevelWarn:
		s.phases[p].log.Warnf(format, args...)
	case reconcile.LevelError:
		s.phases[p].log.Errorf(format, args...)
	default:
		s.phases[p].log.Appendf(format, args...)
	}
}

// advance moves the phase forward. It never moves backward.
func (s *Session) advance(p Phase) bool {
	if p <= s.phase {
		return false
	}
	s.phase = p
	return true
}

// advanceSetup moves the setup sub-phase forward.
func (s *Session) advanceSetup(step SetupStep) bool {
	if step <= s.setupStep {
		return false
	}
	s.setupStep = step
	return true
}

// resetFrom zeroes every phase at or after p, in one step under mu.
func (s *Session) resetFrom(p Phase) {
	for i := int(p); i < phaseCount; i++ {
		s.phases[i].status = StatusIdle
		s.phases[i].progress = 0
		s.phases[i].message = ""
		s.phases[i].stage = ""
		s.phases[i].err = nil
		s.phases[i].log.Clear()
	}
	if p <= PhaseSetup {
		s.setupStep = SetupInit
		s.prepareDone = false
		s.profilesDone = false
		s.configStarted = false
		s.config = nil
		s.profiles.Reset()
		s.profileMark.Reset()
		s.profileExpected = 0
		s.prepTaskID = ""
	}
	if p <= PhaseRun {
		s.run = nil
		s.gate = GateResult{}
		s.actions.Reset()
		s.actionMark.Reset()
		s.runID = ""
	}
	if p <= PhaseReport {
		s.report = nil
		s.reportID = ""
		s.reportTaskID = ""
	}
	s.phase = p
}

// touch wakes waiters and pushes a fresh State to subscribers.
func (s *Session) touch() {
	s.updated = time.Now()
	close(s.changed)
	s.changed = make(chan struct{})
	if len(s.subs) == 0 {
		return
	}
	st := s.snapshot()
	for _, ch := range s.subs {
		// Latest state wins: drop a stale pending value.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// =============================================================================
// State Snapshot
// =============================================================================

// PhaseView is one phase as seen by observers.
type PhaseView struct {
	Phase    Phase                `json:"phase"`
	Name     string               `json:"name"`
	Status   PhaseStatus          `json:"status"`
	Progress float64              `json:"progress"`
	Message  string               `json:"message,omitempty"`
	Stage    string               `json:"stage,omitempty"`
	Error    string               `json:"error,omitempty"`
	Log      []reconcile.LogEntry `json:"log"`
}

// State is an immutable copy of the session for display and persistence.
type State struct {
	Epoch     uint64      `json:"epoch"`
	RunID     string      `json:"run_id,omitempty"`
	Phase     Phase       `json:"phase"`
	PhaseName string      `json:"phase_name"`
	SetupStep SetupStep   `json:"setup_step"`
	Phases    []PhaseView `json:"phases"`

	ProjectID    string `json:"project_id,omitempty"`
	ProjectName  string `json:"project_name,omitempty"`
	GraphID      string `json:"graph_id,omitempty"`
	SimulationID string `json:"simulation_id,omitempty"`
	ReportID     string `json:"report_id,omitempty"`

	Ontology *api.Ontology      `json:"ontology,omitempty"`
	Graph    *api.GraphSnapshot `json:"-"`
	Nodes    int                `json:"nodes"`
	Edges    int                `json:"edges"`

	Profiles         []api.AgentProfile  `json:"profiles,omitempty"`
	ProfilesExpected int                 `json:"profiles_expected"`
	Config           *api.ConfigSnapshot `json:"config,omitempty"`

	Platforms     []string           `json:"platforms,omitempty"`
	MaxRounds     *int               `json:"max_rounds,omitempty"`
	Run           *api.RunStatus     `json:"run,omitempty"`
	Gate          GateResult         `json:"gate"`
	ActionsCount  int                `json:"actions_count"`
	RecentActions []actions.Rendered `json:"recent_actions,omitempty"`

	Report *api.Report `json:"report,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Current returns the view of the session's current phase, or a Done
// view once every phase finished.
func (st State) Current() PhaseView {
	if int(st.Phase) < len(st.Phases) {
		return st.Phases[st.Phase]
	}
	return PhaseView{Phase: PhaseDone, Name: PhaseDone.String(), Status: StatusCompleted}
}

// TotalRounds is the run's round total, or zero before the run starts.
func (st State) TotalRounds() int {
	if st.Run == nil {
		return 0
	}
	return st.Run.TotalRounds
}

// snapshot copies the session. Caller holds mu.
func (s *Session) snapshot() State {
	st := State{
		Epoch:            s.epoch,
		RunID:            s.runID,
		Phase:            s.phase,
		PhaseName:        s.phase.String(),
		SetupStep:        s.setupStep,
		Phases:           make([]PhaseView, phaseCount),
		ProjectID:        s.projectID,
		ProjectName:      s.projectName,
		GraphID:          s.graphID,
		SimulationID:     s.simulationID,
		ReportID:         s.reportID,
		Ontology:         s.ontology,
		Graph:            s.graph,
		Profiles:         s.profiles.Items(),
		ProfilesExpected: s.profileExpected,
		Config:           s.config,
		Platforms:        append([]string(nil), s.platforms...),
		Gate:             s.gate,
		ActionsCount:     s.actions.Len(),
		Report:           s.report,
		UpdatedAt:        s.updated,
	}
	for i := range s.phases {
		ps := s.phases[i]
		pv := PhaseView{
			Phase:    Phase(i),
			Name:     Phase(i).String(),
			Status:   ps.status,
			Progress: ps.progress,
			Message:  ps.message,
			Stage:    ps.stage,
			Log:      ps.log.Entries(),
		}
		if ps.err != nil {
			pv.Error = ps.err.Error()
		}
		st.Phases[i] = pv
	}
	if s.graph != nil {
		st.Nodes = len(s.graph.Nodes)
		st.Edges = len(s.graph.Edges)
	}
	if s.maxRounds != nil {
		v := *s.maxRounds
		st.MaxRounds = &v
	}
	if s.run != nil {
		rs := *s.run
		st.Run = &rs
	}
	for _, a := range s.actions.Tail(s.recentLimit) {
		st.RecentActions = append(st.RecentActions, actions.Render(a))
	}
	return st
}
