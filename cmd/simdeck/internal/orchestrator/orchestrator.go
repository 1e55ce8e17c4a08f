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
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/lifecycle"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/poller"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/store"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
)

// RecommendedMaxRounds is the round cap suggested to users who want a
// quicker run than the server's time-config default.
const RecommendedMaxRounds = 40

var (
	// ErrClosed is returned by operations on a closed orchestrator.
	ErrClosed = errors.New("orchestrator closed")

	// ErrPrerequisite is returned when a phase is entered before the
	// phase it depends on completed.
	ErrPrerequisite = errors.New("phase prerequisite not met")

	// ErrSuperseded is returned when a Restart or Back overtook an
	// operation in flight.
	ErrSuperseded = errors.New("superseded by a newer run")
)

// =============================================================================
// Configuration
// =============================================================================

// Intervals are the poll periods per poller.
type Intervals struct {
	Task         time.Duration `yaml:"task" validate:"gt=0"`
	RunStatus    time.Duration `yaml:"run_status" validate:"gt=0"`
	RunDetail    time.Duration `yaml:"run_detail" validate:"gt=0"`
	Profiles     time.Duration `yaml:"profiles" validate:"gt=0"`
	Config       time.Duration `yaml:"config" validate:"gt=0"`
	GraphRefresh time.Duration `yaml:"graph_refresh" validate:"gt=0"`
}

// DefaultIntervals returns the production poll periods.
func DefaultIntervals() Intervals {
	return Intervals{
		Task:         2 * time.Second,
		RunStatus:    2 * time.Second,
		RunDetail:    3 * time.Second,
		Profiles:     3 * time.Second,
		Config:       2 * time.Second,
		GraphRefresh: 10 * time.Second,
	}
}

// Config configures an Orchestrator.
type Config struct {
	Intervals    Intervals
	ProbeTimeout time.Duration

	// LogCapacity bounds each phase log; RunLogCapacity the run log.
	LogCapacity    int
	RunLogCapacity int

	// RecentActions is how many rendered actions State carries.
	RecentActions int

	EnableTwitter bool
	EnableReddit  bool

	// ProfilePlatform selects which platform's profiles are streamed
	// during setup.
	ProfilePlatform string
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Intervals:       DefaultIntervals(),
		ProbeTimeout:    util.DefaultProbeTimeout,
		LogCapacity:     reconcile.DefaultLogCapacity,
		RunLogCapacity:  reconcile.RunLogCapacity,
		RecentActions:   20,
		EnableTwitter:   true,
		EnableReddit:    true,
		ProfilePlatform: api.PlatformReddit,
	}
}

// =============================================================================
// Collaborators
// =============================================================================

// Observer receives orchestration metrics. internal/metrics implements it.
type Observer interface {
	poller.Observer
	SetPhase(phase string, setupStep int)
	ObserveDedup(stream string, added, dropped int)
}

type nopObserver struct{}

func (nopObserver) ObservePoll(string, string)    {}
func (nopObserver) SetPhase(string, int)          {}
func (nopObserver) ObserveDedup(string, int, int) {}

// Store persists checkpoints. *store.Store implements it.
type Store interface {
	SaveCheckpoint(store.Checkpoint) error
	SaveGraph(api.GraphSnapshot) error
}

// GraphListener is told about every applied graph snapshot. It runs with
// the session locked and must not call back into the Orchestrator.
type GraphListener func(snap api.GraphSnapshot, delta layout.Delta)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithStore enables checkpointing.
func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLifecycle replaces the environment lifecycle manager.
func WithLifecycle(m *lifecycle.Manager) Option {
	return func(o *Orchestrator) { o.lifecycle = m }
}

// WithGraphListener registers a graph listener.
func WithGraphListener(fn GraphListener) Option {
	return func(o *Orchestrator) { o.onGraph = append(o.onGraph, fn) }
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator sequences the pipeline phases over one backend.
//
// # Description
//
// Each phase is entered with a Start method that submits the phase's work
// and launches its pollers, then returns. Await blocks until a phase
// completes or fails. Run chains all four.
//
// Entry is idempotent: starting a running phase is a no-op and starting a
// completed phase reloads its terminal state from the backend without
// submitting anything.
//
// # Thread Safety
//
// Safe for concurrent use. Callbacks and Start methods serialize on the
// session lock.
type Orchestrator struct {
	backend   api.Backend
	cfg       Config
	logger    *slog.Logger
	observer  Observer
	store     Store
	lifecycle *lifecycle.Manager
	onGraph   []GraphListener

	s *Session

	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by s.mu.
	pollers [phaseCount][]*poller.Poller
	all     []*poller.Poller
	closed  bool

	wg sync.WaitGroup
	sf singleflight.Group
}

// New creates an Orchestrator.
//
// # Inputs
//
//   - backend: The backend API, usually *api.Client
//   - cfg: Poll intervals, log caps and platform defaults
//   - opts: Optional collaborators
//
// # Outputs
//
//   - *Orchestrator: Call Close when done to stop every poller
func New(backend api.Backend, cfg Config, opts ...Option) *Orchestrator {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = reconcile.DefaultLogCapacity
	}
	if cfg.RunLogCapacity <= 0 {
		cfg.RunLogCapacity = reconcile.RunLogCapacity
	}
	if cfg.ProfilePlatform == "" {
		cfg.ProfilePlatform = api.PlatformReddit
	}
	if !cfg.EnableTwitter && !cfg.EnableReddit {
		cfg.EnableTwitter, cfg.EnableReddit = true, true
	}
	cfg.ProbeTimeout = util.EnforceDefaultTimeout(cfg.ProbeTimeout, util.DefaultProbeTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend:  backend,
		cfg:      cfg,
		logger:   slog.Default(),
		observer: nopObserver{},
		s:        newSession(cfg.LogCapacity, cfg.RunLogCapacity, cfg.RecentActions),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.lifecycle == nil {
		// Teardown lines land in the setup log, which survives Back.
		o.lifecycle = lifecycle.NewManager(backend,
			lifecycle.WithLogger(o.logger),
			lifecycle.WithSink(func(level, msg string) {
				o.s.phases[PhaseSetup].log.AppendLevel(reconcile.Level(level), msg)
			}),
		)
	}
	return o
}

// State returns a copy of the session.
func (o *Orchestrator) State() State {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	return o.s.snapshot()
}

// Subscribe returns a channel that always holds the latest State, and a
// cancel function. The first value is sent immediately.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	ch := make(chan State, 1)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.s.nextSub
	o.s.nextSub++
	o.s.subs[id] = ch
	ch <- o.s.snapshot()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.s.mu.Lock()
			defer o.s.mu.Unlock()
			if c, ok := o.s.subs[id]; ok {
				delete(o.s.subs, id)
				close(c)
			}
		})
	}
}

// Await blocks until phase p completes or fails.
//
// # Outputs
//
//   - error: nil on completion; the phase error on failure; ctx.Err() or
//     ErrClosed if waiting was cut short
func (o *Orchestrator) Await(ctx context.Context, p Phase) error {
	for {
		o.s.mu.Lock()
		if p == PhaseDone && o.s.phase == PhaseDone {
			o.s.mu.Unlock()
			return nil
		}
		if int(p) < phaseCount {
			ps := o.s.phases[p]
			switch ps.status {
			case StatusCompleted:
				o.s.mu.Unlock()
				return nil
			case StatusFailed:
				o.s.mu.Unlock()
				return ps.err
			}
		}
		if o.closed {
			o.s.mu.Unlock()
			return ErrClosed
		}
		ch := o.s.changed
		o.s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close stops every poller and waits for background work to exit. Safe to
// call more than once.
func (o *Orchestrator) Close() {
	o.s.mu.Lock()
	if o.closed {
		o.s.mu.Unlock()
		return
	}
	o.closed = true
	for _, p := range o.all {
		p.Stop()
	}
	all := o.all
	o.all = nil
	for i := range o.pollers {
		o.pollers[i] = nil
	}
	o.cancel()
	o.s.touch()
	for id, ch := range o.s.subs {
		delete(o.s.subs, id)
		close(ch)
	}
	o.s.mu.Unlock()

	for _, p := range all {
		p.Wait()
	}
	o.wg.Wait()
}

// =============================================================================
// Phase Plumbing (all helpers below require s.mu held)
// =============================================================================

type entryMode int

const (
	entryStart entryMode = iota
	entryBusy
	entryReload
)

// enter applies the idempotent entry guard.
func (o *Orchestrator) enter(p Phase, need func(*Session) error) (uint64, entryMode, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	if o.closed {
		return 0, 0, ErrClosed
	}
	switch o.s.phases[p].status {
	case StatusRunning:
		return o.s.epoch, entryBusy, nil
	case StatusCompleted:
		o.s.logf(p, reconcile.LevelInfo, "%s already completed, reloading", p.Title())
		return o.s.epoch, entryReload, nil
	}
	if need != nil {
		if err := need(o.s); err != nil {
			return 0, 0, err
		}
	}

	ps := &o.s.phases[p]
	ps.status = StatusRunning
	ps.err = nil
	ps.progress = 0
	ps.message = ""
	ps.stage = ""
	o.s.advance(p)
	o.s.logf(p, reconcile.LevelInfo, "%s started", p.Title())
	o.publish()
	return o.s.epoch, entryStart, nil
}

// current reports whether work captured at epoch may still apply.
func (o *Orchestrator) current(epoch uint64) bool {
	return !o.closed && o.s.epoch == epoch
}

// guard locks the session and checks epoch. On true the caller owns the
// lock and must unlock.
func (o *Orchestrator) guard(epoch uint64) bool {
	o.s.mu.Lock()
	if !o.current(epoch) {
		o.s.mu.Unlock()
		return false
	}
	return true
}

// publish notifies observers and subscribers of a change.
func (o *Orchestrator) publish() {
	o.observer.SetPhase(o.s.phase.String(), int(o.s.setupStep))
	o.s.touch()
}

// complete marks a phase completed and stops its pollers.
func (o *Orchestrator) complete(p Phase) {
	ps := &o.s.phases[p]
	ps.status = StatusCompleted
	ps.progress = 100
	ps.err = nil
	o.stopPhase(p)
	o.s.logf(p, reconcile.LevelInfo, "%s completed", p.Title())
	o.logger.Info("phase completed", "phase", p.String(), "epoch", o.s.epoch)
	o.checkpoint()
	o.publish()
}

// fail marks a phase failed and halts its pollers.
func (o *Orchestrator) fail(p Phase, err error) {
	ps := &o.s.phases[p]
	ps.status = StatusFailed
	ps.err = err
	o.stopPhase(p)
	o.s.logf(p, reconcile.LevelError, "%s failed: %v", p.Title(), err)
	o.logger.Error("phase failed", "phase", p.String(), "error", err)
	o.checkpoint()
	o.publish()
}

// failUnlessStale fails p with err if epoch is still current. It takes the
// lock itself and returns err, or ErrSuperseded when stale.
func (o *Orchestrator) failUnlessStale(epoch uint64, p Phase, err error) error {
	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.fail(p, err)
	return err
}

// stopPhase stops every poller of a phase without waiting.
func (o *Orchestrator) stopPhase(p Phase) {
	for _, pl := range o.pollers[p] {
		pl.Stop()
	}
	o.pollers[p] = nil
}

// spawn runs fn in the background, tracked by Close.
func (o *Orchestrator) spawn(name string, fn func(ctx context.Context)) {
	if o.closed {
		return
	}
	o.wg.Add(1)
	util.SafeGo(func() {
		defer o.wg.Done()
		fn(o.ctx)
	}, func(r util.SafeGoResult) {
		o.logger.Error("background task panicked", "task", name, "panic", r.PanicValue, "stack", r.Stack)
	})
}

// checkpoint saves the resumable ids. Failures are logged, never fatal.
func (o *Orchestrator) checkpoint() {
	if o.store == nil || o.s.projectID == "" {
		return
	}
	cp := store.Checkpoint{
		ProjectID:    o.s.projectID,
		GraphID:      o.s.graphID,
		SimulationID: o.s.simulationID,
		ReportID:     o.s.reportID,
		Phase:        o.s.phase.String(),
		SetupStep:    o.s.setupStep.String(),
		RunID:        o.s.runID,
		Epoch:        o.s.epoch,
		MaxRounds:    o.s.maxRounds,
		Actions:      o.s.actions.Len(),
	}
	if int(o.s.phase) < phaseCount {
		cp.Status = string(o.s.phases[o.s.phase].status)
		if err := o.s.phases[o.s.phase].err; err != nil {
			cp.Error = err.Error()
		}
	} else {
		cp.Status = string(StatusCompleted)
	}
	if o.s.run != nil {
		cp.TotalRounds = o.s.run.TotalRounds
	}
	if err := o.store.SaveCheckpoint(cp); err != nil {
		o.logger.Warn("checkpoint save failed", "project_id", o.s.projectID, "error", err)
	}
}

// pollerSpec describes one poller to start.
type pollerSpec[T any] struct {
	phase    Phase
	name     string
	interval time.Duration
	epoch    uint64
	probe    poller.Probe[T]
	update   func(poller.Tick[T])
	terminal func(poller.Outcome[T])
}

// startPoller launches a poller bound to the session lock. Callbacks are
// dropped once the epoch moves on.
func startPoller[T any](o *Orchestrator, spec pollerSpec[T]) *poller.Poller {
	p := spec.phase
	epoch := spec.epoch
	onUpdate := func(t poller.Tick[T]) {
		if !o.current(epoch) || spec.update == nil {
			return
		}
		spec.update(t)
	}
	onTerminal := func(out poller.Outcome[T]) {
		if !o.current(epoch) || spec.terminal == nil {
			return
		}
		spec.terminal(out)
	}
	pl := poller.Start(o.ctx, spec.probe, spec.interval, onUpdate, onTerminal,
		poller.WithName(spec.name),
		poller.WithLogger(o.logger),
		poller.WithLocker(o.s),
		poller.WithProbeTimeout(o.cfg.ProbeTimeout),
		poller.WithObserver(o.observer),
		poller.WithLogSink(func(line string) {
			if o.current(epoch) {
				o.s.phases[p].log.Append(line)
			}
		}),
		poller.WithErrorHandler(func(err error) {
			if !o.current(epoch) {
				return
			}
			o.s.logf(p, reconcile.LevelWarn, "%v", err)
			o.s.touch()
		}),
	)
	o.pollers[p] = append(o.pollers[p], pl)
	o.pruneFinished()
	o.all = append(o.all, pl)
	return pl
}

// pruneFinished drops pollers whose goroutine already exited, so restarts
// do not accumulate them until Close. Caller holds mu.
func (o *Orchestrator) pruneFinished() {
	live := o.all[:0]
	for _, pl := range o.all {
		select {
		case <-pl.Done():
		default:
			live = append(live, pl)
		}
	}
	clear(o.all[len(live):])
	o.all = live
}

// taskTick converts a task state into a poller tick.
func taskTick(ts *api.TaskState) poller.Tick[*api.TaskState] {
	t := poller.Tick[*api.TaskState]{
		Value:    ts,
		Status:   ts.Status(),
		Progress: ts.ClampedProgress(),
		Message:  ts.Message,
		Stage:    poller.StageFromDetail(ts.ProgressDetail),
	}
	if t.Status == api.TaskFailed {
		t.Error = ts.FailureMessage()
	}
	return t
}

// setProgress records a tick's progress on a phase.
func (o *Orchestrator) setProgress(p Phase, progress float64, message string, stage poller.Stage) {
	ps := &o.s.phases[p]
	if progress > ps.progress {
		ps.progress = progress
	}
	if message != "" {
		ps.message = message
	}
	if !stage.IsZero() {
		ps.stage = stage.String()
	}
}

func describeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
