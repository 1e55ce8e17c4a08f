// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
)

// ErrStopped is returned by Err when the poller was stopped before the job
// reached a terminal state.
var ErrStopped = errors.New("poller stopped")

// =============================================================================
// Types
// =============================================================================

// Tick is one probe result.
type Tick[T any] struct {
	// Value is the raw payload, e.g. *api.RunStatus.
	Value T

	// Status decides whether polling continues. The zero value is treated
	// as running.
	Status api.TaskStatus

	Progress float64
	Message  string
	Stage    Stage

	// Error is the failure message when Status is failed.
	Error string
}

// Probe fetches one Tick. It runs outside the session lock.
type Probe[T any] func(ctx context.Context) (Tick[T], error)

// Outcome is handed to the terminal callback.
type Outcome[T any] struct {
	Success bool
	Message string
	Last    Tick[T]
}

// Observer receives one event per probe. internal/metrics implements it.
type Observer interface {
	ObservePoll(poller, outcome string)
}

// Poll outcomes reported to Observer.
const (
	OutcomeUpdate    = "update"
	OutcomeTransient = "transient_error"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// =============================================================================
// Options
// =============================================================================

type settings struct {
	name         string
	logger       *slog.Logger
	locker       sync.Locker
	probeTimeout time.Duration
	logSink      func(string)
	onError      func(error)
	observer     Observer
}

// Option configures a poller.
type Option func(*settings)

// WithName names the poller in logs and metrics.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithLocker sets the lock held while callbacks run.
func WithLocker(l sync.Locker) Option {
	return func(s *settings) { s.locker = l }
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *settings) { s.probeTimeout = d }
}

// WithLogSink receives deduplicated progress lines. It runs under the lock.
func WithLogSink(sink func(string)) Option {
	return func(s *settings) { s.logSink = sink }
}

// WithErrorHandler receives every transient probe failure as a
// *api.TransientPollError. It runs under the lock.
func WithErrorHandler(fn func(error)) Option {
	return func(s *settings) { s.onError = fn }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

// =============================================================================
// Poller
// =============================================================================

// Poller is a running recurring probe.
//
// # Thread Safety
//
// Stop, Done, Wait and Err are safe for concurrent use.
type Poller struct {
	name   string
	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}

	// generation is bumped by Stop. A result captured under an older
	// generation is discarded.
	generation atomic.Uint64

	mu       sync.Mutex
	err      error
	finished bool
	lastKey  string
	probes   int64
}

// Start begins polling.
//
// # Description
//
// Issues probe immediately and then every interval until the probe reports
// a terminal status, ctx is cancelled, or Stop is called. onUpdate runs for
// every successful probe, onTerminal once when the job ends. Either
// callback may be nil.
//
// # Inputs
//
//   - ctx: Parent context; cancelling it stops the poller
//   - probe: Fetches one Tick
//   - interval: Delay between probes (clamped to util.MinPollInterval)
//   - onUpdate: Called with every Tick, under the lock
//   - onTerminal: Called once on completed/failed, under the lock
//   - opts: Name, logger, locker, probe timeout, log sink, error handler
//
// # Outputs
//
//   - *Poller: Handle for Stop/Wait
//
// # Example
//
//	p := poller.Start(ctx, probeBuildTask, 2*time.Second,
//	    func(t poller.Tick[*api.TaskState]) { session.progress = t.Progress },
//	    func(o poller.Outcome[*api.TaskState]) { session.finishBuild(o) },
//	    poller.WithLocker(&session.mu), poller.WithName("graph-build"))
//	defer p.Stop()
func Start[T any](
	ctx context.Context,
	probe Probe[T],
	interval time.Duration,
	onUpdate func(Tick[T]),
	onTerminal func(Outcome[T]),
	opts ...Option,
) *Poller {
	s := settings{
		name:         "poller",
		logger:       slog.Default(),
		locker:       &sync.Mutex{},
		probeTimeout: util.DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	interval = util.EnforceMinTimeout(interval, util.MinPollInterval)

	pctx, cancel := context.WithCancel(ctx)
	p := &Poller{
		name:   s.name,
		ctx:    pctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r := &runner[T]{
		p:          p,
		s:          s,
		probe:      probe,
		interval:   interval,
		onUpdate:   onUpdate,
		onTerminal: onTerminal,
	}
	go r.loop()
	return p
}

// Name returns the poller name.
func (p *Poller) Name() string { return p.name }

// Stop cancels the poller. It is idempotent, never blocks, and is safe to
// call from inside a callback.
func (p *Poller) Stop() {
	p.generation.Add(1)
	p.cancel()
	p.mu.Lock()
	if p.err == nil && !p.finished {
		p.err = ErrStopped
	}
	p.mu.Unlock()
}

// Done is closed once the poller goroutine exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Wait blocks until the goroutine exited. Do not call it while holding the
// poller's locker.
func (p *Poller) Wait() { <-p.done }

// Stopped reports whether the poller no longer delivers callbacks.
func (p *Poller) Stopped() bool { return p.ctx.Err() != nil }

// Err returns nil while running or after a successful terminal, the
// failure for a failed terminal, or ErrStopped after Stop.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Probes returns how many probes have been issued.
func (p *Poller) Probes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

func (p *Poller) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// =============================================================================
// Loop
// =============================================================================

type runner[T any] struct {
	p          *Poller
	s          settings
	probe      Probe[T]
	interval   time.Duration
	onUpdate   func(Tick[T])
	onTerminal func(Outcome[T])
}

func (r *runner[T]) loop() {
	defer close(r.p.done)
	defer util.RecoverPanic(func(res util.SafeGoResult) {
		r.s.logger.Error("poller panicked",
			"poller", r.s.name,
			"panic", res.PanicValue,
			"stack", res.Stack,
		)
		r.p.setErr(fmt.Errorf("poller %s panicked: %v", r.s.name, res.PanicValue))
		r.p.cancel()
	})()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if r.once() {
			return
		}
		select {
		case <-r.p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// once issues one probe and delivers it. Returns true when polling ends.
func (r *runner[T]) once() bool {
	gen := r.p.generation.Load()

	r.p.mu.Lock()
	r.p.probes++
	r.p.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.p.ctx, r.s.probeTimeout)
	tick, err := r.probe(ctx)
	cancel()

	r.s.locker.Lock()
	defer r.s.locker.Unlock()

	if r.p.ctx.Err() != nil || r.p.generation.Load() != gen {
		r.observe(OutcomeDiscarded)
		return true
	}

	if err != nil {
		perr := &api.TransientPollError{Poller: r.s.name, Err: err}
		r.observe(OutcomeTransient)
		r.s.logger.Warn("poll failed, will retry",
			"poller", r.s.name,
			"error", err,
			"interval", r.interval,
		)
		if r.s.onError != nil {
			r.s.onError(perr)
		}
		return false
	}

	r.emitLog(tick)
	if r.onUpdate != nil {
		r.onUpdate(tick)
	}

	switch tick.Status {
	case api.TaskCompleted:
		r.observe(OutcomeCompleted)
		r.finish(Outcome[T]{Success: true, Message: tick.Message, Last: tick}, nil)
		return true
	case api.TaskFailed:
		msg := tick.Error
		if msg == "" {
			msg = tick.Message
		}
		if msg == "" {
			msg = "task failed"
		}
		r.observe(OutcomeFailed)
		r.finish(Outcome[T]{Success: false, Message: msg, Last: tick}, errors.New(msg))
		return true
	default:
		r.observe(OutcomeUpdate)
		return false
	}
}

// finish runs the terminal callback and retires the poller. Caller holds
// the lock.
func (r *runner[T]) finish(o Outcome[T], err error) {
	r.s.logger.Debug("poller finished",
		"poller", r.s.name,
		"success", o.Success,
		"message", o.Message,
	)
	r.p.mu.Lock()
	r.p.finished = true
	if err != nil && r.p.err == nil {
		r.p.err = err
	}
	r.p.mu.Unlock()
	if r.onTerminal != nil {
		r.onTerminal(o)
	}
	r.p.cancel()
}

// emitLog forwards a progress line only when the stage key changed.
func (r *runner[T]) emitLog(tick Tick[T]) {
	if r.s.logSink == nil {
		return
	}
	var key, line string
	switch {
	case !tick.Stage.IsZero():
		key = tick.Stage.Key()
		line = tick.Stage.String()
	case tick.Message != "":
		key = "msg:" + tick.Message
		line = tick.Message
	default:
		return
	}

	r.p.mu.Lock()
	changed := key != r.p.lastKey
	r.p.lastKey = key
	r.p.mu.Unlock()

	if changed {
		r.s.logSink(line)
	}
}

func (r *runner[T]) observe(outcome string) {
	if r.s.observer != nil {
		r.s.observer.ObservePoll(r.s.name, outcome)
	}
}
