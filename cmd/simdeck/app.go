// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/simdeck/cmd/simdeck/config"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/lifecycle"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/metrics"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/store"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/telemetry"
	"github.com/AleutianAI/simdeck/pkg/logging"
)

const (
	serviceName     = "simdeck"
	shutdownTimeout = 5 * time.Second
)

// app holds what every command shares: configuration, logging, metrics,
// tracing, the session store and the backend client.
//
// # Description
//
// Built once per invocation by the root command's PersistentPreRunE and
// closed by PersistentPostRunE. Subcommands reach it through appFrom.
type app struct {
	cfg     config.SimdeckConfig
	cfgPath string

	logger    *logging.Logger
	metrics   *metrics.Metrics
	telemetry *telemetry.Providers
	recorder  *telemetry.PhaseRecorder
	store     *store.Store
	client    *api.Client

	out    io.Writer
	errOut io.Writer
	in     io.Reader
}

// appOptions are the root flags.
type appOptions struct {
	configPath string
	verbose    bool
	noStore    bool
}

// newApp loads the config and builds the shared services.
//
// # Inputs
//
//   - ctx: Used for exporter connections
//   - opts: Root flags
//   - out, errOut: Command output streams
//
// # Outputs
//
//   - *app: Call close when done
//   - error: Config, store or telemetry failure
func newApp(ctx context.Context, opts appOptions, out, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath, errOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, cfgPath: opts.configPath, out: out, errOut: errOut, in: os.Stdin}
	if a.cfgPath == "" {
		if a.cfgPath, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	a.cfgPath = config.ExpandPath(a.cfgPath)

	logCfg := cfg.LoggerConfig(serviceName)
	logCfg.Writer = errOut
	logCfg.Quiet = !opts.verbose
	if opts.verbose {
		logCfg.Level = logging.LevelDebug
	}
	a.logger = logging.New(logCfg)

	a.metrics = metrics.New()

	tcfg := cfg.Telemetry
	if tcfg.Writer == nil {
		tcfg.Writer = errOut
	}
	a.telemetry, err = telemetry.Init(ctx, tcfg, a.metrics.Registry())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.recorder, err = telemetry.NewPhaseRecorder(a.telemetry.Meter)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if !cfg.Store.Disabled && !opts.noStore {
		a.store, err = store.Open(cfg.BadgerConfig())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	a.client, err = api.New(cfg.APIConfig(),
		api.WithLogger(a.slog()),
		api.WithObserver(a.metrics),
		api.WithTracer(a.telemetry.Tracer),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) slog() *slog.Logger { return a.logger.Slog() }

// close releases everything newApp opened. Safe on a partly built app.
func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, a.telemetry.Shutdown(ctx))
		cancel()
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// lifecycle returns a teardown manager that reports progress on errOut.
func (a *app) lifecycle() *lifecycle.Manager {
	return lifecycle.NewManager(a.client,
		lifecycle.WithLogger(a.slog()),
		lifecycle.WithCloseTimeout(a.cfg.Backend.CloseEnvTimeout),
		lifecycle.WithSink(func(level, msg string) {
			fmt.Fprintf(a.errOut, "[%s] %s\n", level, msg)
		}),
	)
}

// orchestrator builds a pipeline orchestrator with the shared services
// wired in. extra options are applied last.
func (a *app) orchestrator(extra ...orchestrator.Option) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.slog()),
		orchestrator.WithObserver(a.metrics),
		orchestrator.WithLifecycle(lifecycle.NewManager(a.client,
			lifecycle.WithLogger(a.slog()),
			lifecycle.WithCloseTimeout(a.cfg.Backend.CloseEnvTimeout),
		)),
	}
	if a.store != nil {
		opts = append(opts, orchestrator.WithStore(a.store))
	}
	return orchestrator.New(a.client, a.cfg.OrchestratorConfig(), append(opts, extra...)...)
}

// recordPhases feeds phase transitions into the telemetry recorder until
// the returned stop func is called or o closes.
func (a *app) recordPhases(ctx context.Context, o *orchestrator.Orchestrator) (stop func()) {
	states, unsubscribe := o.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range states {
			a.recorder.Observe(ctx, st)
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

// latestCheckpoint returns the most recent session, or an error telling
// the user which flag to pass instead.
func (a *app) latestCheckpoint(ctx context.Context, flag string) (store.Checkpoint, error) {
	if a.store == nil {
		return store.Checkpoint{}, fmt.Errorf("--%s is required when the session store is disabled", flag)
	}
	cp, err := a.store.Latest(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint{}, fmt.Errorf("no saved session, pass --%s", flag)
	}
	return cp, err
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
