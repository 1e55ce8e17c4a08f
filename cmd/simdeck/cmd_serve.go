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
	"net"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/simdeck/cmd/simdeck/config"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/viewer"
)

type serveFlags struct {
	addr      string
	projectID string
	graphID   string
	latest    bool
	noWatch   bool
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func newServeCmd(c *cli) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live graph viewer",
		Long: `Starts the viewer: layout and pipeline state as JSON, the graph as SVG,
click selection and dragging, and a websocket that pushes every change.

With --project the graph phase of that project is resumed so the viewer
follows the graph as the backend builds it. With --graph a single
snapshot is shown. --latest resumes the most recent saved session.

Layout settings are reloaded when the config file changes.

Examples:
  simdeck serve --project proj_123
  simdeck serve --graph graph_123 --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c.app, f, nil)
		},
	}

	// =========================================================================
	// COMMAND INITIALIZATION
	// =========================================================================

	cmd.Flags().StringVar(&f.addr, "addr", "",
		"Listen address (default from the config)")
	cmd.Flags().StringVar(&f.projectID, "project", "",
		"Follow this project's graph")
	cmd.Flags().StringVar(&f.graphID, "graph", "",
		"Show one graph snapshot")
	cmd.Flags().BoolVar(&f.latest, "latest", false,
		"Follow the most recent saved session")
	cmd.Flags().BoolVar(&f.noWatch, "no-watch", false,
		"Do not reload layout settings when the config changes")
	return cmd
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runServe serves the viewer until ctx ends.
//
// # Inputs
//
//   - ctx: Cancel to shut down
//   - a: Shared services
//   - f: Flags
//   - ready: Receives the bound address; may be nil
func runServe(ctx context.Context, a *app, f serveFlags, ready func(net.Addr)) error {
	if f.projectID != "" && f.graphID != "" {
		return errors.New("pass only one of --project and --graph")
	}
	addr := f.addr
	if addr == "" {
		addr = a.cfg.Viewer.Addr
	}
	projectID := f.projectID
	if f.latest && projectID == "" && f.graphID == "" {
		cp, err := a.latestCheckpoint(ctx, "project")
		if err != nil {
			return err
		}
		projectID = cp.ProjectID
	}

	gin.SetMode(gin.ReleaseMode)
	engine := layout.NewEngine(a.cfg.Layout)
	opts := []viewer.Option{
		viewer.WithLogger(a.slog()),
		viewer.WithMetricsHandler(a.metrics.Handler()),
		viewer.WithIterations(a.cfg.Viewer.Iterations),
		viewer.WithPushInterval(a.cfg.Viewer.PushInterval),
		viewer.WithServiceName(a.cfg.Telemetry.ServiceName),
	}

	if projectID != "" {
		o := a.orchestrator(orchestrator.WithGraphListener(func(snap api.GraphSnapshot, d layout.Delta) {
			engine.Update(snap)
		}))
		defer o.Close()
		stopRecording := a.recordPhases(ctx, o)
		defer stopRecording()
		if err := o.StartGraph(ctx, orchestrator.GraphInput{ProjectID: projectID}); err != nil {
			return err
		}
		opts = append(opts, viewer.WithState(o))
	} else if f.graphID != "" {
		snap, err := loadSnapshot(ctx, a, f.graphID, false)
		if err != nil {
			return err
		}
		engine.Update(snap)
	}

	if !f.noWatch {
		w, err := config.Watch(a.cfgPath, func(cfg config.SimdeckConfig) {
			engine.SetParams(cfg.Layout)
			a.logger.Info("layout settings reloaded", "path", a.cfgPath)
		}, config.WithWatchLogger(a.slog()))
		if err != nil {
			a.logger.Warn("config watch disabled", "path", a.cfgPath, "error", err)
		} else {
			defer w.Close()
		}
	}

	srv := viewer.New(engine, opts...)
	return srv.Serve(ctx, addr, func(bound net.Addr) {
		fmt.Fprintf(a.out, "viewer listening on http://%s\n", bound)
		if ready != nil {
			ready(bound)
		}
	})
}
