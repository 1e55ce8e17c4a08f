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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
)

type graphFlags struct {
	graphID    string
	projectID  string
	svg        string
	iterations int
	json       bool
	offline    bool
	noLabels   bool
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func newGraphCmd(c *cli) *cobra.Command {
	var f graphFlags
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Fetch a knowledge graph and lay it out",
		Long: `Fetches a graph snapshot, runs the force layout until it settles and
writes the result as SVG or as layout JSON.

The graph is chosen by --graph, by --project (its current graph) or by the
most recent saved session. Fetched snapshots are kept in the session store
so --offline can render them without the backend.

Examples:
  simdeck graph --graph graph_123 --svg graph.svg
  simdeck graph --project proj_123 --json
  simdeck graph --offline --svg -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd.Context(), c.app, f)
		},
	}

	// =========================================================================
	// COMMAND INITIALIZATION
	// =========================================================================

	cmd.Flags().StringVar(&f.graphID, "graph", "",
		"Graph id")
	cmd.Flags().StringVar(&f.projectID, "project", "",
		"Use the project's current graph")
	cmd.Flags().StringVar(&f.svg, "svg", "",
		"Write SVG to this file, - for stdout")
	cmd.Flags().IntVar(&f.iterations, "iterations", 500,
		"Maximum layout ticks before rendering")
	cmd.Flags().BoolVar(&f.json, "json", false,
		"Print the layout as JSON")
	cmd.Flags().BoolVar(&f.offline, "offline", false,
		"Render the snapshot saved in the session store")
	cmd.Flags().BoolVar(&f.noLabels, "no-labels", false,
		"Hide edge labels")
	return cmd
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runGraph(ctx context.Context, a *app, f graphFlags) error {
	if f.iterations < 1 {
		return errors.New("--iterations must be at least 1")
	}
	graphID, err := resolveGraphID(ctx, a, f)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(ctx, a, graphID, f.offline)
	if err != nil {
		return err
	}

	engine := layout.NewEngine(a.cfg.Layout)
	engine.SetEdgeLabels(!f.noLabels)
	d := engine.Update(snap)
	steps := engine.Settle(f.iterations)
	view := engine.View()
	a.logger.Debug("graph laid out",
		"graph_id", graphID, "delta", d.String(), "steps", steps, "settled", view.Settled)
	if view.Dropped > 0 {
		fmt.Fprintf(a.errOut, "dropped %d edges with missing endpoints\n", view.Dropped)
	}

	switch {
	case f.json:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case f.svg == "-":
		_, err := fmt.Fprintln(a.out, layout.RenderSVG(view))
		return err
	case f.svg != "":
		if err := os.WriteFile(f.svg, []byte(layout.RenderSVG(view)), 0o644); err != nil {
			return fmt.Errorf("write svg: %w", err)
		}
		fmt.Fprintf(a.out, "wrote %s (%d nodes, %d edges)\n", f.svg, len(view.Nodes), len(view.Edges))
		return nil
	default:
		fmt.Fprintf(a.out, "graph %s: %d nodes, %d edges, %d layout steps\n",
			graphID, len(view.Nodes), len(view.Edges), steps)
		return nil
	}
}

func resolveGraphID(ctx context.Context, a *app, f graphFlags) (string, error) {
	switch {
	case f.graphID != "":
		return f.graphID, nil
	case f.projectID != "":
		if f.offline {
			return "", errors.New("--project needs the backend, pass --graph with --offline")
		}
		p, err := a.client.GetProject(ctx, f.projectID)
		if err != nil {
			return "", err
		}
		if p.GraphID == "" {
			return "", fmt.Errorf("project %s has no graph yet", f.projectID)
		}
		return p.GraphID, nil
	default:
		cp, err := a.latestCheckpoint(ctx, "graph")
		if err != nil {
			return "", err
		}
		if cp.GraphID == "" {
			return "", fmt.Errorf("session %s has no graph yet, pass --graph", cp.ProjectID)
		}
		return cp.GraphID, nil
	}
}

// loadSnapshot fetches the graph and saves it, or reads the saved copy
// when offline.
func loadSnapshot(ctx context.Context, a *app, graphID string, offline bool) (api.GraphSnapshot, error) {
	if offline {
		if a.store == nil {
			return api.GraphSnapshot{}, errors.New("--offline needs the session store")
		}
		return a.store.Graph(ctx, graphID)
	}
	snap, err := a.client.GetGraphData(ctx, graphID)
	if err != nil {
		return api.GraphSnapshot{}, err
	}
	if snap.GraphID == "" {
		snap.GraphID = graphID
	}
	if a.store != nil {
		if err := a.store.SaveGraph(*snap); err != nil {
			a.logger.Warn("could not save graph snapshot", "graph_id", graphID, "error", err)
		}
	}
	return *snap, nil
}
