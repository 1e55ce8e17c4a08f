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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/simdeck/cmd/simdeck/config"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
)

type statusFlags struct {
	simulationID string
	platform     string
	json         bool
}

// statusReport is what `simdeck status --json` prints.
type statusReport struct {
	ProjectID string                  `json:"project_id,omitempty"`
	Run       api.RunStatus           `json:"run"`
	Platforms []string                `json:"platforms"`
	Gate      orchestrator.GateResult `json:"gate"`
	Env       *api.EnvStatus          `json:"env,omitempty"`
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func newStatusCmd(c *cli) *cobra.Command {
	var f statusFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a simulation's run status and whether it is complete",
		Long: `Reads run-status and env-status for a simulation and evaluates the
completion gate: the run is complete only when every started platform is
done.

Without --simulation the most recent saved session is used.

Examples:
  simdeck status
  simdeck status --simulation sim_123 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), c.app, f)
		},
	}

	// =========================================================================
	// COMMAND INITIALIZATION
	// =========================================================================

	cmd.Flags().StringVar(&f.simulationID, "simulation", "",
		"Simulation id (default the latest session)")
	cmd.Flags().StringVar(&f.platform, "platform", "",
		"Platforms the run started: twitter, reddit or parallel (default from the config)")
	cmd.Flags().BoolVar(&f.json, "json", false,
		"Output as JSON for scripting")
	return cmd
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runStatus(ctx context.Context, a *app, f statusFlags) error {
	simID := f.simulationID
	if simID == "" {
		cp, err := a.latestCheckpoint(ctx, "simulation")
		if err != nil {
			return err
		}
		if cp.SimulationID == "" {
			return fmt.Errorf("session %s has no simulation yet, pass --simulation", cp.ProjectID)
		}
		simID = cp.SimulationID
	}

	rs, err := a.client.GetRunStatus(ctx, simID)
	if err != nil {
		return err
	}
	platform := f.platform
	if platform == "" {
		platform = configuredPlatform(a.cfg.Platforms)
	}
	rep := statusReport{Run: *rs, Platforms: orchestrator.Platforms(platform)}
	rep.Gate = orchestrator.EvaluateGate(rep.Run, rep.Platforms)

	if a.store != nil {
		if cp, err := a.store.FindBySimulation(ctx, simID); err == nil {
			rep.ProjectID = cp.ProjectID
		}
	}

	env, err := a.client.GetEnvStatus(ctx, simID)
	if err != nil {
		a.logger.Warn("env-status failed", "simulation_id", simID, "error", err)
	} else {
		rep.Env = env
	}

	if f.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printStatus(a.out, simID, rep)
	return nil
}

func printStatus(w io.Writer, simID string, rep statusReport) {
	rs := rep.Run
	if rep.ProjectID != "" {
		fmt.Fprintf(w, "project     %s\n", rep.ProjectID)
	}
	fmt.Fprintf(w, "simulation  %s\n", simID)
	fmt.Fprintf(w, "runner      %s\n", rs.RunnerStatus)
	fmt.Fprintf(w, "rounds      %d/%d (%.0f%%)\n", rs.CurrentRound, rs.TotalRounds, rs.ProgressPercent)
	for _, name := range rep.Platforms {
		p := rs.Platform(name)
		mark := "running"
		if rep.Gate.Done[name] {
			mark = "done"
		}
		fmt.Fprintf(w, "  %-8s  round %d/%d  %d actions  %s\n",
			name, p.CurrentRound, rs.TotalRounds, p.ActionsCount, mark)
	}
	if rep.Env != nil {
		fmt.Fprintf(w, "env alive   %t\n", rep.Env.EnvAlive)
	}
	if rep.Gate.Complete {
		fmt.Fprintln(w, "complete    yes")
	} else {
		fmt.Fprintln(w, "complete    no")
	}
}

// configuredPlatform maps the enabled platforms to a start mode.
func configuredPlatform(p config.PlatformsConfig) string {
	switch {
	case p.Twitter && !p.Reddit:
		return api.PlatformTwitter
	case p.Reddit && !p.Twitter:
		return api.PlatformReddit
	default:
		return api.PlatformParallel
	}
}
