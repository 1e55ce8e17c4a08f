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
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/lifecycle"
)

// errNotConfirmed is returned when the user declines the teardown.
var errNotConfirmed = errors.New("teardown cancelled")

type backFlags struct {
	simulationID string
	yes          bool
}

// confirmFunc asks the user to approve a teardown. Replaced in tests.
type confirmFunc func(simulationID string) (bool, error)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func newBackCmd(c *cli) *cobra.Command {
	var f backFlags
	cmd := &cobra.Command{
		Use:   "back",
		Short: "Leave the simulation run and shut its environment down",
		Long: `Tears the simulation environment down the way navigating back from the
run phase does: ask the environment to close gracefully, and force-stop
the run when the close fails or the environment is gone but the runner
still reports running. When nothing is running no call is made.

Without --simulation the most recent saved session is used.

Examples:
  simdeck back
  simdeck back --simulation sim_123 --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm := confirmTeardown
			if f.yes {
				confirm = nil
			} else if !isTerminal(c.app.in) {
				return errors.New("refusing to tear down without a terminal, pass --yes")
			}
			return runBack(cmd.Context(), c.app, f, confirm)
		},
	}

	// =========================================================================
	// COMMAND INITIALIZATION
	// =========================================================================

	cmd.Flags().StringVar(&f.simulationID, "simulation", "",
		"Simulation id (default the latest session)")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false,
		"Skip the confirmation prompt")
	return cmd
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runBack runs the lifecycle teardown for one simulation. A nil confirm
// skips the prompt.
func runBack(ctx context.Context, a *app, f backFlags, confirm confirmFunc) error {
	simID := f.simulationID
	if simID == "" {
		cp, err := a.latestCheckpoint(ctx, "simulation")
		if err != nil {
			return err
		}
		if cp.SimulationID == "" {
			return fmt.Errorf("session %s has no simulation, nothing to tear down", cp.ProjectID)
		}
		simID = cp.SimulationID
	}

	if confirm != nil {
		ok, err := confirm(simID)
		if err != nil {
			return err
		}
		if !ok {
			return errNotConfirmed
		}
	}

	res, err := a.lifecycle().Teardown(ctx, simID, lifecycle.Hint{})
	if err != nil {
		return err
	}
	switch res.Action {
	case lifecycle.ActionNone:
		fmt.Fprintf(a.out, "simulation %s: nothing was running\n", simID)
	case lifecycle.ActionClosed:
		fmt.Fprintf(a.out, "simulation %s: environment closed in %s\n", simID, res.Elapsed.Round(time.Millisecond))
	case lifecycle.ActionForced:
		fmt.Fprintf(a.out, "simulation %s: run force-stopped in %s\n", simID, res.Elapsed.Round(time.Millisecond))
	}
	return nil
}

// confirmTeardown shows a yes/no prompt.
func confirmTeardown(simulationID string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Shut down simulation %s?", simulationID)).
		Description("The running environment is closed and the run stops.").
		Affirmative("Shut down").
		Negative("Keep running").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}
