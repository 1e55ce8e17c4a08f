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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(cmd.Context(), c.app, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON for scripting")
	return cmd
}

func runSessions(ctx context.Context, a *app, asJSON bool) error {
	if a.store == nil {
		return errors.New("the session store is disabled")
	}
	cps, err := a.store.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(cps)
	}
	if len(cps) == 0 {
		fmt.Fprintln(a.out, "no saved sessions")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tSIMULATION\tPHASE\tSTATUS\tUPDATED")
	for _, cp := range cps {
		sim := cp.SimulationID
		if sim == "" {
			sim = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			cp.ProjectID, sim, cp.Phase, cp.Status, cp.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
