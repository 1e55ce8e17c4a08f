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
	"io"

	"github.com/spf13/cobra"
)

// cli carries the root flags and the app they produce to every command.
type cli struct {
	opts appOptions
	app  *app
}

// close releases the app. cobra skips post-run hooks when a command fails,
// so the caller of Execute closes instead.
func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.close()
	c.app = nil
	return err
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// newRootCmd builds the command tree. Each call returns fresh flag state so
// tests can execute it repeatedly.
func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:   "simdeck",
		Short: "Drive a multi-agent social simulation from the terminal",
		Long: `simdeck runs the four phases of a social simulation against its backend:
graph building, environment setup, the simulation run and report generation.

The config lives at ~/.simdeck/simdeck.yaml and is created on first run.

Examples:
  simdeck run --files brief.pdf --requirement "How will the launch be received?"
  simdeck status
  simdeck back --yes
  simdeck serve --project proj_123`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.in = cmd.InOrStdin()
			c.app = a
			return nil
		},
	}

	// =========================================================================
	// COMMAND INITIALIZATION
	// =========================================================================

	root.PersistentFlags().StringVar(&c.opts.configPath, "config", "",
		"Config file (default ~/.simdeck/simdeck.yaml)")
	root.PersistentFlags().BoolVarP(&c.opts.verbose, "verbose", "v", false,
		"Log debug output to stderr")
	root.PersistentFlags().BoolVar(&c.opts.noStore, "no-store", false,
		"Do not read or write the local session store")

	root.AddCommand(
		newRunCmd(c),
		newGraphCmd(c),
		newStatusCmd(c),
		newBackCmd(c),
		newServeCmd(c),
		newSessionsCmd(c),
	)
	return root, c
}

// execute runs args through a fresh command tree and always closes the app.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	root, c := newRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.close())
}
