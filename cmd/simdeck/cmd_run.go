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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/tui"
)

// runFlags are the `simdeck run` options.
type runFlags struct {
	files       []string
	requirement string
	context     string
	name        string
	projectID   string
	maxRounds   int
	platform    string
	skipReport  bool
	plain       bool
	entityTypes []string
	useLLM      bool
	parallel    int
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func newRunCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the graph, prepare the environment, run the simulation and generate the report",
		Long: `Drives every phase in order and waits for each to finish before the next.

Either upload seed documents with --files and --requirement, or resume an
existing project with --project. Progress is shown in a dashboard when
stdout is a terminal and as one line per change otherwise.

Examples:
  simdeck run --files brief.pdf --files notes.md --requirement "Predict the reaction"
  simdeck run --project proj_123 --max-rounds 20
  simdeck run --project proj_123 --skip-report --plain`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			return runPipeline(cmd.Context(), c.app, f)
		},
	}

	// =========================================================================
	// COMMAND INITIALIZATION
	// =========================================================================

	cmd.Flags().StringArrayVar(&f.files, "files", nil,
		"Seed document to upload (repeatable)")
	cmd.Flags().StringVar(&f.requirement, "requirement", "",
		"What the simulation should predict")
	cmd.Flags().StringVar(&f.context, "context", "",
		"Additional context for ontology generation")
	cmd.Flags().StringVar(&f.name, "name", "",
		"Project name")
	cmd.Flags().StringVar(&f.projectID, "project", "",
		"Resume an existing project instead of uploading files")
	cmd.Flags().IntVar(&f.maxRounds, "max-rounds", 0,
		"Cap the number of simulated rounds (0 = server default)")
	cmd.Flags().StringVar(&f.platform, "platform", "",
		"twitter, reddit or parallel (default from the config)")
	cmd.Flags().BoolVar(&f.skipReport, "skip-report", false,
		"Stop after the simulation run")
	cmd.Flags().BoolVar(&f.plain, "plain", false,
		"Print plain progress lines even on a terminal")
	cmd.Flags().StringSliceVar(&f.entityTypes, "entity-types", nil,
		"Entity types to turn into agents (default all)")
	cmd.Flags().BoolVar(&f.useLLM, "llm-profiles", true,
		"Generate agent profiles with the LLM")
	cmd.Flags().IntVar(&f.parallel, "parallel-profiles", 0,
		"Profiles generated concurrently (0 = server default)")
	return cmd
}

func (f runFlags) validate() error {
	if f.projectID == "" && (len(f.files) == 0 || f.requirement == "") {
		return errors.New("pass --files and --requirement, or --project to resume")
	}
	if f.maxRounds < 0 {
		return errors.New("--max-rounds must not be negative")
	}
	switch f.platform {
	case "", "twitter", "reddit", "parallel":
	default:
		return fmt.Errorf("unknown --platform %q", f.platform)
	}
	return nil
}

func (f runFlags) pipelineInput() orchestrator.PipelineInput {
	in := orchestrator.PipelineInput{
		Graph: orchestrator.GraphInput{
			Files:             f.files,
			Requirement:       f.requirement,
			AdditionalContext: f.context,
			ProjectName:       f.name,
			ProjectID:         f.projectID,
		},
		Setup: orchestrator.SetupInput{
			EntityTypes:          f.entityTypes,
			UseLLMForProfiles:    f.useLLM,
			ParallelProfileCount: f.parallel,
		},
		Run:        orchestrator.RunInput{Platform: f.platform},
		SkipReport: f.skipReport,
	}
	if f.maxRounds > 0 {
		n := f.maxRounds
		in.Run.MaxRounds = &n
	}
	return in
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runPipeline drives the whole pipeline and prints a summary.
//
// # Description
//
// The dashboard is used when stdout is a terminal and --plain is unset.
// Phase transitions feed the telemetry recorder for the whole run. On
// success the final ids are printed so later commands can pick up the
// session.
func runPipeline(ctx context.Context, a *app, f runFlags) error {
	o := a.orchestrator()
	defer o.Close()
	stopRecording := a.recordPhases(ctx, o)
	defer stopRecording()

	in := f.pipelineInput()
	work := func(ctx context.Context) error { return o.Run(ctx, in) }

	var err error
	if !f.plain && isTerminal(a.out) {
		err = tui.Run(ctx, o, work)
	} else {
		err = tui.RunPlain(ctx, o, a.out, work)
	}
	st := o.State()
	if err != nil {
		a.logger.Error("pipeline failed", "phase", st.PhaseName, "error", err)
		return fmt.Errorf("%s phase: %w", st.Current().Phase.Title(), err)
	}
	printSummary(a.out, st)
	return nil
}

func printSummary(w io.Writer, st orchestrator.State) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "project     %s\n", st.ProjectID)
	fmt.Fprintf(w, "graph       %s (%d nodes, %d edges)\n", st.GraphID, st.Nodes, st.Edges)
	fmt.Fprintf(w, "simulation  %s\n", st.SimulationID)
	if st.Run != nil {
		fmt.Fprintf(w, "rounds      %d/%d, %d actions\n", st.Run.CurrentRound, st.Run.TotalRounds, st.ActionsCount)
	}
	if st.ReportID != "" {
		fmt.Fprintf(w, "report      %s\n", st.ReportID)
	}
}
