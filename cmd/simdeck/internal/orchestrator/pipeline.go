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

import "context"

// PipelineInput drives all phases in one call.
type PipelineInput struct {
	Graph      GraphInput
	Setup      SetupInput
	Run        RunInput
	Report     ReportInput
	SkipReport bool
}

// Run drives graph, setup, run and report in order, waiting for each
// phase before entering the next. Phases already completed in this
// session are reloaded, not resubmitted.
func (o *Orchestrator) Run(ctx context.Context, in PipelineInput) error {
	steps := []struct {
		phase Phase
		start func() error
	}{
		{PhaseGraph, func() error { return o.StartGraph(ctx, in.Graph) }},
		{PhaseSetup, func() error { return o.StartSetup(ctx, in.Setup) }},
		{PhaseRun, func() error { return o.StartRun(ctx, in.Run) }},
		{PhaseReport, func() error { return o.StartReport(ctx, in.Report) }},
	}
	for _, step := range steps {
		if step.phase == PhaseReport && in.SkipReport {
			break
		}
		if err := step.start(); err != nil {
			return err
		}
		if err := o.Await(ctx, step.phase); err != nil {
			return err
		}
	}
	return nil
}
