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

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/poller"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
)

// ReportInput starts the report phase.
type ReportInput struct {
	ForceRegenerate bool
}

func needRun(s *Session) error {
	if s.phases[PhaseRun].status != StatusCompleted {
		return fmt.Errorf("%w: the simulation has not completed", ErrPrerequisite)
	}
	return nil
}

// StartReport enters the report phase: submit, poll, fetch the report.
// A report the backend already generated is fetched without polling.
func (o *Orchestrator) StartReport(ctx context.Context, in ReportInput) error {
	epoch, mode, err := o.enter(PhaseReport, needRun)
	if err != nil {
		return err
	}
	switch mode {
	case entryBusy:
		return nil
	case entryReload:
		return o.reloadReport(ctx, epoch)
	}

	o.s.mu.Lock()
	simID := o.s.simulationID
	o.s.mu.Unlock()

	sub, err := o.backend.GenerateReport(ctx, api.ReportRequest{SimulationID: simID, ForceRegenerate: in.ForceRegenerate})
	if err != nil {
		return o.failUnlessStale(epoch, PhaseReport, describeErr("generate report", err))
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	o.s.reportID = sub.ReportID
	if sub.AlreadyGenerated {
		o.s.logf(PhaseReport, reconcile.LevelInfo, "Report %s already generated", sub.ReportID)
		o.publish()
		o.s.mu.Unlock()
		return o.fetchReport(ctx, epoch, sub.ReportID)
	}
	defer o.s.mu.Unlock()
	o.s.reportTaskID = sub.TaskID
	o.s.logf(PhaseReport, reconcile.LevelInfo, "Report generation submitted (task %s)", sub.TaskID)
	o.startReportPoller(epoch, sub.TaskID)
	o.checkpoint()
	o.publish()
	return nil
}

// startReportPoller polls report generation. Caller holds mu.
func (o *Orchestrator) startReportPoller(epoch uint64, taskID string) {
	startPoller(o, pollerSpec[*api.TaskState]{
		phase:    PhaseReport,
		name:     "report",
		interval: o.cfg.Intervals.Task,
		epoch:    epoch,
		probe: func(ctx context.Context) (poller.Tick[*api.TaskState], error) {
			ts, err := o.backend.ReportStatus(ctx, api.ReportStatusRequest{TaskID: taskID})
			if err != nil {
				return poller.Tick[*api.TaskState]{}, err
			}
			t := taskTick(ts)
			if ts.AlreadyCompleted {
				t.Status = api.TaskCompleted
			}
			return t, nil
		},
		update: func(t poller.Tick[*api.TaskState]) {
			o.setProgress(PhaseReport, t.Progress, t.Message, t.Stage)
			o.publish()
		},
		terminal: func(out poller.Outcome[*api.TaskState]) {
			if !out.Success {
				o.fail(PhaseReport, &api.TaskFailure{TaskID: taskID, Kind: api.TaskReportGeneration, Message: out.Message})
				return
			}
			reportID := o.s.reportID
			if id := out.Last.Value.ReportID; id != "" {
				reportID = id
			}
			if id := out.Last.Value.ResultString("report_id"); reportID == "" && id != "" {
				reportID = id
			}
			o.s.reportID = reportID
			o.spawn("fetch-report", func(ctx context.Context) { _ = o.fetchReport(ctx, epoch, reportID) })
		},
	})
}

// fetchReport loads the finished report and completes the pipeline.
func (o *Orchestrator) fetchReport(ctx context.Context, epoch uint64, reportID string) error {
	if reportID == "" {
		return o.failUnlessStale(epoch, PhaseReport, errors.New("report finished without a report id"))
	}
	rep, err := o.backend.GetReport(ctx, reportID)
	if err != nil {
		return o.failUnlessStale(epoch, PhaseReport, describeErr("fetch report", err))
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.s.report = rep
	o.s.reportID = reportID
	o.s.advance(PhaseDone)
	o.complete(PhaseReport)
	return nil
}

// reloadReport refreshes a completed report without resubmitting.
func (o *Orchestrator) reloadReport(ctx context.Context, epoch uint64) error {
	o.s.mu.Lock()
	simID := o.s.simulationID
	reportID := o.s.reportID
	o.s.mu.Unlock()

	if reportID == "" {
		ts, err := o.backend.ReportStatus(ctx, api.ReportStatusRequest{SimulationID: simID})
		if err != nil {
			return describeErr("reload report", err)
		}
		reportID = ts.ReportID
	}
	if reportID == "" {
		return nil
	}
	rep, err := o.backend.GetReport(ctx, reportID)
	if err != nil {
		return describeErr("reload report", err)
	}

	if !o.guard(epoch) {
		return ErrSuperseded
	}
	defer o.s.mu.Unlock()
	o.s.report = rep
	o.s.reportID = reportID
	o.publish()
	return nil
}
