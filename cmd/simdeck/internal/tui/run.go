// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
)

// ErrAborted is returned by Run when the user quit before the pipeline
// finished.
var ErrAborted = errors.New("aborted by user")

// Subscriber is the part of the orchestrator the dashboard needs.
type Subscriber interface {
	Subscribe() (<-chan orchestrator.State, func())
}

// Run shows the dashboard while work runs.
//
// # Description
//
// work runs on its own goroutine with a context the dashboard cancels when
// the user quits. When work returns, the dashboard renders the final state
// and exits. Run returns work's error, or ErrAborted when the user quit
// first.
//
// # Inputs
//
//   - ctx: Parent context
//   - sub: State source, normally *orchestrator.Orchestrator
//   - work: The pipeline
//   - opts: Extra tea.Program options, e.g. tea.WithInput for tests
func Run(ctx context.Context, sub Subscriber, work func(context.Context) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	states, unsubscribe := sub.Subscribe()
	defer unsubscribe()

	model := New(states, cancel)
	p := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)...)

	workDone := make(chan error, 1)
	util.SafeGo(func() {
		err := work(ctx)
		workDone <- err
		p.Send(DoneMsg{Err: err})
	}, func(r util.SafeGoResult) {
		err := fmt.Errorf("pipeline panicked: %v", r.PanicValue)
		workDone <- err
		p.Send(DoneMsg{Err: err})
	})

	final, runErr := p.Run()
	if m, ok := final.(Model); ok && m.Aborted() {
		cancel()
		<-workDone
		return ErrAborted
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		cancel()
		<-workDone
		return fmt.Errorf("dashboard: %w", runErr)
	}
	return <-workDone
}

// RunPlain prints one line per state change to w while work runs. It is
// used when stdout is not a terminal.
func RunPlain(ctx context.Context, sub Subscriber, w io.Writer, work func(context.Context) error) error {
	states, unsubscribe := sub.Subscribe()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		last := ""
		for st := range states {
			line := PlainLine(st)
			if line != last {
				fmt.Fprintln(w, line)
				last = line
			}
		}
	}()

	err := work(ctx)
	unsubscribe()
	<-printed
	return err
}
