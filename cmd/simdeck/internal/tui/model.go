// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui is the terminal dashboard for a pipeline run.
//
// The dashboard only reads: it renders orchestrator.State values delivered
// through Orchestrator.Subscribe and never touches the session directly.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
)

const (
	defaultWidth = 100
	logTail      = 12
	actionTail   = 6
)

// =============================================================================
// Messages
// =============================================================================

// StateMsg carries a new pipeline state.
type StateMsg struct{ State orchestrator.State }

// DoneMsg reports that the pipeline returned.
type DoneMsg struct{ Err error }

// closedMsg means the subscription channel closed.
type closedMsg struct{}

// WaitForState reads the next state from ch.
func WaitForState(ch <-chan orchestrator.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return StateMsg{State: st}
	}
}

// =============================================================================
// Model
// =============================================================================

// Model is the dashboard.
type Model struct {
	theme   theme
	states  <-chan orchestrator.State
	cancel  func()
	state   orchestrator.State
	haveSt  bool
	bar     progress.Model
	spin    spinner.Model
	width   int
	done    bool
	err     error
	aborted bool
}

// New creates the dashboard. states is the subscription channel; cancel
// is called when the user quits early and may be nil.
func New(states <-chan orchestrator.State, cancel func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := Model{
		theme:  newTheme(),
		states: states,
		cancel: cancel,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spin:   sp,
	}
	m.setWidth(defaultWidth)
	return m
}

// Init starts the spinner and the state subscription.
func (m Model) Init() tea.Cmd {
	if m.states == nil {
		return m.spin.Tick
	}
	return tea.Batch(m.spin.Tick, WaitForState(m.states))
}

// Err returns the pipeline error once DoneMsg arrived.
func (m Model) Err() error { return m.err }

// Aborted reports whether the user quit before the pipeline finished.
func (m Model) Aborted() bool { return m.aborted }

// State returns the last rendered state.
func (m Model) State() orchestrator.State { return m.state }

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done {
				m.aborted = true
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, tea.Quit
		}
		return m, nil

	case StateMsg:
		m.state = msg.State
		m.haveSt = true
		if m.states == nil {
			return m, nil
		}
		return m, WaitForState(m.states)

	case closedMsg:
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) setWidth(w int) {
	if w <= 0 {
		w = defaultWidth
	}
	m.width = w
	bw := w - 30
	if bw < 10 {
		bw = 10
	}
	m.bar.Width = bw
}

// =============================================================================
// View
// =============================================================================

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderRail())
	b.WriteString("\n\n")
	b.WriteString(m.renderCurrent())
	if m.state.Run != nil {
		b.WriteString("\n")
		b.WriteString(m.renderRun())
	}
	b.WriteString("\n")
	b.WriteString(m.renderLog())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	t := m.theme
	title := t.title.Render("simdeck")
	var ids []string
	if m.state.ProjectName != "" {
		ids = append(ids, m.state.ProjectName)
	}
	for _, kv := range [][2]string{
		{"project", m.state.ProjectID},
		{"graph", m.state.GraphID},
		{"sim", m.state.SimulationID},
		{"report", m.state.ReportID},
	} {
		if kv[1] != "" {
			ids = append(ids, kv[0]+"="+kv[1])
		}
	}
	if len(ids) == 0 {
		return title
	}
	return title + "  " + t.muted.Render(strings.Join(ids, "  "))
}

// renderRail draws one marker per phase: done, current, failed, pending.
func (m Model) renderRail() string {
	t := m.theme
	parts := make([]string, 0, int(orchestrator.PhaseDone))
	for p := orchestrator.PhaseGraph; p < orchestrator.PhaseDone; p++ {
		var pv orchestrator.PhaseView
		if int(p) < len(m.state.Phases) {
			pv = m.state.Phases[p]
		}
		label := p.Title()
		switch {
		case pv.Status == orchestrator.StatusFailed:
			parts = append(parts, t.railFailed.Render("✗ "+label))
		case pv.Status == orchestrator.StatusCompleted:
			parts = append(parts, t.railDone.Render("✓ "+label))
		case m.haveSt && p == m.state.Phase:
			parts = append(parts, t.railCurrent.Render("● "+label))
		default:
			parts = append(parts, t.railPending.Render("○ "+label))
		}
	}
	return strings.Join(parts, t.muted.Render(" ─ "))
}

func (m Model) renderCurrent() string {
	t := m.theme
	if !m.haveSt {
		return m.spin.View() + " " + t.muted.Render("waiting for the backend...")
	}
	cur := m.state.Current()
	st := t.status(cur.Status)

	var b strings.Builder
	head := st.Render(strings.ToUpper(string(cur.Status)))
	if cur.Status == orchestrator.StatusRunning && !m.done {
		head = m.spin.View() + " " + head
	}
	b.WriteString(head + "  " + t.subtitle.Render(cur.Phase.Title()))
	if cur.Phase == orchestrator.PhaseSetup {
		b.WriteString(t.muted.Render(" (" + m.state.SetupStep.String() + ")"))
	}
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(clamp01(cur.Progress / 100)))
	b.WriteString(fmt.Sprintf(" %3.0f%%", cur.Progress))
	if cur.Message != "" {
		b.WriteString("  " + t.text.Render(cur.Message))
	}
	if cur.Error != "" {
		b.WriteString("\n" + t.danger.Render(cur.Error))
	}

	var stats []string
	if m.state.Nodes > 0 || m.state.Edges > 0 {
		stats = append(stats, fmt.Sprintf("%d nodes, %d edges", m.state.Nodes, m.state.Edges))
	}
	if m.state.ProfilesExpected > 0 || len(m.state.Profiles) > 0 {
		stats = append(stats, fmt.Sprintf("%d/%d profiles", len(m.state.Profiles), m.state.ProfilesExpected))
	}
	if m.state.ActionsCount > 0 {
		stats = append(stats, fmt.Sprintf("%d actions", m.state.ActionsCount))
	}
	if len(stats) > 0 {
		b.WriteString("\n" + t.muted.Render(strings.Join(stats, " · ")))
	}
	return b.String()
}

func (m Model) renderRun() string {
	t := m.theme
	rs := *m.state.Run
	var lines []string
	for _, name := range m.state.Platforms {
		p := rs.Platform(name)
		mark := t.info.Render("…")
		if m.state.Gate.Done[name] {
			mark = t.ok.Render("✓")
		}
		lines = append(lines, fmt.Sprintf("%s %-8s round %d/%d  %d actions",
			mark, name, p.CurrentRound, rs.TotalRounds, p.ActionsCount))
	}
	for _, a := range tail(m.state.RecentActions, actionTail) {
		style := t.text
		if !a.Success {
			style = t.warn
		}
		lines = append(lines, style.Render(a.Line()))
	}
	return t.panel.Width(m.width - 4).Render(strings.Join(lines, "\n"))
}

func (m Model) renderLog() string {
	t := m.theme
	cur := m.state.Current()
	if len(cur.Log) == 0 {
		return ""
	}
	var lines []string
	for _, e := range tail(cur.Log, logTail) {
		lines = append(lines, t.level(e.Level).Render(e.String()))
	}
	return t.panel.Width(m.width - 4).Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter() string {
	t := m.theme
	switch {
	case m.done && m.err != nil:
		return t.danger.Render("pipeline failed: " + m.err.Error())
	case m.done:
		return t.ok.Render("pipeline finished")
	default:
		return t.help.Render("q quit")
	}
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}

// PlainLine is the one-line status used when stdout is not a terminal.
func PlainLine(st orchestrator.State) string {
	cur := st.Current()
	line := fmt.Sprintf("[%s] %s %.0f%%", cur.Name, cur.Status, cur.Progress)
	if cur.Message != "" {
		line += " " + cur.Message
	}
	if st.Run != nil && st.Phase == orchestrator.PhaseRun {
		line += fmt.Sprintf(" (round %d/%d)", st.Run.CurrentRound, st.Run.TotalRounds)
	}
	return line
}

var _ tea.Model = Model{}
