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
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/reconcile"
)

type theme struct {
	panel       lipgloss.Style
	title       lipgloss.Style
	subtitle    lipgloss.Style
	text        lipgloss.Style
	muted       lipgloss.Style
	ok          lipgloss.Style
	warn        lipgloss.Style
	danger      lipgloss.Style
	info        lipgloss.Style
	help        lipgloss.Style
	railDone    lipgloss.Style
	railCurrent lipgloss.Style
	railPending lipgloss.Style
	railFailed  lipgloss.Style
}

func newTheme() theme {
	return theme{
		panel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#3D4752")).
			Padding(0, 1),
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#9FD3FF")),
		subtitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#C0C8D4")),
		text:   lipgloss.NewStyle().Foreground(lipgloss.Color("#D7DBE0")),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6E7B88")),
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("#63C17A")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E7B65A")),
		danger: lipgloss.NewStyle().Foreground(lipgloss.Color("#E06B75")),
		info:   lipgloss.NewStyle().Foreground(lipgloss.Color("#65B5FF")),
		help:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8FA0B3")),
		railDone: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#63C17A")),
		railCurrent: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#65B5FF")),
		railPending: lipgloss.NewStyle().Foreground(lipgloss.Color("#6E7B88")),
		railFailed: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#E06B75")),
	}
}

// status colors a phase status: green done, blue running, red failed,
// grey idle.
func (t theme) status(s orchestrator.PhaseStatus) lipgloss.Style {
	switch s {
	case orchestrator.StatusCompleted:
		return t.ok
	case orchestrator.StatusRunning:
		return t.info
	case orchestrator.StatusFailed:
		return t.danger
	default:
		return t.muted
	}
}

func (t theme) level(l reconcile.Level) lipgloss.Style {
	switch l {
	case reconcile.LevelWarn:
		return t.warn
	case reconcile.LevelError:
		return t.danger
	default:
		return t.text
	}
}
