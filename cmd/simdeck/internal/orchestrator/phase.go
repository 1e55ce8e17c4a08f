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

import "fmt"

// Phase is a pipeline phase. Phases are ordered; the session's phase
// only moves forward except through Restart or Back.
type Phase int

const (
	PhaseGraph Phase = iota
	PhaseSetup
	PhaseRun
	PhaseReport
	PhaseDone
)

// phaseCount is the number of phases that do work (Done excluded).
const phaseCount = int(PhaseDone)

var phaseNames = [...]string{"graph", "setup", "run", "report", "done"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Title is the human label for the phase rail.
func (p Phase) Title() string {
	switch p {
	case PhaseGraph:
		return "Graph building"
	case PhaseSetup:
		return "Environment setup"
	case PhaseRun:
		return "Simulation"
	case PhaseReport:
		return "Report"
	case PhaseDone:
		return "Done"
	default:
		return p.String()
	}
}

// ParsePhase parses a phase name.
func ParsePhase(s string) (Phase, error) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// PhaseStatus is where one phase stands.
type PhaseStatus string

const (
	StatusIdle      PhaseStatus = "idle"
	StatusRunning   PhaseStatus = "running"
	StatusCompleted PhaseStatus = "completed"
	StatusFailed    PhaseStatus = "failed"
)

// SetupStep is the environment setup sub-phase.
type SetupStep int

const (
	SetupInit SetupStep = iota
	SetupProfiles
	SetupConfig
	SetupEvents
	SetupReady
)

var setupNames = [...]string{"init", "profile_generation", "config_generation", "event_orchestration", "ready"}

func (s SetupStep) String() string {
	if s < 0 || int(s) >= len(setupNames) {
		return fmt.Sprintf("setup(%d)", int(s))
	}
	return setupNames[s]
}

// setupStepForStage maps a prepare task stage to the sub-phase it implies.
func setupStepForStage(stage string) (SetupStep, bool) {
	switch stage {
	case "reading", "generating_profiles":
		return SetupProfiles, true
	case "generating_config":
		return SetupConfig, true
	case "copying_scripts":
		return SetupEvents, true
	default:
		return 0, false
	}
}
