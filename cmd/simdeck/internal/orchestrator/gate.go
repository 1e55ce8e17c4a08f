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
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// Platforms lists the platforms a start request runs.
func Platforms(platform string) []string {
	switch platform {
	case api.PlatformTwitter:
		return []string{api.PlatformTwitter}
	case api.PlatformReddit:
		return []string{api.PlatformReddit}
	default:
		return []string{api.PlatformTwitter, api.PlatformReddit}
	}
}

// PlatformDone reports whether one platform finished: its completed flag
// is set, or it reached a known positive round total.
func PlatformDone(p api.PlatformProgress, totalRounds int) bool {
	if p.Completed {
		return true
	}
	return totalRounds > 0 && p.CurrentRound >= totalRounds
}

// GateResult explains a completion gate evaluation.
type GateResult struct {
	Complete bool            `json:"complete"`
	Done     map[string]bool `json:"done"`
}

// EvaluateGate checks the run completion gate: every started platform must
// be done. A run with one platform finished and the other still going is
// not complete.
func EvaluateGate(rs api.RunStatus, platforms []string) GateResult {
	res := GateResult{Complete: len(platforms) > 0, Done: make(map[string]bool, len(platforms))}
	for _, name := range platforms {
		done := PlatformDone(rs.Platform(name), rs.TotalRounds)
		res.Done[name] = done
		if !done {
			res.Complete = false
		}
	}
	return res
}

// RunComplete is EvaluateGate(...).Complete.
func RunComplete(rs api.RunStatus, platforms []string) bool {
	return EvaluateGate(rs, platforms).Complete
}
