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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

func TestEvaluateGate(t *testing.T) {
	both := Platforms(api.PlatformParallel)

	tests := []struct {
		name      string
		rs        api.RunStatus
		platforms []string
		want      bool
	}{
		{
			name:      "only twitter done",
			rs:        api.RunStatus{TotalRounds: 10, TwitterCompleted: true, RedditCurrentRound: 7},
			platforms: both,
			want:      false,
		},
		{
			name:      "both flagged complete",
			rs:        api.RunStatus{TotalRounds: 10, TwitterCompleted: true, RedditCompleted: true},
			platforms: both,
			want:      true,
		},
		{
			name:      "both reached total rounds",
			rs:        api.RunStatus{TotalRounds: 10, TwitterCurrentRound: 10, RedditCurrentRound: 12},
			platforms: both,
			want:      true,
		},
		{
			name:      "flag and round mixed",
			rs:        api.RunStatus{TotalRounds: 10, TwitterCompleted: true, RedditCurrentRound: 10},
			platforms: both,
			want:      true,
		},
		{
			name:      "zero total rounds never counts",
			rs:        api.RunStatus{TotalRounds: 0, TwitterCurrentRound: 3, RedditCurrentRound: 3},
			platforms: both,
			want:      false,
		},
		{
			name:      "single platform run",
			rs:        api.RunStatus{TotalRounds: 5, RedditCurrentRound: 5},
			platforms: Platforms(api.PlatformReddit),
			want:      true,
		},
		{
			name:      "no platforms",
			rs:        api.RunStatus{TotalRounds: 5, TwitterCompleted: true, RedditCompleted: true},
			platforms: nil,
			want:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateGate(tt.rs, tt.platforms)
			assert.Equal(t, tt.want, got.Complete)
			assert.Equal(t, tt.want, RunComplete(tt.rs, tt.platforms))
			assert.Len(t, got.Done, len(tt.platforms))
		})
	}
}

func TestRunTick(t *testing.T) {
	both := Platforms(api.PlatformParallel)

	running := runTick(&api.RunStatus{RunnerStatus: api.RunnerRunning, TotalRounds: 10, TwitterCompleted: true, CurrentRound: 6}, both)
	assert.Equal(t, api.TaskRunning, running.Status)
	assert.Equal(t, "round 6/10", running.Message)

	done := runTick(&api.RunStatus{RunnerStatus: api.RunnerCompleted, TotalRounds: 10, TwitterCompleted: true, RedditCompleted: true}, both)
	assert.Equal(t, api.TaskCompleted, done.Status)

	failed := runTick(&api.RunStatus{RunnerStatus: api.RunnerFailed, Error: "oom"}, both)
	assert.Equal(t, api.TaskFailed, failed.Status)
	assert.Equal(t, "oom", failed.Error)

	stopped := runTick(&api.RunStatus{RunnerStatus: api.RunnerStopped, TotalRounds: 10}, both)
	assert.Equal(t, api.TaskFailed, stopped.Status)
}

func TestProfilesTick(t *testing.T) {
	three := 3
	partial := &api.ProfilesSnapshot{TotalExpected: &three, IsGenerating: true, Profiles: make([]api.AgentProfile, 1)}
	assert.Equal(t, api.TaskRunning, profilesTick(partial, false).Status)

	full := &api.ProfilesSnapshot{TotalExpected: &three, Profiles: make([]api.AgentProfile, 3)}
	tick := profilesTick(full, false)
	assert.Equal(t, api.TaskCompleted, tick.Status)
	assert.InDelta(t, 100, tick.Progress, 0.001)

	unknown := &api.ProfilesSnapshot{Profiles: make([]api.AgentProfile, 2)}
	assert.Equal(t, api.TaskRunning, profilesTick(unknown, false).Status)
	assert.Equal(t, api.TaskCompleted, profilesTick(unknown, true).Status)
}

func TestSetupStepForStage(t *testing.T) {
	step, ok := setupStepForStage(api.StageGeneratingConfig)
	assert.True(t, ok)
	assert.Equal(t, SetupConfig, step)

	_, ok = setupStepForStage("unknown")
	assert.False(t, ok)
}
