// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTaskStatus(t *testing.T) {
	tests := map[string]TaskStatus{
		"pending":     TaskPending,
		"not_started": TaskPending,
		"processing":  TaskRunning,
		"generating":  TaskRunning,
		"PROCESSING":  TaskRunning,
		"completed":   TaskCompleted,
		"ready":       TaskCompleted,
		"failed":      TaskFailed,
		"something":   TaskRunning,
		"":            TaskRunning,
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeTaskStatus(raw), "raw=%q", raw)
	}
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.False(t, TaskRunning.Terminal())
}

func TestTaskState_Helpers(t *testing.T) {
	ts := TaskState{Progress: 140, Message: "boom"}
	assert.Equal(t, float64(100), ts.ClampedProgress())
	assert.Equal(t, "boom", ts.FailureMessage())

	ts = TaskState{Progress: -3, Error: "bad"}
	assert.Equal(t, float64(0), ts.ClampedProgress())
	assert.Equal(t, "bad", ts.FailureMessage())
	assert.Equal(t, "", ts.ResultString("graph_id"))
}

func TestAgentProfile_DecodesCSVStrings(t *testing.T) {
	raw := `{"user_id":"7","username":"bob","name":"Bob","age":"","interested_topics":"['ai', 'policy']"}`
	var p AgentProfile
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, FlexInt(7), p.UserID)
	assert.Equal(t, FlexInt(0), p.Age)
	assert.Equal(t, FlexStrings{"ai", "policy"}, p.InterestedTopics)

	raw = `{"user_id":3,"name":"Alice","age":34.0,"interested_topics":["x"]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, FlexInt(3), p.UserID)
	assert.Equal(t, FlexInt(34), p.Age)
	assert.Equal(t, FlexStrings{"x"}, p.InterestedTopics)
	assert.Equal(t, "id:3|Alice", AgentProfile{UserID: 3, Name: "Alice"}.DedupKey())
}

func TestActionRecord_DedupKey(t *testing.T) {
	a := ActionRecord{Timestamp: "2025-12-01T10:00:00", Platform: "twitter", AgentID: 4, ActionType: "LIKE_POST"}
	assert.Equal(t, "2025-12-01T10:00:00|twitter|4|LIKE_POST", a.DedupKey())
	a.ID = "act-9"
	assert.Equal(t, "act-9", a.DedupKey())
}

func TestTimeConfig_DefaultRounds(t *testing.T) {
	assert.Equal(t, 72, TimeConfig{}.DefaultRounds())
	assert.Equal(t, 144, TimeConfig{TotalSimulationHours: 72, MinutesPerRound: 30}.DefaultRounds())
	assert.Equal(t, 24, TimeConfig{TotalSimulationHours: 24}.DefaultRounds())
}

func TestOntology_AcceptsRelationTypes(t *testing.T) {
	var o Ontology
	require.NoError(t, json.Unmarshal([]byte(`{"entity_types":[{"name":"A"}],"relation_types":[{"name":"R"}]}`), &o))
	require.Len(t, o.RelationTypes, 1)
	assert.Equal(t, "R", o.RelationTypes[0].Name)

	require.NoError(t, json.Unmarshal([]byte(`{"entity_types":[],"edge_types":[{"name":"E"}]}`), &o))
	assert.Equal(t, "E", o.RelationTypes[0].Name)
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2025-12-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC), got.UTC())

	_, err = ParseTimestamp("")
	assert.Error(t, err)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestRunStatus_Platform(t *testing.T) {
	r := RunStatus{TwitterCurrentRound: 5, TwitterCompleted: true, RedditActionsCount: 9}
	assert.Equal(t, 5, r.Platform(PlatformTwitter).CurrentRound)
	assert.True(t, r.Platform(PlatformTwitter).Completed)
	assert.Equal(t, 9, r.Platform(PlatformReddit).ActionsCount)
	assert.Equal(t, PlatformProgress{Platform: "x"}, r.Platform("x"))

	assert.True(t, RunStatus{RunnerStatus: RunnerRunning}.IsActive())
	assert.False(t, RunStatus{RunnerStatus: RunnerCompleted}.IsActive())
}

func TestErrorTaxonomy(t *testing.T) {
	cause := &APIError{Method: "POST", Endpoint: "/simulation/start", Status: 503, Message: "busy"}
	assert.True(t, cause.Retryable())
	assert.True(t, IsRetryable(cause))
	assert.False(t, IsRetryable(errors.New("plain")))

	mf := &MutationFailure{Operation: "start", Attempts: 3, Err: cause}
	assert.ErrorIs(t, mf, ErrMutationFailed)
	assert.ErrorIs(t, mf, ErrRequest)

	tp := &TransientPollError{Poller: "run-status", Err: cause}
	assert.ErrorIs(t, tp, ErrTransientPoll)

	tf := &TaskFailure{TaskID: "t", Kind: TaskGraphBuild, Message: "llm down"}
	assert.ErrorIs(t, tf, ErrTaskFailed)
	assert.Contains(t, tf.Error(), "llm down")

	lc := &LifecycleCleanupFailure{SimulationID: "sim_1"}
	assert.ErrorIs(t, lc, ErrLifecycleCleanup)
	assert.Equal(t, "POST /simulation/start: HTTP 503: busy", cause.Error())
}
