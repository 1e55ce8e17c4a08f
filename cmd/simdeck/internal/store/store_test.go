// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckpoint_RoundTripAndLatest(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	rounds := 40
	old := Checkpoint{ProjectID: "p1", Phase: "graph", Status: "completed", UpdatedAt: time.Now().Add(-time.Hour)}
	cur := Checkpoint{ProjectID: "p2", SimulationID: "sim_2", Phase: "run", Status: "running", MaxRounds: &rounds}
	require.NoError(t, s.SaveCheckpoint(old))
	require.NoError(t, s.SaveCheckpoint(cur))

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p2", latest.ProjectID)
	require.NotNil(t, latest.MaxRounds)
	assert.Equal(t, 40, *latest.MaxRounds)
	assert.False(t, latest.UpdatedAt.IsZero())

	all, err := s.Checkpoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p2", all[0].ProjectID)

	found, err := s.FindBySimulation(ctx, "sim_2")
	require.NoError(t, err)
	assert.Equal(t, "p2", found.ProjectID)
	_, err = s.FindBySimulation(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpoint_RequiresProjectID(t *testing.T) {
	s := openMem(t)
	assert.Error(t, s.SaveCheckpoint(Checkpoint{}))
}

func TestGraph_RoundTrip(t *testing.T) {
	s := openMem(t)
	snap := api.GraphSnapshot{
		GraphID:   "g1",
		Nodes:     []api.GraphNode{{UUID: "n1", Name: "Alice"}},
		NodeCount: 1,
	}
	require.NoError(t, s.SaveGraph(snap))

	got, err := s.Graph(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, snap.Nodes, got.Nodes)

	_, err = s.Graph(context.Background(), "g2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.SaveGraph(api.GraphSnapshot{}))
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.SaveCheckpoint(Checkpoint{ProjectID: "p1", Phase: "setup"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()
	cp, err := s2.Checkpoint(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "setup", cp.Phase)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
