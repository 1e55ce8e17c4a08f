// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/pkg/logging"
)

func TestDefaultConfig_Valid(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "http://localhost:5001/api", cfg.Backend.BaseURL)
	assert.Equal(t, 300*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Backend.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Backend.CloseEnvTimeout)
	assert.Equal(t, orchestrator.DefaultIntervals(), cfg.Polling.Intervals)
	assert.Equal(t, 100, cfg.Logs.Capacity)
	assert.Equal(t, 200, cfg.Logs.RunCapacity)
	assert.Equal(t, ":8088", cfg.Viewer.Addr)
}

func TestLoad_FirstRunCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "simdeck.yaml")
	var notice bytes.Buffer

	cfg, err := Load(path, &notice)
	require.NoError(t, err)
	assert.Contains(t, notice.String(), "First run detected")
	assert.FileExists(t, path)
	assert.Equal(t, DefaultConfig().Backend, cfg.Backend)

	// Second load reads the file silently.
	notice.Reset()
	_, err = Load(path, &notice)
	require.NoError(t, err)
	assert.Empty(t, notice.String())
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	data := []byte(`
backend:
  base_url: http://sim.internal:9000/api
polling:
  intervals:
    run_status: 5s
layout:
  repulsion: 800
logging:
  level: debug
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "http://sim.internal:9000/api", cfg.Backend.BaseURL)
	assert.Equal(t, 300*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Polling.Intervals.RunStatus)
	assert.Equal(t, 3*time.Second, cfg.Polling.Intervals.RunDetail)
	assert.Equal(t, 800.0, cfg.Layout.Repulsion)
	assert.Equal(t, 150.0, cfg.Layout.RestLength)

	lc := cfg.LoggerConfig("simdeck")
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "simdeck", lc.Service)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad url", "backend:\n  base_url: not a url\n"},
		{"zero attempts", "backend:\n  max_attempts: 0\n"},
		{"no platforms", "platforms:\n  twitter: false\n  reddit: false\n"},
		{"bad profile platform", "platforms:\n  profile_platform: myspace\n"},
		{"bad viewer addr", "viewer:\n  addr: nope\n"},
		{"negative layout", "layout:\n  width: -1\n"},
		{"zero interval", "polling:\n  intervals:\n    task: 0s\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"max below base delay", "backend:\n  base_delay: 5s\n  max_delay: 1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("backend: [unclosed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestConverters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Platforms.Twitter = false
	cfg.Store.Path = "/tmp/simdeck-store"

	api := cfg.APIConfig()
	assert.Equal(t, cfg.Backend.BaseURL, api.BaseURL)
	assert.Equal(t, cfg.Backend.Burst, api.Burst)
	assert.InDelta(t, 0.1, api.Jitter, 1e-9)

	orch := cfg.OrchestratorConfig()
	assert.False(t, orch.EnableTwitter)
	assert.True(t, orch.EnableReddit)
	assert.Equal(t, 200, orch.RunLogCapacity)

	st := cfg.BadgerConfig()
	assert.Equal(t, "/tmp/simdeck-store", st.Path)
	assert.True(t, st.SyncWrites)
}

func TestSaveRoundTripsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simdeck.yaml")
	cfg := DefaultConfig()
	cfg.Polling.Intervals.GraphRefresh = 45 * time.Second
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "graph_refresh: 45s")

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, got.Polling.Intervals.GraphRefresh)
}

// =============================================================================
// Watch
// =============================================================================

func TestWatch_ReloadsValidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simdeck.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	got := make(chan SimdeckConfig, 4)
	w, err := Watch(path, func(c SimdeckConfig) { got <- c }, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	// Invalid edits never reach the handler.
	require.NoError(t, os.WriteFile(path, []byte("viewer:\n  addr: nope\n"), 0644))
	select {
	case c := <-got:
		t.Fatalf("handler called with rejected config %+v", c.Viewer)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("viewer:\n  addr: 127.0.0.1:9999\n"), 0644))
	select {
	case c := <-got:
		assert.Equal(t, "127.0.0.1:9999", c.Viewer.Addr)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after a valid edit")
	}
}

func TestWatch_MissingFile(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestWatch_CloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simdeck.yaml")
	require.NoError(t, Save(path, DefaultConfig()))
	w, err := Watch(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
