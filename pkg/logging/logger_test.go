// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" Error ", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(42).toSlogLevel())
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WriterAndService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Service: "simdeck", Writer: &buf})
	defer l.Close()

	l.Info("phase started", "phase", "graph")
	l.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "phase started")
	assert.Contains(t, out, "service=simdeck")
	assert.Contains(t, out, "phase=graph")
	assert.NotContains(t, out, "hidden")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{JSON: true, Writer: &buf})
	l.Warn("poll failed", "poller", "run-status")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "run-status", rec["poller"])
}

func TestNew_QuietWithoutFileDiscards(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Quiet: true, Writer: &buf})
	l.Error("nobody hears this")
	assert.Empty(t, buf.String())
	assert.Empty(t, l.FilePath())
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l := New(Config{LogDir: dir, Service: "run", Writer: &buf})

	l.Info("to both", "n", 1)
	require.NoError(t, l.Close())

	path := l.FilePath()
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "run_"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to both", rec["msg"])
	assert.Equal(t, "run", rec["service"])
	assert.Contains(t, buf.String(), "to both")
}

func TestNew_LogDirUnusable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	var buf bytes.Buffer
	l := New(Config{LogDir: filepath.Join(blocker, "logs"), Writer: &buf})
	defer l.Close()

	l.Info("still logs")
	assert.Empty(t, l.FilePath())
	assert.Contains(t, buf.String(), "still logs")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf})
	child := l.With("simulation_id", "sim_1")
	child.Info("teardown")
	l.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "simulation_id=sim_1")
	assert.NotContains(t, lines[1], "simulation_id")
	assert.NotNil(t, child.Slog())
}

func TestLogger_CloseTwice(t *testing.T) {
	l := New(Config{LogDir: t.TempDir(), Quiet: true})
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestLogger_ConcurrentUse(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{LogDir: dir, Quiet: true, Level: LevelDebug})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Debug("tick", "worker", i, "n", j)
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	f, err := os.Open(l.FilePath())
	require.NoError(t, err)
	defer f.Close()
	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		count++
	}
	assert.Equal(t, 200, count)
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_LevelsPerHandler(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("g"))
	logger.Info("info line", "a", 1)
	logger.Warn("warn line")

	assert.Contains(t, debugBuf.String(), "info line")
	assert.Contains(t, debugBuf.String(), "k=v")
	assert.Contains(t, debugBuf.String(), "g.a=1")
	assert.NotContains(t, warnBuf.String(), "info line")
	assert.Contains(t, warnBuf.String(), "warn line")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, ".simdeck/logs"), expandPath("~/.simdeck/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel/path", expandPath("rel/path"))
}
