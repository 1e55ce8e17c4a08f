// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/simdeck/cmd/simdeck/config"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api/apitest"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/telemetry"
)

const fast = 50 * time.Millisecond

// =============================================================================
// Helpers
// =============================================================================

// testConfig returns a config pointed at fake with fast polling and every
// file under a temp dir.
func testConfig(t *testing.T, fake *apitest.Backend) config.SimdeckConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Backend.BaseURL = fake.URL()
	cfg.Backend.RequestsPerSecond = 0
	cfg.Backend.BaseDelay = 5 * time.Millisecond
	cfg.Backend.MaxDelay = 20 * time.Millisecond
	cfg.Backend.CloseEnvTimeout = 2 * time.Second
	cfg.Polling.Intervals = orchestrator.Intervals{
		Task: fast, RunStatus: fast, RunDetail: fast, Profiles: fast, Config: fast, GraphRefresh: fast,
	}
	cfg.Polling.ProbeTimeout = 5 * time.Second
	cfg.Store.Path = filepath.Join(dir, "store")
	cfg.Logging.Dir = filepath.Join(dir, "logs")
	cfg.Telemetry.TraceExporter = telemetry.ExporterNone
	cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	cfg.Viewer.PushInterval = fast
	return cfg
}

func writeConfig(t *testing.T, cfg config.SimdeckConfig) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simdeck.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

// simdeck runs one command line and returns stdout and stderr.
func simdeck(t *testing.T, cfgPath string, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var out, errOut bytes.Buffer
	argv := append([]string{"--config", cfgPath}, args...)
	err := execute(ctx, argv, strings.NewReader(""), &out, &errOut)
	return out.String(), errOut.String(), err
}

func seedFiles(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for name, body := range map[string]string{"brief.md": "# Brief\nAcme hires Alice.", "notes.txt": "Bob knows Alice."} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		paths = append(paths, p)
	}
	return paths
}

// =============================================================================
// run / sessions / status
// =============================================================================

func TestRun_FullPipelineThenStatus(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))
	files := seedFiles(t)

	out, _, err := simdeck(t, cfgPath, "run",
		"--files", files[0], "--files", files[1],
		"--requirement", "How does the market react?",
		"--max-rounds", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "[graph]")
	assert.Contains(t, out, "project     proj_1")
	assert.Contains(t, out, "simulation  sim_1")
	assert.Contains(t, out, "report      report_1")

	fake.Lock()
	require.Len(t, fake.StartRequests, 1)
	require.NotNil(t, fake.StartRequests[0].MaxRounds)
	assert.Equal(t, 5, *fake.StartRequests[0].MaxRounds)
	fake.Unlock()

	out, _, err = simdeck(t, cfgPath, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "proj_1")
	assert.Contains(t, out, "sim_1")

	out, _, err = simdeck(t, cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "simulation  sim_1")
	assert.Contains(t, out, "complete    yes")
}

func TestRun_RequiresFilesOrProject(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))

	_, _, err := simdeck(t, cfgPath, "run", "--requirement", "x")
	assert.ErrorContains(t, err, "--files and --requirement")

	_, _, err = simdeck(t, cfgPath, "run", "--project", "p", "--platform", "mastodon")
	assert.ErrorContains(t, err, "unknown --platform")
	assert.Empty(t, fake.Calls)
}

func TestStatus_JSONReportsIncompleteGate(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) {
		b.Run = api.RunStatus{
			SimulationID:        "sim_1",
			RunnerStatus:        api.RunnerPaused,
			TotalRounds:         10,
			CurrentRound:        10,
			TwitterCurrentRound: 10,
			TwitterCompleted:    true,
			RedditCurrentRound:  4,
		}
	})
	cfgPath := writeConfig(t, testConfig(t, fake))

	out, _, err := simdeck(t, cfgPath, "--no-store", "status", "--simulation", "sim_1", "--json")
	require.NoError(t, err)

	var rep statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, []string{api.PlatformTwitter, api.PlatformReddit}, rep.Platforms)
	assert.False(t, rep.Gate.Complete)
	assert.True(t, rep.Gate.Done[api.PlatformTwitter])
	assert.False(t, rep.Gate.Done[api.PlatformReddit])
	require.NotNil(t, rep.Env)
	assert.True(t, rep.Env.EnvAlive)

	out, _, err = simdeck(t, cfgPath, "--no-store", "status", "--simulation", "sim_1", "--platform", "twitter")
	require.NoError(t, err)
	assert.Contains(t, out, "complete    yes")
}

func TestStatus_WithoutSessionNeedsFlag(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))

	_, _, err := simdeck(t, cfgPath, "status")
	assert.ErrorContains(t, err, "no saved session, pass --simulation")

	_, _, err = simdeck(t, cfgPath, "--no-store", "status")
	assert.ErrorContains(t, err, "--simulation is required")
}

// =============================================================================
// graph
// =============================================================================

func TestGraph_WritesSVGAndRendersOffline(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))
	svgPath := filepath.Join(t.TempDir(), "graph.svg")

	out, _, err := simdeck(t, cfgPath, "graph", "--graph", "graph_1", "--svg", svgPath, "--iterations", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+svgPath+" (3 nodes, 3 edges)")
	data, err := os.ReadFile(svgPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<svg"))

	fake.Server.Close()
	out, _, err = simdeck(t, cfgPath, "graph", "--graph", "graph_1", "--offline", "--json")
	require.NoError(t, err)
	var view layout.View
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Len(t, view.Nodes, 3)
}

func TestGraph_ByProject(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))

	_, _, err := simdeck(t, cfgPath, "--no-store", "graph", "--project", "proj_1")
	assert.ErrorContains(t, err, "project proj_1 has no graph yet")

	fake.Update(func(b *apitest.Backend) { b.BuildRequests = []api.BuildRequest{{ProjectID: "proj_1"}} })

	out, _, err := simdeck(t, cfgPath, "--no-store", "graph", "--project", "proj_1")
	require.NoError(t, err)
	assert.Contains(t, out, "graph graph_1: 3 nodes")
	assert.Equal(t, 2, fake.CallCount("GET /graph/project/{id}"))
}

// =============================================================================
// back
// =============================================================================

func TestBack_ClosesEnvironment(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) {
		b.Run = api.RunStatus{SimulationID: "sim_1", RunnerStatus: api.RunnerRunning}
	})
	cfgPath := writeConfig(t, testConfig(t, fake))

	out, _, err := simdeck(t, cfgPath, "--no-store", "back", "--simulation", "sim_1", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "simulation sim_1: environment closed")
	fake.Lock()
	assert.Len(t, fake.CloseRequests, 1)
	assert.Zero(t, fake.StopCalls)
	fake.Unlock()
}

func TestBack_RefusesWithoutTerminal(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))

	_, _, err := simdeck(t, cfgPath, "--no-store", "back", "--simulation", "sim_1")
	assert.ErrorContains(t, err, "pass --yes")
	assert.Zero(t, fake.CallCount("POST /simulation/close-env"))
}

func TestRunBack_Declined(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))
	var out bytes.Buffer
	a, err := newApp(context.Background(), appOptions{configPath: cfgPath, noStore: true}, &out, &out)
	require.NoError(t, err)
	defer a.close()

	asked := ""
	err = runBack(context.Background(), a, backFlags{simulationID: "sim_1"}, func(id string) (bool, error) {
		asked = id
		return false, nil
	})
	assert.ErrorIs(t, err, errNotConfirmed)
	assert.Equal(t, "sim_1", asked)
	assert.Zero(t, fake.CallCount("POST /simulation/close-env"))
}

// =============================================================================
// serve
// =============================================================================

func TestServe_ShowsGraphAndReloadsLayout(t *testing.T) {
	fake := apitest.New(t)
	cfg := testConfig(t, fake)
	cfgPath := writeConfig(t, cfg)
	var out bytes.Buffer
	a, err := newApp(context.Background(), appOptions{configPath: cfgPath, noStore: true}, &out, &out)
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	bound := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, a, serveFlags{addr: "127.0.0.1:0", graphID: "graph_1"}, func(addr net.Addr) {
			bound <- addr
		})
	}()

	var base string
	select {
	case addr := <-bound:
		base = fmt.Sprintf("http://%s", addr)
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("viewer did not start")
	}

	getView := func() layout.View {
		resp, err := http.Get(base + "/api/layout")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var v layout.View
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
		return v
	}
	v := getView()
	assert.Len(t, v.Nodes, 3)
	assert.Equal(t, cfg.Layout.Width, v.Width)

	cfg.Layout.Width = 1234
	require.NoError(t, config.Save(cfgPath, cfg))
	assert.Eventually(t, func() bool { return getView().Width == 1234 }, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, out.String(), "viewer listening on http://127.0.0.1:")
}

func TestServe_RejectsProjectAndGraph(t *testing.T) {
	fake := apitest.New(t)
	cfgPath := writeConfig(t, testConfig(t, fake))
	_, _, err := simdeck(t, cfgPath, "--no-store", "serve", "--project", "p", "--graph", "g")
	assert.ErrorContains(t, err, "only one of --project and --graph")
}

// =============================================================================
// config
// =============================================================================

func TestFirstRunCreatesConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "simdeck.yaml")
	_, errOut, err := simdeck(t, path, "--no-store", "run")
	assert.Error(t, err)
	assert.Contains(t, errOut, "First run detected")
	assert.FileExists(t, path)
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simdeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  base_url: not a url\n"), 0o600))
	_, _, err := simdeck(t, path, "sessions")
	assert.ErrorIs(t, err, config.ErrInvalid)
}
