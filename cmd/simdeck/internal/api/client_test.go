// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api/apitest"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newClient(t *testing.T, baseURL string, opts ...api.Option) *api.Client {
	t.Helper()
	return newClientWith(t, baseURL, nil, opts...)
}

// newClientWith lets a test adjust the default config before New.
func newClientWith(t *testing.T, baseURL string, adjust func(*api.Config), opts ...api.Option) *api.Client {
	t.Helper()
	cfg := api.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RequestsPerSecond = 0
	if adjust != nil {
		adjust(&cfg)
	}
	c, err := api.New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.BaseURL = ""
	_, err := api.New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestClient_UnwrapsEnvelope(t *testing.T) {
	fake := apitest.New(t)
	c := newClient(t, fake.URL())

	state, err := c.GetTask(context.Background(), "task_build")
	require.NoError(t, err)
	assert.Equal(t, api.TaskRunning, state.Status())
	assert.Equal(t, float64(40), state.Progress)

	state, err = c.GetTask(context.Background(), "task_build")
	require.NoError(t, err)
	assert.Equal(t, api.TaskCompleted, state.Status())
	assert.Equal(t, "graph_1", state.ResultString("graph_id"))
}

func TestClient_EnvelopeErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"Task does not exist: nope"}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL+"/api")

	_, err := c.GetTask(context.Background(), "nope")
	require.Error(t, err)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Task does not exist: nope", apiErr.Message)
	assert.ErrorIs(t, err, api.ErrRequest)
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.False(t, apiErr.Retryable())
}

func TestClient_SuccessFalseWith200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL+"/api")

	_, err := c.GetEnvStatus(context.Background(), "sim_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrRequest)
}

func TestClient_MutationRetriesWithDoublingDelay(t *testing.T) {
	fake := apitest.New(t)
	fake.Fail("POST /simulation/start", 2)
	sleeps := &recordedSleeps{}
	c := newClientWith(t, fake.URL(), func(cfg *api.Config) { cfg.Jitter = 0 }, api.WithSleeper(sleeps.sleep))

	resp, err := c.StartSimulation(context.Background(), api.StartRequest{SimulationID: "sim_1"})
	require.NoError(t, err)
	assert.Equal(t, api.RunnerRunning, resp.RunnerStatus)
	assert.Equal(t, 3, fake.CallCount("POST /simulation/start"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestClient_RetryDelaysAreJittered(t *testing.T) {
	fake := apitest.New(t)
	fake.Fail("POST /simulation/start", 2)
	sleeps := &recordedSleeps{}
	c := newClient(t, fake.URL(), api.WithSleeper(sleeps.sleep))

	_, err := c.StartSimulation(context.Background(), api.StartRequest{SimulationID: "sim_1"})
	require.NoError(t, err)
	require.Len(t, sleeps.delays, 2)
	for i, base := range []time.Duration{time.Second, 2 * time.Second} {
		spread := time.Duration(float64(base) * api.DefaultJitter)
		assert.GreaterOrEqual(t, sleeps.delays[i], base-spread, "attempt %d", i+1)
		assert.LessOrEqual(t, sleeps.delays[i], base+spread, "attempt %d", i+1)
	}
}

func TestNew_RejectsBadJitter(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.Jitter = 1.5
	_, err := api.New(cfg)
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestClient_MutationBudgetExhausted(t *testing.T) {
	fake := apitest.New(t)
	fake.Fail("POST /simulation/create", 5)
	sleeps := &recordedSleeps{}
	c := newClient(t, fake.URL(), api.WithSleeper(sleeps.sleep))

	_, err := c.CreateSimulation(context.Background(), api.CreateSimulationRequest{ProjectID: "proj_1"})
	require.Error(t, err)

	var mf *api.MutationFailure
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, 3, mf.Attempts)
	assert.ErrorIs(t, err, api.ErrMutationFailed)
	assert.Equal(t, 3, fake.CallCount("POST /simulation/create"))
	assert.Len(t, sleeps.delays, 2)
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"please provide simulation_id"}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL+"/api", api.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	_, err := c.StopSimulation(context.Background(), "sim_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrMutationFailed)
	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestClient_RetryStopsOnCancel(t *testing.T) {
	fake := apitest.New(t)
	fake.Fail("POST /report/generate", 5)
	ctx, cancel := context.WithCancel(context.Background())
	c := newClient(t, fake.URL(), api.WithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.GenerateReport(ctx, api.ReportRequest{SimulationID: "sim_1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.CallCount("POST /report/generate"))
}

func TestClient_StartValidation(t *testing.T) {
	fake := apitest.New(t)
	c := newClient(t, fake.URL())
	zero := 0

	tests := []struct {
		name string
		req  api.StartRequest
	}{
		{"missing simulation", api.StartRequest{}},
		{"zero rounds", api.StartRequest{SimulationID: "sim_1", MaxRounds: &zero}},
		{"unknown platform", api.StartRequest{SimulationID: "sim_1", Platform: "mastodon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.StartSimulation(context.Background(), tt.req)
			assert.ErrorIs(t, err, api.ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, fake.CallCount("POST /simulation/start"))
}

func TestClient_StartMaxRoundsOverride(t *testing.T) {
	fake := apitest.New(t)
	c := newClient(t, fake.URL())
	rounds := 40

	resp, err := c.StartSimulation(context.Background(), api.StartRequest{SimulationID: "sim_1", MaxRounds: &rounds})
	require.NoError(t, err)
	assert.Equal(t, 40, resp.TotalRounds)
	require.NotNil(t, resp.MaxRoundsApplied)
	assert.Equal(t, 40, *resp.MaxRoundsApplied)

	fake.Lock()
	defer fake.Unlock()
	require.Len(t, fake.StartRequests, 1)
	assert.Equal(t, api.PlatformParallel, fake.StartRequests[0].Platform)
}

func TestClient_GenerateOntologyUploadsFiles(t *testing.T) {
	fake := apitest.New(t)
	c := newClient(t, fake.URL())

	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("# A"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("B"), 0o600))

	res, err := c.GenerateOntology(context.Background(), api.OntologyRequest{
		Files:                 []string{a, b},
		SimulationRequirement: "how does news spread",
	})
	require.NoError(t, err)
	assert.Equal(t, "proj_1", res.ProjectID)
	assert.Len(t, res.Ontology.EntityTypes, 2)
	fake.Lock()
	assert.Equal(t, []string{"a.md", "b.txt"}, fake.OntologyFiles)
	fake.Unlock()
}

func TestClient_GenerateOntologyRequiresFiles(t *testing.T) {
	fake := apitest.New(t)
	c := newClient(t, fake.URL())

	_, err := c.GenerateOntology(context.Background(), api.OntologyRequest{SimulationRequirement: "x"})
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

func TestClient_RealtimeProfilesDefaultsToReddit(t *testing.T) {
	fake := apitest.New(t)
	c := newClient(t, fake.URL())

	snap, err := c.RealtimeProfiles(context.Background(), "sim_1", "")
	require.NoError(t, err)
	assert.Equal(t, api.PlatformReddit, snap.Platform)
	fake.Lock()
	assert.Equal(t, []string{"reddit"}, fake.ProfilePlatform)
	fake.Unlock()
}

func TestClient_RejectsUnsafePathIDs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL+"/api")
	ctx := context.Background()

	_, err := c.GetRunStatus(ctx, "../graph/data/x")
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
	_, err = c.GetGraphData(ctx, "..")
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
	_, err = c.GetReport(ctx, "")
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
	assert.Zero(t, hits.Load())
}

func TestClient_RequestIDHeader(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{"success":true,"data":{"env_alive":true}}`))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL+"/api")

	st, err := c.GetEnvStatus(context.Background(), "sim_1")
	require.NoError(t, err)
	assert.True(t, st.EnvAlive)
	assert.Len(t, <-got, 36)
}

type countingObserver struct {
	mu       sync.Mutex
	requests int
	retries  int
}

func (o *countingObserver) ObserveRequest(string, string, int, time.Duration) {
	o.mu.Lock()
	o.requests++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveRetry(string, int) {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
}

func TestClient_Observer(t *testing.T) {
	fake := apitest.New(t)
	fake.Fail("POST /simulation/prepare", 1)
	obs := &countingObserver{}
	c := newClient(t, fake.URL(), api.WithObserver(obs), api.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	_, err := c.PrepareSimulation(context.Background(), api.PrepareRequest{SimulationID: "sim_1"})
	require.NoError(t, err)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.requests)
	assert.Equal(t, 1, obs.retries)
}
