// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api/apitest"
)

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) sink(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, level+": "+msg)
}

func TestTeardown_AliveClosesGracefully(t *testing.T) {
	fake := apitest.New(t)
	var l lines
	m := NewManager(fake.Client(t), WithSink(l.sink))

	res, err := m.Teardown(context.Background(), "sim_1", Hint{RunnerStatus: api.RunnerRunning})
	require.NoError(t, err)
	assert.Equal(t, ActionClosed, res.Action)
	assert.True(t, res.EnvAlive)

	fake.Lock()
	defer fake.Unlock()
	require.Len(t, fake.CloseRequests, 1)
	assert.Equal(t, 10, fake.CloseRequests[0].Timeout)
	assert.Equal(t, 0, fake.StopCalls)
	assert.NotEmpty(t, l.got)
}

func TestTeardown_CloseFailureEscalates(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) { b.CloseFails = true })
	m := NewManager(fake.Client(t))

	res, err := m.Teardown(context.Background(), "sim_1", Hint{})
	require.NoError(t, err)
	assert.Equal(t, ActionForced, res.Action)
	assert.Error(t, res.CloseErr)
	assert.Equal(t, 1, fake.CallCount("POST /simulation/stop"))
}

func TestTeardown_NonSuccessEnvelopeEscalates(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) { b.CloseSucceeds = false })
	m := NewManager(fake.Client(t))

	res, err := m.Teardown(context.Background(), "sim_1", Hint{})
	require.NoError(t, err)
	assert.Equal(t, ActionForced, res.Action)
}

func TestTeardown_ForcedStopFailureSurfaces(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) {
		b.CloseFails = true
		b.StopFails = true
	})
	m := NewManager(fake.Client(t))

	_, err := m.Teardown(context.Background(), "sim_1", Hint{})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrLifecycleCleanup)
	var lcf *api.LifecycleCleanupFailure
	require.ErrorAs(t, err, &lcf)
	assert.Equal(t, "sim_1", lcf.SimulationID)
}

func TestTeardown_DeadEnvButRunningForcesStop(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) {
		b.EnvAlive = false
		b.Run.RunnerStatus = api.RunnerRunning
	})
	m := NewManager(fake.Client(t))

	res, err := m.Teardown(context.Background(), "sim_1", Hint{})
	require.NoError(t, err)
	assert.Equal(t, ActionForced, res.Action)
	assert.Equal(t, 0, fake.CallCount("POST /simulation/close-env"))
	assert.Equal(t, 1, fake.CallCount("POST /simulation/stop"))
}

func TestTeardown_NothingRunningIsNoop(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) {
		b.EnvAlive = false
		b.Run.RunnerStatus = api.RunnerCompleted
	})
	m := NewManager(fake.Client(t))

	res, err := m.Teardown(context.Background(), "sim_1", Hint{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, 0, fake.CallCount("POST /simulation/close-env"))
	assert.Equal(t, 0, fake.CallCount("POST /simulation/stop"))
}

func TestTeardown_LivenessFailureIsNotFatal(t *testing.T) {
	fake := apitest.New(t)
	fake.Update(func(b *apitest.Backend) { b.EnvStatusFails = true })
	var l lines
	m := NewManager(fake.Client(t), WithSink(l.sink))

	res, err := m.Teardown(context.Background(), "sim_1", Hint{RunnerStatus: api.RunnerRunning})
	require.NoError(t, err)
	assert.Error(t, res.LivenessErr)
	assert.Equal(t, ActionForced, res.Action)
	assert.Contains(t, l.got[1], "warn: environment status unavailable")
}

func TestTeardown_RequiresSimulationID(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Teardown(context.Background(), "", Hint{})
	assert.ErrorIs(t, err, api.ErrInvalidRequest)
}

// hangingBackend never answers close-env.
type hangingBackend struct {
	api.Backend
	mu      sync.Mutex
	stopped int
}

func (h *hangingBackend) GetEnvStatus(context.Context, string) (*api.EnvStatus, error) {
	return &api.EnvStatus{EnvAlive: true}, nil
}

func (h *hangingBackend) CloseEnv(ctx context.Context, _ api.CloseEnvRequest) (*api.CloseEnvResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *hangingBackend) StopSimulation(context.Context, string) (*api.RunStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
	return &api.RunStatus{RunnerStatus: api.RunnerStopped}, nil
}

func TestTeardown_CloseIsBoundedByTimeout(t *testing.T) {
	hb := &hangingBackend{}
	m := NewManager(hb, WithCloseTimeout(time.Second))

	start := time.Now()
	res, err := m.Teardown(context.Background(), "sim_1", Hint{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, ActionForced, res.Action)
	assert.True(t, errors.Is(res.CloseErr, context.DeadlineExceeded))
	assert.Equal(t, 1, hb.stopped)
	assert.GreaterOrEqual(t, res.Elapsed, time.Second)
}

// slowEnvBackend delays env-status and closes successfully.
type slowEnvBackend struct {
	api.Backend
	delay time.Duration
}

func (s *slowEnvBackend) GetEnvStatus(context.Context, string) (*api.EnvStatus, error) {
	time.Sleep(s.delay)
	return &api.EnvStatus{EnvAlive: true}, nil
}

func (s *slowEnvBackend) CloseEnv(context.Context, api.CloseEnvRequest) (*api.CloseEnvResponse, error) {
	return &api.CloseEnvResponse{Message: "closed"}, nil
}

func TestTeardown_ReportsElapsed(t *testing.T) {
	m := NewManager(&slowEnvBackend{delay: 60 * time.Millisecond})

	res, err := m.Teardown(context.Background(), "sim_1", Hint{RunnerStatus: api.RunnerRunning})
	require.NoError(t, err)
	assert.Equal(t, ActionClosed, res.Action)
	assert.GreaterOrEqual(t, res.Elapsed, 60*time.Millisecond)
}

func TestNewManager_EnforcesMinimumTimeout(t *testing.T) {
	m := NewManager(nil, WithCloseTimeout(0))
	assert.Equal(t, time.Second, m.CloseTimeout())
}
