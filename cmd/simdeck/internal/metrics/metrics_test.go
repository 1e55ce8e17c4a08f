// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest_StatusClasses(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/graph/task/{id}", 200, 20*time.Millisecond)
	m.ObserveRequest("GET", "/graph/task/{id}", 200, 30*time.Millisecond)
	m.ObserveRequest("POST", "/simulation/start", 503, time.Second)
	m.ObserveRequest("POST", "/simulation/start", 0, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/graph/task/{id}", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/simulation/start", "5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/simulation/start", "transport")))
}

func TestSetPhase_OneHot(t *testing.T) {
	m := New()
	m.SetPhase("setup", 2)
	m.SetPhase("run", 4)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Phase.WithLabelValues("setup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Phase.WithLabelValues("run")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SetupStep))
}

func TestObserveDedup(t *testing.T) {
	m := New()
	m.ObserveDedup("actions", 4, 0)
	m.ObserveDedup("actions", 2, 4)
	m.ObserveDedup("profiles", 0, 3)

	assert.Equal(t, 6.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("actions", "added")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("actions", "duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("profiles", "duplicate")))
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := New()
	m.ObservePoll("run-status", "update")
	m.ObserveRetry("start simulation", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `simdeck_poller_polls_total{outcome="update",poller="run-status"} 1`))
	assert.Contains(t, body, "simdeck_backend_retries_total")
}

func TestNew_IsRepeatable(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
