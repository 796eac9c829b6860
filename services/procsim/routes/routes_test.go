// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/procsim/services/procsim/durability"
	"github.com/AleutianAI/procsim/services/procsim/facade"
	"github.com/AleutianAI/procsim/services/procsim/history"
	"github.com/AleutianAI/procsim/services/procsim/middleware"
	"github.com/AleutianAI/procsim/services/procsim/observability"
	"github.com/AleutianAI/procsim/services/procsim/population"
	"github.com/AleutianAI/procsim/services/procsim/simulation"
	"github.com/AleutianAI/procsim/services/procsim/snapshots"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newDeps(t *testing.T) (Dependencies, *simulation.Scheduler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	store := population.NewStore(population.DefaultPIDBase)
	gen := population.NewSeededGenerator(1)
	require.NoError(t, store.ReplaceAll(gen.Population(10, population.DefaultPIDBase)))

	persister := durability.NewPersister(durability.NewMemoryStore(), metrics)
	engine := simulation.NewEngine(store, gen, simulation.DefaultParams(), nil,
		simulation.WithPersister(persister), simulation.WithMetrics(metrics))
	sched := simulation.NewScheduler(engine, metrics)
	t.Cleanup(func() { sched.Stop() })

	return Dependencies{
		Facade:          facade.New(store, gen, persister, metrics),
		Scheduler:       sched,
		Snapshots:       snapshots.NewMemoryStore(nil),
		History:         history.NewAggregator(history.DefaultCapacity),
		Gatherer:        reg,
		Metrics:         metrics,
		DefaultInterval: time.Hour,
	}, sched
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersEveryRouteTwice(t *testing.T) {
	deps, _ := newDeps(t)
	router := gin.New()
	SetupRoutes(router, deps)

	registered := map[string]bool{}
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	expected := []string{
		"GET /health",
		"GET /metrics",
		"GET /processes",
		"GET /processes/:pid",
		"POST /processes/:pid/kill",
		"GET /stats",
		"POST /mock/start",
		"POST /mock/stop",
		"GET /mock/status",
		"POST /mock/reset",
		"POST /snapshots",
		"GET /snapshots",
		"GET /snapshots/:id",
		"GET /history/system",
		"GET /history/processes/:pid",
		"GET /ws/processes",
	}
	for _, route := range expected {
		method, path, _ := strings.Cut(route, " ")
		assert.True(t, registered[route], "missing %s", route)
		assert.True(t, registered[method+" "+APIPrefix+path], "missing %s %s%s", method, APIPrefix, path)
	}
	assert.Len(t, router.Routes(), 2*len(expected))
}

func TestNewRouter_ServesBothPrefixes(t *testing.T) {
	deps, _ := newDeps(t)
	router := NewRouter("procsim-test", deps)

	for _, path := range []string{"/health", "/api/health", "/processes", "/api/processes", "/api/stats"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader), path)
	}
}

func TestNewRouter_MockLifecycle(t *testing.T) {
	deps, sched := newDeps(t)
	router := NewRouter("procsim-test", deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/mock/start?ms=5000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"simulation started","running":true,"interval_ms":5000}`, w.Body.String())
	assert.True(t, sched.IsRunning())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mock/stop", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sched.IsRunning())
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	deps, _ := newDeps(t)
	router := NewRouter("procsim-test", deps)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/processes", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `procsim_http_requests_total{method="GET",route="/processes",status="200"} 1`)
}

func TestNewRouter_RateLimitsMutations(t *testing.T) {
	deps, _ := newDeps(t)
	deps.MutationLimiter = middleware.NewMutationLimiter(0.001, 1)
	router := NewRouter("procsim-test", deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mock/reset?count=5", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/mock/reset?count=5", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/processes", nil))
	assert.Equal(t, http.StatusOK, w.Code, "reads are never limited")
}

func TestNewRouter_UnknownRoute(t *testing.T) {
	deps, _ := newDeps(t)
	router := NewRouter("procsim-test", deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
