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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/procsim/services/procsim/facade"
	"github.com/AleutianAI/procsim/services/procsim/handlers"
	"github.com/AleutianAI/procsim/services/procsim/history"
	"github.com/AleutianAI/procsim/services/procsim/middleware"
	"github.com/AleutianAI/procsim/services/procsim/observability"
	"github.com/AleutianAI/procsim/services/procsim/snapshots"
)

// APIPrefix is the legacy prefix every route is also served under.
const APIPrefix = "/api"

// Dependencies holds everything the handlers close over.
type Dependencies struct {
	Facade    *facade.Facade
	Scheduler handlers.SimulationController
	Snapshots snapshots.Store
	History   *history.Aggregator

	// Gatherer backs /metrics. Nil uses the prometheus default gatherer.
	Gatherer prometheus.Gatherer
	Metrics  *observability.Metrics

	// DefaultInterval is used by /mock/start and /ws/processes without ?ms.
	DefaultInterval time.Duration

	// MutationLimiter throttles mutating routes. Nil disables throttling.
	MutationLimiter *rate.Limiter
}

// NewRouter builds the gin engine with the standard middleware chain and
// every route registered.
func NewRouter(serviceName string, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Metrics(deps.Metrics))
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers the API at the root and again under /api.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.DefaultInterval <= 0 {
		deps.DefaultInterval = 2 * time.Second
	}

	register(&router.RouterGroup, deps)
	register(router.Group(APIPrefix), deps)
}

func register(g *gin.RouterGroup, deps Dependencies) {
	limit := middleware.RateLimit(deps.MutationLimiter)

	g.GET("/health", handlers.HealthCheck)
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	processes := g.Group("/processes")
	{
		processes.GET("", handlers.ListProcesses(deps.Facade))
		processes.GET("/:pid", handlers.GetProcess(deps.Facade))
		processes.POST("/:pid/kill", limit, handlers.KillProcess(deps.Facade))
	}
	g.GET("/stats", handlers.GetStats(deps.Facade))

	mock := g.Group("/mock")
	{
		mock.POST("/start", limit, handlers.StartSimulation(deps.Scheduler, deps.DefaultInterval))
		mock.POST("/stop", limit, handlers.StopSimulation(deps.Scheduler))
		mock.GET("/status", handlers.SimulationStatus(deps.Scheduler))
		mock.POST("/reset", limit, handlers.ResetPopulation(deps.Facade))
	}

	snaps := g.Group("/snapshots")
	{
		snaps.POST("", limit, handlers.CreateSnapshot(deps.Snapshots, deps.Facade))
		snaps.GET("", handlers.ListSnapshots(deps.Snapshots))
		snaps.GET("/:id", handlers.GetSnapshot(deps.Snapshots))
	}

	hist := g.Group("/history")
	{
		hist.GET("/system", handlers.SystemHistory(deps.History))
		hist.GET("/processes/:pid", handlers.ProcessHistory(deps.History))
	}

	g.GET("/ws/processes", handlers.StreamProcesses(deps.Facade, deps.DefaultInterval))
}
