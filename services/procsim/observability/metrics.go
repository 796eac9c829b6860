// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus instrumentation for procsim.
//
// # Description
//
// Metrics cover the simulation loop (steps, failures, spawns, reaps, step
// latency), the command surface (kills by outcome, resets), durability writes,
// and HTTP traffic. All metrics are registered on an injectable
// prometheus.Registerer so tests can use an isolated registry.
//
// # Nil Safety
//
// Every recording method accepts a nil *Metrics receiver and does nothing.
// Components built without metrics therefore need no branching.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "procsim"

const (
	simulationSubsystem = "simulation"
	commandSubsystem    = "command"
	durabilitySubsystem = "durability"
	httpSubsystem       = "http"
)

// Metrics holds every Prometheus collector used by the service.
//
// # Fields
//
//   - StepsTotal: Completed mutation steps.
//   - StepFailuresTotal: Steps that returned an error or panicked.
//   - StepDurationSeconds: Wall time of a mutation step.
//   - SpawnsTotal, ReapsTotal: Population churn caused by the simulation.
//   - Population: Current number of live records.
//   - SchedulerRunning: 1 while the scheduler timer is active.
//   - KillsTotal: Kill requests by outcome (killed, not_found, permission_denied).
//   - ResetsTotal: Population resets.
//   - PersistTotal: Durability writes by result (ok, error, skipped).
//   - HTTPRequestsTotal: Requests by route and status code.
//   - HTTPRequestDurationSeconds: Request latency by route.
type Metrics struct {
	StepsTotal          prometheus.Counter
	StepFailuresTotal   prometheus.Counter
	StepDurationSeconds prometheus.Histogram
	SpawnsTotal         prometheus.Counter
	ReapsTotal          prometheus.Counter
	Population          prometheus.Gauge
	SchedulerRunning    prometheus.Gauge

	KillsTotal  *prometheus.CounterVec
	ResetsTotal prometheus.Counter

	PersistTotal *prometheus.CounterVec

	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production and prometheus.NewRegistry()
// in tests. Registering twice on the same registerer panics, matching promauto.
//
// # Inputs
//
//   - reg: Registerer that receives every collector.
//
// # Outputs
//
//   - *Metrics: The registered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "steps_total",
			Help:      "Total number of completed mutation steps",
		}),
		StepFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "step_failures_total",
			Help:      "Total number of mutation steps that failed and were skipped",
		}),
		StepDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "step_duration_seconds",
			Help:      "Wall time of a single mutation step",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		SpawnsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "spawns_total",
			Help:      "Total number of records spawned by the simulation",
		}),
		ReapsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "reaps_total",
			Help:      "Total number of records reaped by the simulation",
		}),
		Population: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "population",
			Help:      "Number of live simulated processes",
		}),
		SchedulerRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: simulationSubsystem,
			Name:      "scheduler_running",
			Help:      "1 while the simulation scheduler is running",
		}),
		KillsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: commandSubsystem,
			Name:      "kills_total",
			Help:      "Total kill requests by outcome",
		}, []string{"outcome"}),
		ResetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: commandSubsystem,
			Name:      "resets_total",
			Help:      "Total population resets",
		}),
		PersistTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: durabilitySubsystem,
			Name:      "persist_total",
			Help:      "Total population persistence attempts by result",
		}, []string{"result"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: httpSubsystem,
			Name:      "requests_total",
			Help:      "Total HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPRequestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: httpSubsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// Kill outcome labels.
const (
	KillOutcomeKilled           = "killed"
	KillOutcomeNotFound         = "not_found"
	KillOutcomePermissionDenied = "permission_denied"
)

// Persist result labels.
const (
	PersistResultOK      = "ok"
	PersistResultError   = "error"
	PersistResultSkipped = "skipped"
)

// RecordStep records a completed step.
func (m *Metrics) RecordStep(duration time.Duration, spawned, reaped bool, population int) {
	if m == nil {
		return
	}
	m.StepsTotal.Inc()
	m.StepDurationSeconds.Observe(duration.Seconds())
	if spawned {
		m.SpawnsTotal.Inc()
	}
	if reaped {
		m.ReapsTotal.Inc()
	}
	m.Population.Set(float64(population))
}

// RecordStepFailure records a skipped step.
func (m *Metrics) RecordStepFailure() {
	if m == nil {
		return
	}
	m.StepFailuresTotal.Inc()
}

// SetSchedulerRunning mirrors the scheduler state.
func (m *Metrics) SetSchedulerRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.SchedulerRunning.Set(1)
		return
	}
	m.SchedulerRunning.Set(0)
}

// SetPopulation updates the population gauge.
func (m *Metrics) SetPopulation(n int) {
	if m == nil {
		return
	}
	m.Population.Set(float64(n))
}

// RecordKill counts a kill request by outcome label.
func (m *Metrics) RecordKill(outcome string) {
	if m == nil {
		return
	}
	m.KillsTotal.WithLabelValues(outcome).Inc()
}

// RecordReset counts a population reset.
func (m *Metrics) RecordReset() {
	if m == nil {
		return
	}
	m.ResetsTotal.Inc()
}

// RecordPersist counts a durability write by result label.
func (m *Metrics) RecordPersist(result string) {
	if m == nil {
		return
	}
	m.PersistTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest counts an HTTP request and observes its latency.
func (m *Metrics) RecordHTTPRequest(route, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(route, method).Observe(duration.Seconds())
}
