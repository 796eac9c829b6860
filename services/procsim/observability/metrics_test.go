// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Registration Tests
// =============================================================================

func TestNewMetrics_RegistersOnIsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.RecordStep(time.Millisecond, true, false, 10)
	m.RecordKill(KillOutcomeKilled)
	m.RecordPersist(PersistResultOK)
	m.RecordHTTPRequest("/processes", "GET", "200", time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["procsim_simulation_steps_total"])
	assert.True(t, names["procsim_command_kills_total"])
	assert.True(t, names["procsim_durability_persist_total"])
	assert.True(t, names["procsim_http_requests_total"])
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

// =============================================================================
// Recording Tests
// =============================================================================

func TestMetrics_RecordStep(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStep(time.Microsecond, true, true, 42)
	m.RecordStep(time.Microsecond, false, false, 41)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpawnsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReapsTotal))
	assert.Equal(t, 41.0, testutil.ToFloat64(m.Population))
}

func TestMetrics_KillOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKill(KillOutcomeKilled)
	m.RecordKill(KillOutcomePermissionDenied)
	m.RecordKill(KillOutcomePermissionDenied)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KillsTotal.WithLabelValues(KillOutcomeKilled)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.KillsTotal.WithLabelValues(KillOutcomePermissionDenied)))
}

func TestMetrics_SchedulerGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetSchedulerRunning(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerRunning))
	m.SetSchedulerRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SchedulerRunning))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStep(time.Second, true, true, 1)
		m.RecordStepFailure()
		m.SetSchedulerRunning(true)
		m.SetPopulation(3)
		m.RecordKill(KillOutcomeNotFound)
		m.RecordReset()
		m.RecordPersist(PersistResultError)
		m.RecordHTTPRequest("/", "GET", "200", time.Second)
	})
}
