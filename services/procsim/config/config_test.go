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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.True(t, cfg.Simulation.Autostart)
	assert.Equal(t, 2*time.Second, cfg.Simulation.Interval())
	assert.Equal(t, 150, cfg.Simulation.InitialCount)
	assert.Equal(t, 0.04, cfg.Simulation.Params.SpawnProb)
	assert.Equal(t, 20, cfg.History.Capacity)
	assert.Equal(t, BackendBadger, cfg.Storage.PopulationBackend)
	assert.Equal(t, TracingNone, cfg.Tracing.Exporter)
	assert.Equal(t, MetricsPrometheus, cfg.Tracing.MetricExporter)
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCInterval)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procsim.yaml")
	yaml := `
server:
  port: 8080
  shutdown_timeout: 3s
simulation:
  autostart: false
  interval_ms: 500
  params:
    spawn_prob: 0.5
storage:
  population_backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Simulation.Autostart)
	assert.Equal(t, int64(500), cfg.Simulation.IntervalMs)
	assert.Equal(t, 0.5, cfg.Simulation.Params.SpawnProb)
	// Unset keys keep their defaults.
	assert.Equal(t, 0.03, cfg.Simulation.Params.ReapProb)
	assert.Equal(t, BackendMemory, cfg.Storage.PopulationBackend)
	assert.Equal(t, BackendSQLite, cfg.Storage.SnapshotBackend)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0600))

	cfg, err := Load("", env(map[string]string{EnvConfigPath: path}))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	cfg, err := Load("", env(map[string]string{
		EnvPort:         "9090",
		EnvDataDir:      "/var/lib/procsim",
		EnvLogLevel:     "debug",
		EnvOTLPEndpoint: "collector:4317",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/procsim", cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/procsim", "population"), cfg.Storage.PopulationPath())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, TracingOTLP, cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad port env", env: map[string]string{EnvPort: "http"}},
		{name: "port out of range", yaml: "server:\n  port: 70000\n"},
		{name: "unknown backend", yaml: "storage:\n  population_backend: postgres\n"},
		{name: "unknown log level", env: map[string]string{EnvLogLevel: "chatty"}},
		{name: "probability above one", yaml: "simulation:\n  params:\n    spawn_prob: 1.5\n"},
		{name: "spike range inverted", yaml: "simulation:\n  params:\n    cpu_spike_min: 90\n    cpu_spike_max: 10\n"},
		{name: "otlp without endpoint", yaml: "tracing:\n  exporter: otlp\n"},
		{name: "unknown metric exporter", yaml: "tracing:\n  metric_exporter: statsd\n"},
		{name: "discard ratio above one", yaml: "storage:\n  gc_discard_ratio: 2\n"},
		{name: "malformed yaml", yaml: "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = filepath.Join(t.TempDir(), "procsim.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))
			}
			_, err := Load(path, env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "procsim.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestServerConfig_Addr(t *testing.T) {
	assert.Equal(t, ":5000", ServerConfig{Port: 5000}.Addr())
	assert.Equal(t, "127.0.0.1:80", ServerConfig{Host: "127.0.0.1", Port: 80}.Addr())
}
