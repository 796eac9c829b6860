// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the procsim service configuration.
//
// # Description
//
// Configuration comes from three layers, later layers winning:
//
//  1. Built-in defaults (DefaultConfig).
//  2. An optional YAML file (path from --config or PROCSIM_CONFIG).
//  3. Environment overrides: PORT, PROCSIM_DATA_DIR, PROCSIM_LOG_LEVEL,
//     OTEL_EXPORTER_OTLP_ENDPOINT.
//
// The result is checked with go-playground/validator struct tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/procsim/services/procsim/simulation"
)

// Environment variable names.
const (
	EnvConfigPath   = "PROCSIM_CONFIG"
	EnvPort         = "PORT"
	EnvDataDir      = "PROCSIM_DATA_DIR"
	EnvLogLevel     = "PROCSIM_LOG_LEVEL"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Tracing exporters.
const (
	TracingNone   = "none"
	TracingStdout = "stdout"
	TracingOTLP   = "otlp"
)

// OTel metric exporters. Prometheus registers on the service registry, so
// OTel instruments appear on /metrics next to the native collectors.
const (
	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
	MetricsStdout     = "stdout"
)

var validate = validator.New()

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	History    HistoryConfig    `yaml:"history"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port" validate:"gte=1,lte=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// MutationRate limits kill, reset, start/stop and snapshot requests per
	// second across all clients. 0 disables the limit.
	MutationRate  float64 `yaml:"mutation_rate" validate:"gte=0"`
	MutationBurst int     `yaml:"mutation_burst" validate:"gte=1"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SimulationConfig controls the population and the scheduler.
type SimulationConfig struct {
	Autostart    bool              `yaml:"autostart"`
	IntervalMs   int64             `yaml:"interval_ms" validate:"gte=1"`
	InitialCount int               `yaml:"initial_count" validate:"gte=0,lte=100000"`
	Seed         uint64            `yaml:"seed"`
	Params       simulation.Params `yaml:"params"`
}

// Interval returns IntervalMs as a duration.
func (s SimulationConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// HistoryConfig controls the server-side history aggregator.
type HistoryConfig struct {
	Capacity       int   `yaml:"capacity" validate:"gte=1,lte=10000"`
	PollIntervalMs int64 `yaml:"poll_interval_ms" validate:"gte=1"`
}

// PollInterval returns PollIntervalMs as a duration.
func (h HistoryConfig) PollInterval() time.Duration {
	return time.Duration(h.PollIntervalMs) * time.Millisecond
}

// StorageConfig selects the durability and snapshot backends.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	PopulationBackend string `yaml:"population_backend" validate:"oneof=badger memory"`
	SnapshotBackend   string `yaml:"snapshot_backend" validate:"oneof=sqlite memory"`
	SyncWrites        bool   `yaml:"sync_writes"`

	// GCInterval is how often badger value log GC runs. 0 disables it.
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`
}

// PopulationPath is the badger directory.
func (s StorageConfig) PopulationPath() string {
	return filepath.Join(s.DataDir, "population")
}

// SnapshotPath is the SQLite database file.
func (s StorageConfig) SnapshotPath() string {
	return filepath.Join(s.DataDir, "snapshots.db")
}

// LoggingConfig controls pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter    string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	ServiceName string `yaml:"service_name" validate:"required"`

	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
}

// =============================================================================
// Loading
// =============================================================================

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:              5000,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MutationRate:      50,
			MutationBurst:     100,
		},
		Simulation: SimulationConfig{
			Autostart:    true,
			IntervalMs:   simulation.DefaultInterval.Milliseconds(),
			InitialCount: 150,
			Params:       simulation.DefaultParams(),
		},
		History: HistoryConfig{
			Capacity:       20,
			PollIntervalMs: 2000,
		},
		Storage: StorageConfig{
			DataDir:           "data",
			PopulationBackend: BackendBadger,
			SnapshotBackend:   BackendSQLite,
			SyncWrites:        true,
			GCInterval:        5 * time.Minute,
			GCDiscardRatio:    0.5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:       TracingNone,
			ServiceName:    "procsim",
			MetricExporter: MetricsPrometheus,
		},
	}
}

// Load builds the configuration.
//
// # Description
//
// Starts from DefaultConfig, overlays the YAML file at path (or at
// $PROCSIM_CONFIG when path is empty), applies environment overrides from
// getenv, then validates. A missing file is not an error.
//
// # Inputs
//
//   - path: YAML file path, may be empty.
//   - getenv: Environment lookup, usually os.Getenv.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: Read, parse, override or validation failure.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := DefaultConfig()

	if path == "" {
		path = getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every struct tag rule.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteDefault writes DefaultConfig as YAML to path, creating directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.Server.Port = port
	}
	if v := getenv(EnvDataDir); v != "" {
		c.Storage.DataDir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := getenv(EnvOTLPEndpoint); v != "" {
		c.Tracing.Endpoint = v
		if c.Tracing.Exporter == TracingNone {
			c.Tracing.Exporter = TracingOTLP
		}
	}
	return nil
}
