// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command procsim starts the simulated process-table HTTP server.
//
// # Environment Variables
//
//   - PROCSIM_CONFIG: YAML config path (overridden by --config)
//   - PORT: HTTP port (default: 5000)
//   - PROCSIM_DATA_DIR: badger and SQLite directory (default: data)
//   - PROCSIM_LOG_LEVEL: debug, info, warn, error (default: info)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: enables OTLP tracing when set
//
// # Usage
//
//	# Run with defaults
//	procsim
//
//	# Write a config file to edit
//	procsim config init procsim.yaml
//	procsim --config procsim.yaml
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/procsim/pkg/logging"
	"github.com/AleutianAI/procsim/services/procsim"
	"github.com/AleutianAI/procsim/services/procsim/config"
)

var (
	configPath  string
	watchConfig bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("procsim: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "procsim",
		Short:         "Serve a simulated, mutable process table over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"YAML config file (default $"+config.EnvConfigPath+")")
	rootCmd.Flags().BoolVar(&watchConfig, "watch-config", true,
		"reload simulation params and rate limits when the config file changes")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "procsim.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)
	return rootCmd
}

func runServer(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}

	cfg, err := config.Load(path, os.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetDefault()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	startup := logStartup(logger, cfg, path, watchConfig)

	opts := &procsim.Options{Logger: logger.Slog()}
	if watchConfig && path != "" {
		opts.ConfigPath = path
	}

	svc, err := procsim.New(cfg, opts)
	if err != nil {
		startup.Error("Failed to create service", "error", err)
		return fmt.Errorf("create service: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		startup.Error("procsim exited", "error", err)
		return err
	}
	startup.Info("procsim stopped")
	return nil
}

// logStartup writes the startup banner and returns the logger the rest of
// runServer uses.
func logStartup(logger *logging.Logger, cfg config.Config, path string, watch bool) *logging.Logger {
	l := logger.With("config", path)
	l.Info("Starting procsim",
		"addr", cfg.Server.Addr(),
		"population_backend", cfg.Storage.PopulationBackend,
		"snapshot_backend", cfg.Storage.SnapshotBackend,
		"tracing", cfg.Tracing.Exporter,
	)
	l.Debug("Simulation settings",
		"autostart", cfg.Simulation.Autostart,
		"interval", cfg.Simulation.Interval(),
		"initial_count", cfg.Simulation.InitialCount,
	)
	if watch && path == "" {
		l.Warn("Config hot reload disabled: no config file")
	}
	return l
}

// newLogger maps the logging section onto pkg/logging.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "procsim",
		JSON:    cfg.JSON,
	}), nil
}
