// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/procsim/pkg/logging"
	"github.com/AleutianAI/procsim/services/procsim/config"
)

func TestConfigInit_WritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procsim.yaml")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path, func(string) string { return "" })
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestConfigInit_RejectsExtraArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"config", "init", "a.yaml", "b.yaml"})
	assert.Error(t, cmd.Execute())
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "warning"})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())

	_, err = newLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLogStartup(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf})
	cfg := config.DefaultConfig()

	startup := logStartup(logger, cfg, "", true)
	startup.Info("after startup")

	out := buf.String()
	assert.Contains(t, out, "Starting procsim")
	assert.Contains(t, out, "addr="+cfg.Server.Addr())
	assert.Contains(t, out, "Simulation settings")
	assert.Contains(t, out, "Config hot reload disabled")
	assert.Contains(t, out, `msg="after startup" config=""`)
}

func TestLogStartup_QuietWithConfigFile(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Output: &buf})

	logStartup(logger, config.DefaultConfig(), "procsim.yaml", true)

	out := buf.String()
	assert.Contains(t, out, "config=procsim.yaml")
	assert.NotContains(t, out, "Simulation settings")
	assert.NotContains(t, out, "hot reload disabled")
}
