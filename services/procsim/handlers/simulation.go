// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/facade"
)

const (
	// DefaultResetCount is the population size of POST /mock/reset without ?count.
	DefaultResetCount = 150

	// MaxIntervalMs bounds the ?ms override (one day).
	MaxIntervalMs = 24 * 60 * 60 * 1000
)

// StartSimulation handles POST /mock/start?ms=.
//
// # Description
//
// Starts the scheduler at ms milliseconds (defaultInterval when absent).
// When the scheduler is already running the call is ignored and the
// response reports the interval that is actually in effect.
func StartSimulation(sched SimulationController, defaultInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ms, ok := queryInt(c, "ms", defaultInterval.Milliseconds(), 1, MaxIntervalMs)
		if !ok {
			return
		}

		started, active := sched.Start(time.Duration(ms) * time.Millisecond)
		msg := "simulation started"
		if !started {
			msg = "simulation already running"
		}
		c.JSON(http.StatusOK, datatypes.SimulationStatus{
			Message:    msg,
			Running:    true,
			IntervalMs: active.Milliseconds(),
		})
	}
}

// StopSimulation handles POST /mock/stop.
func StopSimulation(sched SimulationController) gin.HandlerFunc {
	return func(c *gin.Context) {
		msg := "simulation stopped"
		if !sched.Stop() {
			msg = "simulation not running"
		}
		c.JSON(http.StatusOK, datatypes.SimulationStatus{Message: msg, Running: false})
	}
}

// SimulationStatus handles GET /mock/status.
func SimulationStatus(sched SimulationController) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.SimulationStatus{
			Running:    sched.IsRunning(),
			IntervalMs: sched.Interval().Milliseconds(),
		})
	}
}

// ResetPopulation handles POST /mock/reset?count=.
func ResetPopulation(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, ok := queryInt(c, "count", DefaultResetCount, 0, facade.MaxResetCount)
		if !ok {
			return
		}

		records, err := f.ResetPopulation(c.Request.Context(), int(count))
		if err != nil {
			if status := statusFor(err); status != http.StatusInternalServerError {
				respondError(c, status, err.Error())
				return
			}
			respondInternal(c, "Failed to reset mock", err)
			return
		}
		slog.Info("Mock population reset over HTTP", "count", len(records))
		c.JSON(http.StatusOK, datatypes.ResetResponse{Message: "mock reset", Count: len(records)})
	}
}
