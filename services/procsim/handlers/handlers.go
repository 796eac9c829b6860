// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers of the procsim HTTP API.
//
// Every handler is built by a constructor that closes over its
// dependencies and returns a gin.HandlerFunc. Failures are answered with
// {"error": "..."} and a 4xx/5xx status.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/procsim/services/procsim/facade"
	"github.com/AleutianAI/procsim/services/procsim/snapshots"
)

// SimulationController is the scheduler surface used by the /mock routes.
// *simulation.Scheduler implements it.
type SimulationController interface {
	Start(interval time.Duration) (bool, time.Duration)
	Stop() bool
	IsRunning() bool
	Interval() time.Duration
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "procsim",
		"message": "procsim backend is running",
	})
}

// =============================================================================
// Helpers
// =============================================================================

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// respondInternal logs err and answers 500 without leaking internals.
func respondInternal(c *gin.Context, msg string, err error) {
	slog.Error(msg, "path", c.FullPath(), "error", err)
	respondError(c, http.StatusInternalServerError, msg)
}

// statusFor maps domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, facade.ErrNotFound), errors.Is(err, snapshots.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, facade.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, facade.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parsePID reads a positive integer path parameter.
func parsePID(c *gin.Context, name string) (int, bool) {
	pid, err := strconv.Atoi(c.Param(name))
	if err != nil || pid < 1 {
		respondError(c, http.StatusBadRequest, "Invalid PID")
		return 0, false
	}
	return pid, true
}

// queryInt reads an optional integer query parameter. A missing or empty
// value yields def; anything outside [min, max] is a 400.
func queryInt(c *gin.Context, key string, def, min, max int64) (int64, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < min || v > max {
		respondError(c, http.StatusBadRequest,
			"invalid "+key+": must be an integer between "+
				strconv.FormatInt(min, 10)+" and "+strconv.FormatInt(max, 10))
		return 0, false
	}
	return v, true
}
