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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/procsim/services/procsim/history"
)

// SystemHistory handles GET /history/system.
func SystemHistory(agg *history.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, agg.SystemHistory())
	}
}

// ProcessHistory handles GET /history/processes/:pid. A pid with no series
// (never seen, or pruned after it disappeared) is a 404.
func ProcessHistory(agg *history.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := parsePID(c, "pid")
		if !ok {
			return
		}
		series, found := agg.ProcessHistory(pid)
		if !found {
			respondError(c, http.StatusNotFound, "No history for process")
			return
		}
		c.JSON(http.StatusOK, series)
	}
}
