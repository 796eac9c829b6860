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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/facade"
	"github.com/AleutianAI/procsim/services/procsim/snapshots"
)

// CreateSnapshot handles POST /snapshots.
//
// # Description
//
// Captures the current population as a named snapshot. The body is
// {"name": ..., "description": ...}; name is required.
//
// # Outputs
//
//   - 201: The stored snapshot including its data.
//   - 400: Malformed body or validation failure.
//   - 500: Storage failure.
func CreateSnapshot(store snapshots.Store, f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSnapshotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		ctx := c.Request.Context()
		data, err := json.Marshal(f.ListProcesses(ctx))
		if err != nil {
			respondInternal(c, "Failed to encode population", err)
			return
		}
		snap, err := store.InsertSnapshot(ctx, req.Name, req.Description, data)
		if err != nil {
			respondInternal(c, "Database error", err)
			return
		}
		c.JSON(http.StatusCreated, snap)
	}
}

// ListSnapshots handles GET /snapshots. Newest first, without data.
func ListSnapshots(store snapshots.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := store.ListSnapshotSummaries(c.Request.Context())
		if err != nil {
			respondInternal(c, "Database error", err)
			return
		}
		c.JSON(http.StatusOK, summaries)
	}
}

// GetSnapshot handles GET /snapshots/:id.
func GetSnapshot(store snapshots.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id < 1 {
			respondError(c, http.StatusBadRequest, "Invalid snapshot id")
			return
		}
		snap, err := store.GetSnapshotByID(c.Request.Context(), id)
		if errors.Is(err, snapshots.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Snapshot not found")
			return
		}
		if err != nil {
			respondInternal(c, "Database error", err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}
