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
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/facade"
)

// RequesterHeader names the simulated user issuing a kill.
const RequesterHeader = "X-Requester"

// ListProcesses handles GET /processes.
//
// # Description
//
// Returns the population sorted by pid. Optional query parameters:
//
//   - user: exact owner match.
//   - q: case-insensitive substring of command, owner or pid.
//   - sort: pid (default), cpu, mem, user, command.
//   - order: asc (default) or desc.
func ListProcesses(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		sortKey := c.DefaultQuery("sort", "pid")
		less, ok := processOrderings[sortKey]
		if !ok {
			respondError(c, http.StatusBadRequest, "invalid sort: "+sortKey)
			return
		}
		order := c.DefaultQuery("order", "asc")
		if order != "asc" && order != "desc" {
			respondError(c, http.StatusBadRequest, "invalid order: "+order)
			return
		}

		records := filterProcesses(f.ListProcesses(c.Request.Context()), c.Query("user"), c.Query("q"))
		if sortKey != "pid" || order != "asc" {
			slices.SortStableFunc(records, func(a, b datatypes.ProcessRecord) int {
				if order == "desc" {
					a, b = b, a
				}
				if n := less(a, b); n != 0 {
					return n
				}
				return cmp.Compare(a.PID, b.PID)
			})
		}
		c.JSON(http.StatusOK, records)
	}
}

// GetProcess handles GET /processes/:pid.
func GetProcess(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := parsePID(c, "pid")
		if !ok {
			return
		}
		rec, err := f.GetProcess(c.Request.Context(), pid)
		if err != nil {
			respondError(c, statusFor(err), "Process not found")
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// KillProcess handles POST /processes/:pid/kill.
//
// # Description
//
// The requester comes from the X-Requester header, falling back to the
// requester query parameter. Without either the request is trusted and may
// kill any pid, which is the plain kill contract; naming a requester only
// narrows what the caller may kill.
//
// # Outputs
//
//   - 200 {message}: Killed.
//   - 400: Invalid pid.
//   - 403: Requester does not own the process.
//   - 404: No such pid.
func KillProcess(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, ok := parsePID(c, "pid")
		if !ok {
			return
		}
		requester := c.GetHeader(RequesterHeader)
		if requester == "" {
			requester = c.Query("requester")
		}

		result := f.KillProcess(c.Request.Context(), pid, requester)
		if err := result.Err(); err != nil {
			respondError(c, statusFor(err), result.Message)
			return
		}
		c.JSON(http.StatusOK, datatypes.MessageResponse{Message: result.Message})
	}
}

// GetStats handles GET /stats.
func GetStats(f *facade.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, f.ComputeAggregateStats(c.Request.Context()))
	}
}

// =============================================================================
// Filtering and Sorting
// =============================================================================

var processOrderings = map[string]func(a, b datatypes.ProcessRecord) int{
	"pid": func(a, b datatypes.ProcessRecord) int { return cmp.Compare(a.PID, b.PID) },
	"cpu": func(a, b datatypes.ProcessRecord) int { return cmp.Compare(a.CPUPercent, b.CPUPercent) },
	"mem": func(a, b datatypes.ProcessRecord) int { return cmp.Compare(a.MemPercent, b.MemPercent) },
	"user": func(a, b datatypes.ProcessRecord) int {
		return strings.Compare(strings.ToLower(a.Owner), strings.ToLower(b.Owner))
	},
	"command": func(a, b datatypes.ProcessRecord) int {
		return strings.Compare(strings.ToLower(a.Command), strings.ToLower(b.Command))
	},
}

func filterProcesses(records []datatypes.ProcessRecord, user, q string) []datatypes.ProcessRecord {
	if user == "" && q == "" {
		return records
	}
	q = strings.ToLower(q)
	out := records[:0]
	for _, r := range records {
		if user != "" && r.Owner != user {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(r.Command), q) &&
			!strings.Contains(strings.ToLower(r.Owner), q) &&
			!strings.Contains(strconv.Itoa(r.PID), q) {
			continue
		}
		out = append(out, r)
	}
	return out
}
