// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// HTTP Envelopes
// =============================================================================

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse carries a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// SimulationStatus reports the scheduler state.
type SimulationStatus struct {
	Message    string `json:"message,omitempty"`
	Running    bool   `json:"running"`
	IntervalMs int64  `json:"interval_ms"`
}

// ResetResponse reports the size of a freshly generated population.
type ResetResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// StreamFrame is one websocket push on /ws/processes.
type StreamFrame struct {
	StreamID  string          `json:"stream_id"`
	Sequence  uint64          `json:"sequence"`
	Processes []ProcessRecord `json:"processes"`
	Stats     AggregateStats  `json:"stats"`
}

// ProcessPoint is one sample of a per-process history series.
type ProcessPoint struct {
	CPUPercent float64 `json:"cpu"`
	MemPercent float64 `json:"mem"`
}

// SystemPoint is one sample of the system-wide history series.
type SystemPoint struct {
	ProcessCount int     `json:"process_count"`
	TotalCPU     float64 `json:"total_cpu"`
	TotalMem     float64 `json:"total_mem"`
}

// ProcessHistory is the response of GET /history/processes/:pid.
type ProcessHistory struct {
	PID      int            `json:"pid"`
	Capacity int            `json:"capacity"`
	Points   []ProcessPoint `json:"points"`
}

// SystemHistory is the response of GET /history/system.
type SystemHistory struct {
	Capacity int           `json:"capacity"`
	Points   []SystemPoint `json:"points"`
	Tracked  []int         `json:"tracked_pids"`
}
