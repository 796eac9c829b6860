// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data structures shared by the procsim service,
// its HTTP layer, and the procsimctl client.
//
// This file contains the simulated process record and the aggregate stats
// derived from a population. Snapshot and API envelope types live in
// snapshot.go and api.go.
package datatypes

// =============================================================================
// Constants
// =============================================================================

// PrivilegedOwner is the simulated superuser. It may kill any process and its
// processes are never reaped by the simulation.
const PrivilegedOwner = "root"

// =============================================================================
// Process Record
// =============================================================================

// ProcessRecord is one simulated OS process.
//
// # Description
//
// Mirrors a `ps aux` row. The JSON field names match the columns a process
// table dashboard expects (user, pid, cpu, mem, vsz, rss, tty, stat, start,
// time, command).
//
// # Fields
//
//   - PID: Unique within a population, assigned from an increasing counter.
//   - Owner: Simulated user; drives kill permission checks.
//   - CPUPercent, MemPercent: Always within [0, 100].
//   - VirtualSizeKB, ResidentSizeKB: Set at creation, never mutated.
//   - State, Terminal, StartedAt, CPUTime: Display only.
//   - Command: Full command line, immutable.
type ProcessRecord struct {
	PID            int     `json:"pid" yaml:"pid"`
	Owner          string  `json:"user" yaml:"user"`
	CPUPercent     float64 `json:"cpu" yaml:"cpu"`
	MemPercent     float64 `json:"mem" yaml:"mem"`
	VirtualSizeKB  int64   `json:"vsz" yaml:"vsz"`
	ResidentSizeKB int64   `json:"rss" yaml:"rss"`
	Terminal       string  `json:"tty" yaml:"tty"`
	State          string  `json:"stat" yaml:"stat"`
	StartedAt      string  `json:"start" yaml:"start"`
	CPUTime        string  `json:"time" yaml:"time"`
	Command        string  `json:"command" yaml:"command"`
}

// IsPrivileged reports whether the record belongs to the privileged owner.
func (p ProcessRecord) IsPrivileged() bool {
	return p.Owner == PrivilegedOwner
}

// AggregateStats sums the volatile metrics of a population.
//
// Totals are rounded to one decimal place. They are derived on every call and
// never cached.
type AggregateStats struct {
	ProcessCount int     `json:"process_count"`
	TotalCPU     float64 `json:"total_cpu"`
	TotalMem     float64 `json:"total_mem"`
}
