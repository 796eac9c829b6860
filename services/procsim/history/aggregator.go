// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history folds periodic population samples into short, bounded
// time series for trend charts.
//
// # Description
//
// The Aggregator keeps one series per live pid (cpu, mem) and one system
// series (count, total cpu, total mem). Each Fold appends one point to every
// series of a pid present in the sample and drops the series of every pid that
// is absent. A Poller feeds the Aggregator from a Source on its own cadence.
package history

import (
	"slices"
	"sync"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// DefaultCapacity is the number of points kept per series.
const DefaultCapacity = 20

// Sample is one observation of the population.
type Sample struct {
	Processes []datatypes.ProcessRecord
	Stats     datatypes.AggregateStats
}

// =============================================================================
// Aggregator
// =============================================================================

// Aggregator is the History Aggregator.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Fold takes the write lock; reads
// take the read lock and return copies.
type Aggregator struct {
	mu        sync.RWMutex
	capacity  int
	processes map[int]*RingBuffer[datatypes.ProcessPoint]
	system    *RingBuffer[datatypes.SystemPoint]
	folds     uint64
}

// NewAggregator creates an aggregator. capacity <= 0 uses DefaultCapacity.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Aggregator{
		capacity:  capacity,
		processes: make(map[int]*RingBuffer[datatypes.ProcessPoint]),
		system:    NewRingBuffer[datatypes.SystemPoint](capacity),
	}
}

// Fold merges one sample.
//
// # Description
//
// Appends cpu/mem for every pid in the sample (creating its series on first
// sight), deletes series for pids missing from the sample, and appends the
// totals to the system series. Duplicate pids in a sample are folded once.
func (a *Aggregator) Fold(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	present := make(map[int]struct{}, len(s.Processes))
	for _, p := range s.Processes {
		if _, dup := present[p.PID]; dup {
			continue
		}
		present[p.PID] = struct{}{}

		series, ok := a.processes[p.PID]
		if !ok {
			series = NewRingBuffer[datatypes.ProcessPoint](a.capacity)
			a.processes[p.PID] = series
		}
		series.Push(datatypes.ProcessPoint{CPUPercent: p.CPUPercent, MemPercent: p.MemPercent})
	}

	for pid := range a.processes {
		if _, ok := present[pid]; !ok {
			delete(a.processes, pid)
		}
	}

	a.system.Push(datatypes.SystemPoint{
		ProcessCount: s.Stats.ProcessCount,
		TotalCPU:     s.Stats.TotalCPU,
		TotalMem:     s.Stats.TotalMem,
	})
	a.folds++
}

// System returns the system series oldest first.
func (a *Aggregator) System() []datatypes.SystemPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.system.ToSlice()
}

// Process returns the series for pid oldest first.
func (a *Aggregator) Process(pid int) ([]datatypes.ProcessPoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	series, ok := a.processes[pid]
	if !ok {
		return nil, false
	}
	return series.ToSlice(), true
}

// Keys returns the tracked pids in ascending order.
func (a *Aggregator) Keys() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]int, 0, len(a.processes))
	for pid := range a.processes {
		keys = append(keys, pid)
	}
	slices.Sort(keys)
	return keys
}

// Capacity returns the per-series capacity.
func (a *Aggregator) Capacity() int {
	return a.capacity
}

// Folds returns how many samples have been folded.
func (a *Aggregator) Folds() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.folds
}

// SystemHistory returns the system series as an API response.
func (a *Aggregator) SystemHistory() datatypes.SystemHistory {
	return datatypes.SystemHistory{
		Capacity: a.capacity,
		Points:   a.System(),
		Tracked:  a.Keys(),
	}
}

// ProcessHistory returns the series for pid as an API response.
func (a *Aggregator) ProcessHistory(pid int) (datatypes.ProcessHistory, bool) {
	points, ok := a.Process(pid)
	if !ok {
		return datatypes.ProcessHistory{}, false
	}
	return datatypes.ProcessHistory{PID: pid, Capacity: a.capacity, Points: points}, true
}
