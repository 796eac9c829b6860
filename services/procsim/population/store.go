// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package population holds the authoritative in-memory set of simulated
// process records and the generator that creates them.
//
// # Concurrency
//
// Store owns a single sync.RWMutex. Every mutation (simulation step, kill,
// reset, spawn, reap) runs under the write lock, either through one of the
// single-operation methods or through Update for compound operations. Reads
// take the read lock and may run concurrently with each other.
package population

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// DefaultPIDBase is the first pid handed out by a fresh counter.
const DefaultPIDBase = 1000

var (
	// ErrDuplicateKey is returned when inserting a pid that is already live.
	ErrDuplicateKey = errors.New("duplicate pid")

	// ErrInvalidRecord is returned for records that break store invariants.
	ErrInvalidRecord = errors.New("invalid process record")
)

// =============================================================================
// Store
// =============================================================================

// Store is the Entity Store: the live population ordered by pid.
//
// # Description
//
// Records are kept in a slice sorted by pid so that List never needs to sort
// and lookups are a binary search. The store also owns the pid counter so a
// pid is never reissued while the counter lives, even after removal.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records []datatypes.ProcessRecord
	nextPID int
}

// NewStore creates an empty store whose counter starts at base.
func NewStore(base int) *Store {
	if base <= 0 {
		base = DefaultPIDBase
	}
	return &Store{nextPID: base}
}

// List returns a defensive copy of the population sorted by pid ascending.
func (s *Store) List() []datatypes.ProcessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Get returns the record for pid.
func (s *Store) Get(pid int) (datatypes.ProcessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&ReadTxn{s: s}).Get(pid)
}

// Len returns the population size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// NextPID returns the pid the next AllocatePID call will hand out.
func (s *Store) NextPID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextPID
}

// Insert adds a record. Fails with ErrDuplicateKey if the pid is live.
func (s *Store) Insert(rec datatypes.ProcessRecord) error {
	return s.Update(func(tx *Txn) error { return tx.Insert(rec) })
}

// Remove deletes the record for pid and reports whether anything was removed.
func (s *Store) Remove(pid int) bool {
	var removed bool
	_ = s.Update(func(tx *Txn) error {
		removed = tx.Remove(pid)
		return nil
	})
	return removed
}

// ReplaceAll swaps the whole population in one step.
func (s *Store) ReplaceAll(records []datatypes.ProcessRecord) error {
	return s.Update(func(tx *Txn) error { return tx.ReplaceAll(records) })
}

// View runs fn under the read lock.
func (s *Store) View(fn func(tx *ReadTxn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&ReadTxn{s: s})
}

// Update runs fn under the write lock.
//
// # Description
//
// Compound mutations (check-then-remove, step, reset) go through Update so no
// other reader or writer observes an intermediate state. If fn returns an
// error or panics, the population and pid counter are restored to what they
// were before fn ran; the panic is then propagated.
//
// # Inputs
//
//   - fn: Mutation callback. The Txn must not escape the callback.
//
// # Outputs
//
//   - error: Whatever fn returned.
func (s *Store) Update(fn func(tx *Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := slices.Clone(s.records)
	savedNext := s.nextPID
	committed := false
	defer func() {
		if !committed {
			s.records = saved
			s.nextPID = savedNext
		}
	}()

	if err := fn(&Txn{ReadTxn: ReadTxn{s: s}}); err != nil {
		return err
	}
	committed = true
	return nil
}

// =============================================================================
// Transactions
// =============================================================================

// ReadTxn exposes lock-free reads to a View or Update callback.
type ReadTxn struct {
	s *Store
}

// Len returns the population size.
func (t *ReadTxn) Len() int {
	return len(t.s.records)
}

// List returns a copy of the population sorted by pid.
func (t *ReadTxn) List() []datatypes.ProcessRecord {
	return slices.Clone(t.s.records)
}

// Get returns the record for pid.
func (t *ReadTxn) Get(pid int) (datatypes.ProcessRecord, bool) {
	idx, found := t.s.index(pid)
	if !found {
		return datatypes.ProcessRecord{}, false
	}
	return t.s.records[idx], true
}

// FirstMatch returns the first record in store order (pid ascending) that
// satisfies pred.
func (t *ReadTxn) FirstMatch(pred func(datatypes.ProcessRecord) bool) (datatypes.ProcessRecord, bool) {
	for _, rec := range t.s.records {
		if pred(rec) {
			return rec, true
		}
	}
	return datatypes.ProcessRecord{}, false
}

// Txn adds mutations to ReadTxn. Only handed out by Store.Update.
type Txn struct {
	ReadTxn
}

// Insert adds rec, keeping pid order.
func (t *Txn) Insert(rec datatypes.ProcessRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	idx, found := t.s.index(rec.PID)
	if found {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, rec.PID)
	}
	t.s.records = slices.Insert(t.s.records, idx, rec)
	if rec.PID >= t.s.nextPID {
		t.s.nextPID = rec.PID + 1
	}
	return nil
}

// Remove deletes pid and reports whether it was live.
func (t *Txn) Remove(pid int) bool {
	idx, found := t.s.index(pid)
	if !found {
		return false
	}
	t.s.records = slices.Delete(t.s.records, idx, idx+1)
	return true
}

// ReplaceAll swaps the population for records.
//
// The input is copied and sorted. Duplicate pids fail with ErrDuplicateKey and
// leave the population untouched. The counter moves past the highest pid but
// never backwards; use ResetCounter first to start a fresh range.
func (t *Txn) ReplaceAll(records []datatypes.ProcessRecord) error {
	next := slices.Clone(records)
	slices.SortFunc(next, byPID)
	for i, rec := range next {
		if err := validate(rec); err != nil {
			return err
		}
		if i > 0 && next[i-1].PID == rec.PID {
			return fmt.Errorf("%w: %d", ErrDuplicateKey, rec.PID)
		}
	}
	t.s.records = next
	if n := len(next); n > 0 && next[n-1].PID >= t.s.nextPID {
		t.s.nextPID = next[n-1].PID + 1
	}
	return nil
}

// Each calls fn with a pointer to every record in pid order.
//
// fn may change volatile fields in place. The pid is restored afterwards and
// both percentages are clamped to [0, 100], so callers cannot break the store
// invariants through Each.
func (t *Txn) Each(fn func(rec *datatypes.ProcessRecord)) {
	for i := range t.s.records {
		rec := &t.s.records[i]
		pid := rec.PID
		fn(rec)
		rec.PID = pid
		rec.CPUPercent = ClampPercent(rec.CPUPercent)
		rec.MemPercent = ClampPercent(rec.MemPercent)
	}
}

// AllocatePID hands out the next pid and advances the counter.
func (t *Txn) AllocatePID() int {
	pid := t.s.nextPID
	t.s.nextPID++
	return pid
}

// ResetCounter restarts the pid counter at base.
func (t *Txn) ResetCounter(base int) {
	if base <= 0 {
		base = DefaultPIDBase
	}
	t.s.nextPID = base
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Store) index(pid int) (int, bool) {
	return slices.BinarySearchFunc(s.records, pid, func(rec datatypes.ProcessRecord, target int) int {
		return cmp.Compare(rec.PID, target)
	})
}

func byPID(a, b datatypes.ProcessRecord) int {
	return cmp.Compare(a.PID, b.PID)
}

func validate(rec datatypes.ProcessRecord) error {
	if rec.PID <= 0 {
		return fmt.Errorf("%w: pid must be positive, got %d", ErrInvalidRecord, rec.PID)
	}
	if rec.CPUPercent < 0 || rec.CPUPercent > 100 || rec.MemPercent < 0 || rec.MemPercent > 100 {
		return fmt.Errorf("%w: pid %d has cpu=%v mem=%v outside [0,100]",
			ErrInvalidRecord, rec.PID, rec.CPUPercent, rec.MemPercent)
	}
	return nil
}
