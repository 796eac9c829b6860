// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package population

import (
	"errors"
	"sync"
	"testing"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(pid int, owner string) datatypes.ProcessRecord {
	return datatypes.ProcessRecord{PID: pid, Owner: owner, CPUPercent: 1, MemPercent: 1, Command: "/usr/bin/bash"}
}

func pids(records []datatypes.ProcessRecord) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.PID
	}
	return out
}

// =============================================================================
// Basic Operations
// =============================================================================

func TestStore_ListSortedByPID(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(30, "alice")))
	require.NoError(t, s.Insert(rec(10, "bob")))
	require.NoError(t, s.Insert(rec(20, "root")))

	assert.Equal(t, []int{10, 20, 30}, pids(s.List()))
}

func TestStore_ListIsDefensiveCopy(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(1, "alice")))

	list := s.List()
	list[0].Owner = "mallory"
	list[0].CPUPercent = 99

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, 1.0, got.CPUPercent)
}

func TestStore_InsertDuplicate(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(5, "alice")))

	err := s.Insert(rec(5, "bob"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.Equal(t, 1, s.Len())
}

func TestStore_InsertRejectsInvalid(t *testing.T) {
	s := NewStore(DefaultPIDBase)

	bad := rec(1, "alice")
	bad.CPUPercent = 101
	assert.ErrorIs(t, s.Insert(bad), ErrInvalidRecord)
	assert.ErrorIs(t, s.Insert(rec(0, "alice")), ErrInvalidRecord)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Remove(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(1, "alice")))

	assert.True(t, s.Remove(1))
	assert.False(t, s.Remove(1))
	_, ok := s.Get(1)
	assert.False(t, ok)
}

func TestStore_ReplaceAll(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(1, "alice")))

	require.NoError(t, s.ReplaceAll([]datatypes.ProcessRecord{rec(9, "bob"), rec(7, "root")}))
	assert.Equal(t, []int{7, 9}, pids(s.List()))

	err := s.ReplaceAll([]datatypes.ProcessRecord{rec(3, "bob"), rec(3, "root")})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, []int{7, 9}, pids(s.List()), "failed replace must leave the population untouched")
}

// =============================================================================
// PID Counter
// =============================================================================

func TestStore_CounterNeverReissues(t *testing.T) {
	s := NewStore(100)

	var first, second int
	require.NoError(t, s.Update(func(tx *Txn) error {
		first = tx.AllocatePID()
		return tx.Insert(rec(first, "alice"))
	}))
	require.True(t, s.Remove(first))
	require.NoError(t, s.Update(func(tx *Txn) error {
		second = tx.AllocatePID()
		return tx.Insert(rec(second, "alice"))
	}))

	assert.Equal(t, 100, first)
	assert.Equal(t, 101, second)
}

func TestStore_InsertAdvancesCounter(t *testing.T) {
	s := NewStore(100)
	require.NoError(t, s.Insert(rec(500, "alice")))
	assert.Equal(t, 501, s.NextPID())
}

func TestStore_ResetCounter(t *testing.T) {
	s := NewStore(100)
	require.NoError(t, s.Insert(rec(500, "alice")))

	require.NoError(t, s.Update(func(tx *Txn) error {
		tx.ResetCounter(DefaultPIDBase)
		fresh := []datatypes.ProcessRecord{rec(tx.AllocatePID(), "bob"), rec(tx.AllocatePID(), "bob")}
		return tx.ReplaceAll(fresh)
	}))

	assert.Equal(t, []int{1000, 1001}, pids(s.List()))
	assert.Equal(t, 1002, s.NextPID())
}

// =============================================================================
// Transactions
// =============================================================================

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(1, "alice")))
	before := s.NextPID()

	boom := errors.New("boom")
	err := s.Update(func(tx *Txn) error {
		tx.Remove(1)
		_ = tx.AllocatePID()
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, pids(s.List()))
	assert.Equal(t, before, s.NextPID())
}

func TestStore_UpdateRollsBackOnPanic(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(1, "alice")))

	assert.Panics(t, func() {
		_ = s.Update(func(tx *Txn) error {
			tx.Remove(1)
			panic("step exploded")
		})
	})

	assert.Equal(t, []int{1}, pids(s.List()))
	// The lock must have been released.
	assert.True(t, s.Remove(1))
}

func TestTxn_EachClampsAndKeepsPID(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.Insert(rec(1, "alice")))

	require.NoError(t, s.Update(func(tx *Txn) error {
		tx.Each(func(r *datatypes.ProcessRecord) {
			r.PID = 42
			r.CPUPercent = 250
			r.MemPercent = -3
		})
		return nil
	}))

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.CPUPercent)
	assert.Equal(t, 0.0, got.MemPercent)
}

func TestTxn_FirstMatch(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	require.NoError(t, s.ReplaceAll([]datatypes.ProcessRecord{rec(3, "alice"), rec(1, "root"), rec(2, "bob")}))

	var got datatypes.ProcessRecord
	var ok bool
	require.NoError(t, s.View(func(tx *ReadTxn) error {
		got, ok = tx.FirstMatch(func(r datatypes.ProcessRecord) bool { return !r.IsPrivileged() })
		return nil
	}))
	require.True(t, ok)
	assert.Equal(t, 2, got.PID)
}

// =============================================================================
// Concurrency
// =============================================================================

func TestStore_ConcurrentInsertRemoveKeepsPIDsUnique(t *testing.T) {
	s := NewStore(DefaultPIDBase)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				var pid int
				_ = s.Update(func(tx *Txn) error {
					pid = tx.AllocatePID()
					return tx.Insert(rec(pid, "alice"))
				})
				if i%3 == 0 {
					s.Remove(pid)
				}
				_ = s.List()
			}
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, r := range s.List() {
		assert.False(t, seen[r.PID], "duplicate pid %d", r.PID)
		seen[r.PID] = true
	}
}
