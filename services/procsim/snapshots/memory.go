// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshots

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// MemoryStore keeps snapshots in process memory. Ids are max(id)+1.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots []datatypes.Snapshot
	now       Clock
}

// NewMemoryStore returns an empty store. A nil clock uses UTC wall time.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = utcNow
	}
	return &MemoryStore{now: now}
}

// InsertSnapshot implements Store.
func (m *MemoryStore) InsertSnapshot(ctx context.Context, name, description string, data json.RawMessage) (datatypes.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var next int64 = 1
	for _, s := range m.snapshots {
		if s.ID >= next {
			next = s.ID + 1
		}
	}
	created := m.now()
	snap := datatypes.Snapshot{
		ID:          next,
		Name:        name,
		Description: description,
		Data:        slices.Clone(data),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	m.snapshots = append(m.snapshots, snap)
	return cloneSnapshot(snap), nil
}

// ListSnapshotSummaries implements Store.
func (m *MemoryStore) ListSnapshotSummaries(ctx context.Context) ([]datatypes.SnapshotSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]datatypes.SnapshotSummary, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, datatypes.SnapshotSummary{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			CreatedAt:   s.CreatedAt,
		})
	}
	slices.SortStableFunc(out, newestFirst)
	return out, nil
}

// GetSnapshotByID implements Store.
func (m *MemoryStore) GetSnapshotByID(ctx context.Context, id int64) (datatypes.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.snapshots {
		if s.ID == id {
			return cloneSnapshot(s), nil
		}
	}
	return datatypes.Snapshot{}, ErrNotFound
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func cloneSnapshot(s datatypes.Snapshot) datatypes.Snapshot {
	s.Data = slices.Clone(s.Data)
	return s
}

// newestFirst orders by created_at descending, then id descending.
func newestFirst(a, b datatypes.SnapshotSummary) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}
