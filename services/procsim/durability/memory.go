// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package durability

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// MemoryStore keeps the population in process memory.
//
// Used when no data directory is configured and in tests. FailWith makes
// every subsequent Save fail, to exercise error paths.
type MemoryStore struct {
	mu      sync.Mutex
	records []datatypes.ProcessRecord
	saved   bool
	saves   int
	failErr error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements PopulationStore.
func (m *MemoryStore) Load(ctx context.Context) ([]datatypes.ProcessRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return nil, false, nil
	}
	return slices.Clone(m.records), true, nil
}

// Save implements PopulationStore.
func (m *MemoryStore) Save(ctx context.Context, records []datatypes.ProcessRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return fmt.Errorf("%w: %w", ErrDurability, m.failErr)
	}
	m.records = slices.Clone(records)
	m.saved = true
	m.saves++
	return nil
}

// Close implements PopulationStore.
func (m *MemoryStore) Close() error {
	return nil
}

// Saves returns how many Save calls succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailWith makes Save return err. Nil restores normal behavior.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}
