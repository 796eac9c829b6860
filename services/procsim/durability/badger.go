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
	"errors"
	"fmt"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/storage/badger"
)

// BadgerStore persists the population in BadgerDB.
//
// # Description
//
// The whole population is one JSON array under PopulationKey. Each Save is a
// single badger transaction, so a crash mid-write leaves the previous value.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB serializes conflicting transactions.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database. The store takes ownership of db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens a database with cfg and wraps it.
//
// # Inputs
//
//   - cfg: Database configuration, see badger.DefaultConfig.
//
// # Outputs
//
//   - *BadgerStore: Ready for Load/Save.
//   - error: Wraps ErrDurability if the database cannot be opened.
func OpenBadgerStore(cfg badger.Config) (*BadgerStore, error) {
	db, err := badger.OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDurability, err)
	}
	return NewBadgerStore(db), nil
}

// Load implements PopulationStore.
func (s *BadgerStore) Load(ctx context.Context) ([]datatypes.ProcessRecord, bool, error) {
	var records []datatypes.ProcessRecord
	err := s.db.GetJSON(ctx, PopulationKey, &records)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: load population: %w", ErrDurability, err)
	}
	if records == nil {
		records = []datatypes.ProcessRecord{}
	}
	return records, true, nil
}

// Save implements PopulationStore.
func (s *BadgerStore) Save(ctx context.Context, records []datatypes.ProcessRecord) error {
	if records == nil {
		records = []datatypes.ProcessRecord{}
	}
	if err := s.db.PutJSON(ctx, PopulationKey, records); err != nil {
		return fmt.Errorf("%w: save population: %w", ErrDurability, err)
	}
	return nil
}

// Close implements PopulationStore.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
