// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshots stores explicit, immutable exports of the population.
//
// # Description
//
// A snapshot is written once on request and never modified or expired.
// Listings are newest first and omit the population payload.
package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

var (
	// ErrNotFound is returned by GetSnapshotByID for unknown ids.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStorage wraps backend failures.
	ErrStorage = errors.New("snapshot storage failure")
)

// Store persists snapshots.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// InsertSnapshot stores a new snapshot and returns it with its id.
	InsertSnapshot(ctx context.Context, name, description string, data json.RawMessage) (datatypes.Snapshot, error)

	// ListSnapshotSummaries returns every snapshot without data, newest first.
	ListSnapshotSummaries(ctx context.Context) ([]datatypes.SnapshotSummary, error)

	// GetSnapshotByID returns one snapshot or ErrNotFound.
	GetSnapshotByID(ctx context.Context, id int64) (datatypes.Snapshot, error)

	// Close releases the backend.
	Close() error
}

// Clock returns the current time. Overridable in tests.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
