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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// InMemoryDSN opens a private in-memory SQLite database.
const InMemoryDSN = ":memory:"

const createSnapshotsTable = `CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	data BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists snapshots in a single SQLite table.
//
// # Description
//
// Timestamps are stored as Unix nanoseconds so ordering is a plain integer
// comparison. The pool is limited to one connection, which keeps an
// InMemoryDSN database alive for the lifetime of the store and serializes
// writers.
//
// # Thread Safety
//
// Safe for concurrent use via database/sql.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  Clock
}

// OpenSQLiteStore opens (and creates if needed) the database at path.
//
// # Inputs
//
//   - path: Database file, or InMemoryDSN.
//   - now: Clock for created_at. Nil uses UTC wall time.
//
// # Outputs
//
//   - *SQLiteStore: Ready for use.
//   - error: Wraps ErrStorage on failure.
func OpenSQLiteStore(path string, now Clock) (*SQLiteStore, error) {
	if path == "" {
		path = "snapshots.db"
	}
	if path != InMemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: create dirs: %w", ErrStorage, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStorage, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSnapshotsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create snapshots table: %w", ErrStorage, err)
	}
	if now == nil {
		now = utcNow
	}
	return &SQLiteStore{db: db, path: path, now: now}, nil
}

// InsertSnapshot implements Store.
func (s *SQLiteStore) InsertSnapshot(ctx context.Context, name, description string, data json.RawMessage) (datatypes.Snapshot, error) {
	created := s.now()
	stamp := created.UnixNano()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(name, description, data, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
		name, description, []byte(data), stamp, stamp)
	if err != nil {
		return datatypes.Snapshot{}, fmt.Errorf("%w: insert snapshot: %w", ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return datatypes.Snapshot{}, fmt.Errorf("%w: snapshot id: %w", ErrStorage, err)
	}

	return datatypes.Snapshot{
		ID:          id,
		Name:        name,
		Description: description,
		Data:        append(json.RawMessage(nil), data...),
		CreatedAt:   time.Unix(0, stamp).UTC(),
		UpdatedAt:   time.Unix(0, stamp).UTC(),
	}, nil
}

// ListSnapshotSummaries implements Store.
func (s *SQLiteStore) ListSnapshotSummaries(ctx context.Context) ([]datatypes.SnapshotSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM snapshots ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: select snapshots: %w", ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]datatypes.SnapshotSummary, 0)
	for rows.Next() {
		var (
			sum     datatypes.SnapshotSummary
			created int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Description, &created); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStorage, err)
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate snapshots: %w", ErrStorage, err)
	}
	return out, nil
}

// GetSnapshotByID implements Store.
func (s *SQLiteStore) GetSnapshotByID(ctx context.Context, id int64) (datatypes.Snapshot, error) {
	var (
		snap             datatypes.Snapshot
		data             []byte
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, data, created_at, updated_at FROM snapshots WHERE id = ?`, id).
		Scan(&snap.ID, &snap.Name, &snap.Description, &data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return datatypes.Snapshot{}, fmt.Errorf("%w: select snapshot %d: %w", ErrStorage, id, err)
	}
	snap.Data = json.RawMessage(data)
	snap.CreatedAt = time.Unix(0, created).UTC()
	snap.UpdatedAt = time.Unix(0, updated).UTC()
	return snap, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the configured database path.
func (s *SQLiteStore) Path() string { return s.path }
