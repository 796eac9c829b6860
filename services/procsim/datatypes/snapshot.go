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

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxSnapshotNameLength bounds the user supplied snapshot name.
	MaxSnapshotNameLength = 128

	// MaxSnapshotDescriptionLength bounds the user supplied description.
	MaxSnapshotDescriptionLength = 1024
)

// snapshotValidate is the validator instance for snapshot requests.
var snapshotValidate = validator.New()

// =============================================================================
// Snapshot Types
// =============================================================================

// Snapshot is an immutable, explicitly requested export of a population.
//
// # Description
//
// Data holds the population serialized as a JSON array of ProcessRecord,
// sorted by pid. Snapshots are never mutated and never expire.
type Snapshot struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Processes decodes the serialized population held by the snapshot.
func (s Snapshot) Processes() ([]ProcessRecord, error) {
	var records []ProcessRecord
	if len(s.Data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(s.Data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SnapshotSummary is the listing view of a snapshot (no population payload).
type SnapshotSummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateSnapshotRequest is the body of POST /snapshots.
type CreateSnapshotRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=1024"`
}

// Validate checks the request against its struct tags.
//
// # Outputs
//
//   - error: validator.ValidationErrors when a rule fails, nil otherwise.
func (r *CreateSnapshotRequest) Validate() error {
	return snapshotValidate.Struct(r)
}
