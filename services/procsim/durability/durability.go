// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package durability persists the process population between runs.
//
// # Description
//
// Persistence is best-effort. The population is stored as one ordered JSON
// array under a single key, reloaded verbatim at startup. Write failures are
// logged and counted but never reach the caller of a kill, reset or step.
package durability

import (
	"context"
	"errors"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// PopulationKey is the key the population document is stored under.
const PopulationKey = "population/current"

// ErrDurability wraps every persistence I/O failure.
var ErrDurability = errors.New("durability failure")

// PopulationStore persists the whole population as one document.
//
// # Description
//
// Load returns ok=false when nothing has been saved yet. Save replaces the
// stored population atomically.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type PopulationStore interface {
	// Load returns the saved population in stored order.
	Load(ctx context.Context) ([]datatypes.ProcessRecord, bool, error)

	// Save replaces the saved population.
	Save(ctx context.Context, records []datatypes.ProcessRecord) error

	// Close releases the backend.
	Close() error
}
