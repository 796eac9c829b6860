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
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// =============================================================================
// Catalogs
// =============================================================================

// CommandCatalog is the fixed set of command templates new records draw from.
var CommandCatalog = []string{
	"/usr/bin/node server.js",
	"/usr/bin/python3 app.py",
	"/usr/sbin/sshd -D",
	"/usr/bin/java -jar app.jar",
	"/usr/bin/nginx -g daemon off;",
	"/usr/bin/mysqld",
	"/usr/bin/docker daemon",
	"/usr/bin/bash",
	"/usr/bin/top -b",
	"/usr/bin/redis-server",
	"/sbin/init splash",
}

// InitialOwners are the owners used when generating a whole population.
var InitialOwners = []string{"timur", "alice", "bob", datatypes.PrivilegedOwner, "www-data"}

// SpawnOwners are the owners used for records spawned by the simulation.
// root is absent on purpose so spawned records stay reapable.
var SpawnOwners = []string{"timur", "alice", "bob", "www-data", "daemon"}

// =============================================================================
// Generator
// =============================================================================

// Generator creates randomized process records.
//
// # Description
//
// Wraps a *rand.Rand so tests can seed it. Access is serialized internally,
// which lets the simulation engine and the facade share one instance.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator over rng. A nil rng gets a random seed.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rng: rng}
}

// NewSeededGenerator creates a deterministic generator.
func NewSeededGenerator(seed uint64) *Generator {
	return NewGenerator(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Initial returns a record shaped like the boot-time population.
func (g *Generator) Initial(pid int) datatypes.ProcessRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	command := g.pick(CommandCatalog)
	owner := g.pick(InitialOwners)
	cpu := RoundTenth(g.rng.Float64() * 30)
	mem := RoundTenth(g.rng.Float64() * 40)
	vsz := g.intBetween(10000, 500000)
	rss := g.intBetween(1000, 200000)
	if g.rng.Float64() > 0.6 {
		command = fmt.Sprintf("%s --port=%d", command, g.intBetween(1000, 9000))
	}

	return datatypes.ProcessRecord{
		PID:            pid,
		Owner:          owner,
		CPUPercent:     cpu,
		MemPercent:     mem,
		VirtualSizeKB:  vsz,
		ResidentSizeKB: rss,
		Terminal:       "?",
		State:          "S",
		StartedAt:      "10:00",
		CPUTime:        "00:00:10",
		Command:        command,
	}
}

// Spawned returns a record shaped like one created by a simulation step.
func (g *Generator) Spawned(pid int) datatypes.ProcessRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	owner := g.pick(SpawnOwners)
	command := g.pick(CommandCatalog)
	cpu := RoundTenth(g.rng.Float64() * 30)
	mem := RoundTenth(g.rng.Float64() * 30)
	vsz := g.intBetween(10000, 500000)
	rss := g.intBetween(1000, 200000)
	if g.rng.Float64() > 0.5 {
		command = fmt.Sprintf("%s --port=%d", command, g.intBetween(1000, 9000))
	}

	return datatypes.ProcessRecord{
		PID:            pid,
		Owner:          owner,
		CPUPercent:     cpu,
		MemPercent:     mem,
		VirtualSizeKB:  vsz,
		ResidentSizeKB: rss,
		Terminal:       "?",
		State:          "S",
		StartedAt:      "now",
		CPUTime:        "00:00:00",
		Command:        command,
	}
}

// Population returns count initial records with pids base, base+1, ...
func (g *Generator) Population(count, base int) []datatypes.ProcessRecord {
	records := make([]datatypes.ProcessRecord, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, g.Initial(base+i))
	}
	return records
}

func (g *Generator) pick(options []string) string {
	return options[g.rng.IntN(len(options))]
}

// intBetween returns a uniform integer in [min, max].
func (g *Generator) intBetween(min, max int64) int64 {
	return min + g.rng.Int64N(max-min+1)
}

// =============================================================================
// Numeric Helpers
// =============================================================================

// ClampPercent bounds v to [0, 100]. NaN maps to 0.
func ClampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// RoundTenth rounds v to one decimal place.
func RoundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
