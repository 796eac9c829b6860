// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package simulation

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/observability"
	"github.com/AleutianAI/procsim/services/procsim/population"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recordingPersister struct {
	mu       sync.Mutex
	next     uint64
	seqs     []uint64
	requests [][]datatypes.ProcessRecord
}

func (p *recordingPersister) NextSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return p.next
}

func (p *recordingPersister) RequestSeq(seq uint64, records []datatypes.ProcessRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seqs = append(p.seqs, seq)
	p.requests = append(p.requests, records)
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type panickingPersister struct{}

func (panickingPersister) NextSeq() uint64 { return 1 }

func (panickingPersister) RequestSeq(uint64, []datatypes.ProcessRecord) { panic("disk on fire") }

// quietParams disables every random event so tests can turn them on one by one.
func quietParams() Params {
	p := DefaultParams()
	p.CPUSpikeProb = 0
	p.MemSpikeProb = 0
	p.SpawnProb = 0
	p.ReapProb = 0
	p.PersistProb = 0
	return p
}

func seededRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func newPopulatedStore(t *testing.T, n int) *population.Store {
	t.Helper()
	store := population.NewStore(population.DefaultPIDBase)
	gen := population.NewSeededGenerator(3)
	require.NoError(t, store.ReplaceAll(gen.Population(n, population.DefaultPIDBase)))
	return store
}

func rec(pid int, owner string) datatypes.ProcessRecord {
	return datatypes.ProcessRecord{PID: pid, Owner: owner, CPUPercent: 50, MemPercent: 50, Command: "/usr/bin/bash"}
}

// =============================================================================
// Walk and Spike Tests
// =============================================================================

func TestEngine_ValuesStayInBounds(t *testing.T) {
	store := newPopulatedStore(t, 50)
	params := DefaultParams()
	params.CPUSpikeProb = 0.2
	params.MemSpikeProb = 0.2
	engine := NewEngine(store, population.NewSeededGenerator(9), params, seededRNG(1))

	for i := 0; i < 1000; i++ {
		_, err := engine.Step(context.Background())
		require.NoError(t, err)
	}

	for _, r := range store.List() {
		assert.GreaterOrEqual(t, r.CPUPercent, 0.0)
		assert.LessOrEqual(t, r.CPUPercent, 100.0)
		assert.GreaterOrEqual(t, r.MemPercent, 0.0)
		assert.LessOrEqual(t, r.MemPercent, 100.0)
		assert.Equal(t, population.RoundTenth(r.CPUPercent), r.CPUPercent)
	}
}

func TestEngine_WalkIsBounded(t *testing.T) {
	store := population.NewStore(population.DefaultPIDBase)
	require.NoError(t, store.Insert(rec(1, "alice")))
	engine := NewEngine(store, nil, quietParams(), seededRNG(2))

	_, err := engine.Step(context.Background())
	require.NoError(t, err)

	got, ok := store.Get(1)
	require.True(t, ok)
	assert.InDelta(t, 50.0, got.CPUPercent, 2.05)
	assert.InDelta(t, 50.0, got.MemPercent, 1.55)
}

func TestEngine_SpikeWithinRange(t *testing.T) {
	store := population.NewStore(population.DefaultPIDBase)
	require.NoError(t, store.Insert(rec(1, "alice")))
	params := quietParams()
	params.CPUSpikeProb = 1
	params.MemSpikeProb = 1
	engine := NewEngine(store, nil, params, seededRNG(4))

	for i := 0; i < 50; i++ {
		_, err := engine.Step(context.Background())
		require.NoError(t, err)
		got, _ := store.Get(1)
		assert.GreaterOrEqual(t, got.CPUPercent, 20.0)
		assert.LessOrEqual(t, got.CPUPercent, 100.0)
		assert.GreaterOrEqual(t, got.MemPercent, 10.0)
		assert.LessOrEqual(t, got.MemPercent, 80.0)
	}
}

// =============================================================================
// Spawn and Reap Tests
// =============================================================================

func TestEngine_SpawnUsesNextPID(t *testing.T) {
	store := newPopulatedStore(t, 5)
	params := quietParams()
	params.SpawnProb = 1
	engine := NewEngine(store, population.NewSeededGenerator(5), params, seededRNG(5))

	result, err := engine.Step(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Spawned)
	assert.Equal(t, 1005, result.SpawnedPID)
	assert.Equal(t, 6, result.Population)

	spawned, ok := store.Get(1005)
	require.True(t, ok)
	assert.Contains(t, population.SpawnOwners, spawned.Owner)
	assert.Equal(t, "now", spawned.StartedAt)
}

func TestEngine_SpawnedPIDsAreUnique(t *testing.T) {
	store := newPopulatedStore(t, 25)
	params := DefaultParams()
	params.SpawnProb = 0.5
	params.ReapProb = 0.5
	engine := NewEngine(store, population.NewSeededGenerator(6), params, seededRNG(6))

	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		result, err := engine.Step(context.Background())
		require.NoError(t, err)
		if result.Spawned {
			assert.False(t, seen[result.SpawnedPID], "pid %d reissued", result.SpawnedPID)
			seen[result.SpawnedPID] = true
		}
	}
}

func TestEngine_ReapRespectsFloor(t *testing.T) {
	store := newPopulatedStore(t, 20)
	params := quietParams()
	params.ReapProb = 1
	engine := NewEngine(store, nil, params, seededRNG(7))

	result, err := engine.Step(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Reaped)
	assert.Equal(t, 20, store.Len())
}

func TestEngine_ReapsFirstNonRootRecord(t *testing.T) {
	store := population.NewStore(population.DefaultPIDBase)
	records := []datatypes.ProcessRecord{rec(1, "root"), rec(2, "root"), rec(3, "bob")}
	for pid := 4; pid <= 22; pid++ {
		records = append(records, rec(pid, "alice"))
	}
	require.NoError(t, store.ReplaceAll(records))

	params := quietParams()
	params.ReapProb = 1
	engine := NewEngine(store, nil, params, seededRNG(8))

	result, err := engine.Step(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Reaped)
	assert.Equal(t, 3, result.ReapedPID)
	_, ok := store.Get(3)
	assert.False(t, ok)
}

func TestEngine_NeverReapsRoot(t *testing.T) {
	store := population.NewStore(population.DefaultPIDBase)
	var records []datatypes.ProcessRecord
	for pid := 1; pid <= 25; pid++ {
		records = append(records, rec(pid, datatypes.PrivilegedOwner))
	}
	require.NoError(t, store.ReplaceAll(records))

	params := quietParams()
	params.ReapProb = 1
	engine := NewEngine(store, nil, params, seededRNG(9))

	for i := 0; i < 10; i++ {
		result, err := engine.Step(context.Background())
		require.NoError(t, err)
		assert.False(t, result.Reaped)
	}
	assert.Equal(t, 25, store.Len())
}

// =============================================================================
// Persistence Tests
// =============================================================================

func TestEngine_PersistRequestCarriesSnapshot(t *testing.T) {
	store := newPopulatedStore(t, 5)
	params := quietParams()
	params.PersistProb = 1
	persister := &recordingPersister{}
	engine := NewEngine(store, nil, params, seededRNG(10), WithPersister(persister))

	result, err := engine.Step(context.Background())
	require.NoError(t, err)

	assert.True(t, result.PersistRequested)
	require.Equal(t, 1, persister.count())
	assert.Equal(t, store.List(), persister.requests[0])
}

func TestEngine_PersistRequestsCarryIncreasingSeqs(t *testing.T) {
	store := newPopulatedStore(t, 5)
	params := quietParams()
	params.PersistProb = 1
	persister := &recordingPersister{}
	engine := NewEngine(store, nil, params, seededRNG(12), WithPersister(persister))

	for i := 0; i < 3; i++ {
		_, err := engine.Step(context.Background())
		require.NoError(t, err)
	}

	persister.mu.Lock()
	defer persister.mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3}, persister.seqs)
}

func TestEngine_NoPersistRequestWhenDrawMisses(t *testing.T) {
	store := newPopulatedStore(t, 5)
	persister := &recordingPersister{}
	engine := NewEngine(store, nil, quietParams(), seededRNG(11), WithPersister(persister))

	_, err := engine.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, persister.count())
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestEngine_FailedStepRollsBack(t *testing.T) {
	store := population.NewStore(population.DefaultPIDBase)
	require.NoError(t, store.Insert(rec(1000, "alice")))
	// Rewind the counter so the next spawn collides with pid 1000.
	require.NoError(t, store.Update(func(tx *population.Txn) error {
		tx.ResetCounter(1000)
		return nil
	}))
	before := store.List()

	params := quietParams()
	params.SpawnProb = 1
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine := NewEngine(store, nil, params, seededRNG(12), WithMetrics(metrics))

	_, err := engine.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, population.ErrDuplicateKey)
	assert.Equal(t, before, store.List())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StepFailuresTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.StepsTotal))
}

func TestEngine_RecoversPanic(t *testing.T) {
	store := newPopulatedStore(t, 5)
	params := quietParams()
	params.PersistProb = 1
	engine := NewEngine(store, nil, params, seededRNG(13), WithPersister(panickingPersister{}))

	var err error
	assert.NotPanics(t, func() {
		_, err = engine.Step(context.Background())
	})
	assert.ErrorIs(t, err, ErrStepPanicked)

	// The engine stays usable after a recovered panic.
	engine = NewEngine(store, nil, quietParams(), seededRNG(14))
	_, err = engine.Step(context.Background())
	assert.NoError(t, err)
}

func TestEngine_CancelledContextSkipsStep(t *testing.T) {
	store := newPopulatedStore(t, 5)
	before := store.List()
	engine := NewEngine(store, nil, DefaultParams(), seededRNG(15))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, store.List())
}

func TestEngine_ConcurrentReadersSeeUniquePIDs(t *testing.T) {
	store := newPopulatedStore(t, 30)
	params := DefaultParams()
	params.SpawnProb = 0.5
	params.ReapProb = 0.5
	engine := NewEngine(store, population.NewSeededGenerator(16), params, seededRNG(16))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			seen := make(map[int]bool)
			for _, r := range store.List() {
				if seen[r.PID] {
					t.Errorf("duplicate pid %d observed", r.PID)
					return
				}
				seen[r.PID] = true
			}
		}
	}()

	for i := 0; i < 300; i++ {
		_, err := engine.Step(context.Background())
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestEngine_SetParamsTakesEffectOnNextStep(t *testing.T) {
	store := newPopulatedStore(t, 10)
	engine := NewEngine(store, population.NewSeededGenerator(1), quietParams(), seededRNG(9))

	res, err := engine.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Spawned)

	p := quietParams()
	p.SpawnProb = 1
	require.NoError(t, engine.SetParams(p))
	assert.Equal(t, 1.0, engine.Params().SpawnProb)

	res, err = engine.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Spawned)
}

func TestEngine_SetParamsRejectsInvalid(t *testing.T) {
	engine := NewEngine(newPopulatedStore(t, 1), nil, DefaultParams(), seededRNG(1))

	bad := DefaultParams()
	bad.CPUSpikeMin = 90
	bad.CPUSpikeMax = 10
	require.Error(t, engine.SetParams(bad))

	bad = DefaultParams()
	bad.ReapProb = 2
	require.Error(t, engine.SetParams(bad))

	assert.Equal(t, DefaultParams(), engine.Params())
}

func TestDefaultParams_AreValid(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
}
