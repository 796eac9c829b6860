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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/observability"
	"github.com/AleutianAI/procsim/services/procsim/storage/badger"
)

func records(pids ...int) []datatypes.ProcessRecord {
	out := make([]datatypes.ProcessRecord, 0, len(pids))
	for _, pid := range pids {
		out = append(out, datatypes.ProcessRecord{
			PID:        pid,
			Owner:      "alice",
			CPUPercent: 12.5,
			MemPercent: 3.1,
			Terminal:   "?",
			State:      "S",
			StartedAt:  "10:00",
			CPUTime:    "00:00:10",
			Command:    "/usr/bin/bash",
		})
	}
	return out
}

// =============================================================================
// Backends
// =============================================================================

func backends(t *testing.T) map[string]PopulationStore {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	stores := map[string]PopulationStore{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(db),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestPopulationStore_LoadEmpty(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, ok, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestPopulationStore_SaveLoadPreservesOrder(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := records(1003, 1001, 1002)
			require.NoError(t, store.Save(ctx, want))

			got, ok, err := store.Load(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestPopulationStore_SaveEmptyPopulation(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, nil))

			got, ok, err := store.Load(ctx)
			require.NoError(t, err)
			assert.True(t, ok, "an empty saved population is still a saved population")
			assert.Empty(t, got)
		})
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(badger.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, records(1000, 1001)))
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(badger.DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, records(1000, 1001), got)
}

func TestMemoryStore_FailWith(t *testing.T) {
	store := NewMemoryStore()
	store.FailWith(errors.New("disk full"))

	err := store.Save(context.Background(), records(1))
	assert.ErrorIs(t, err, ErrDurability)

	store.FailWith(nil)
	assert.NoError(t, store.Save(context.Background(), records(1)))
	assert.Equal(t, 1, store.Saves())
}

// =============================================================================
// Persister
// =============================================================================

func loaded(t *testing.T, store PopulationStore) []datatypes.ProcessRecord {
	t.Helper()
	got, _, err := store.Load(context.Background())
	require.NoError(t, err)
	return got
}

func TestPersister_RequestCoalesces(t *testing.T) {
	store := NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	p := NewPersister(store, metrics)

	p.Request(records(1))
	p.Request(records(1, 2))
	p.Request(records(1, 2, 3))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Saves() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, records(1, 2, 3), loaded(t, store))
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PersistTotal.WithLabelValues(observability.PersistResultSkipped)))
}

func TestPersister_RequestNeverBlocks(t *testing.T) {
	p := NewPersister(NewMemoryStore(), nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			p.Request(records(i + 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Request blocked without a running worker")
	}
}

func TestPersister_SaveNowIsSynchronous(t *testing.T) {
	store := NewMemoryStore()
	p := NewPersister(store, nil)

	require.NoError(t, p.SaveNow(context.Background(), records(7)))
	assert.Equal(t, records(7), loaded(t, store))
}

func TestPersister_StaleRequestDoesNotOverwriteNewerSave(t *testing.T) {
	store := NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	p := NewPersister(store, metrics)

	p.Request(records(1, 2))
	require.NoError(t, p.SaveNow(context.Background(), records(1)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PersistTotal.WithLabelValues(observability.PersistResultSkipped)) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, records(1), loaded(t, store))
}

func TestPersister_FlushesOnShutdown(t *testing.T) {
	store := NewMemoryStore()
	p := NewPersister(store, nil)

	p.Request(records(9))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, records(9), loaded(t, store))
}

func TestPersister_FlushesOnShutdownEveryTime(t *testing.T) {
	// Run sees a cancelled ctx and a queued request together; whichever
	// select case wins, the request must reach the store.
	for i := 0; i < 200; i++ {
		store := NewMemoryStore()
		p := NewPersister(store, nil)
		p.Request(records(9))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, p.Run(ctx))

		got, ok, err := store.Load(context.Background())
		require.NoError(t, err)
		require.True(t, ok, "iteration %d lost the queued save", i)
		require.Equal(t, records(9), got, "iteration %d", i)
	}
}

func TestPersister_RequestSeqKeepsNewestCopy(t *testing.T) {
	store := NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	p := NewPersister(store, metrics)

	first, second := p.NextSeq(), p.NextSeq()
	p.RequestSeq(second, records(1))
	p.RequestSeq(first, records(1, 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, records(1), loaded(t, store))
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistTotal.WithLabelValues(observability.PersistResultSkipped)))
}

func TestPersister_SaveSeqSkipsOlderCopy(t *testing.T) {
	store := NewMemoryStore()
	p := NewPersister(store, nil)

	older, newer := p.NextSeq(), p.NextSeq()
	require.NoError(t, p.SaveSeq(context.Background(), newer, records(1)))
	require.NoError(t, p.SaveSeq(context.Background(), older, records(1, 2)))

	assert.Equal(t, records(1), loaded(t, store))
	assert.Equal(t, 1, store.Saves())
}

func TestPersister_FailuresAreCountedNotFatal(t *testing.T) {
	store := NewMemoryStore()
	store.FailWith(errors.New("disk full"))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	p := NewPersister(store, metrics)

	err := p.SaveNow(context.Background(), records(1))
	assert.ErrorIs(t, err, ErrDurability)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistTotal.WithLabelValues(observability.PersistResultError)))

	store.FailWith(nil)
	assert.NoError(t, p.SaveNow(context.Background(), records(2)))
	assert.Equal(t, records(2), loaded(t, store))
}
