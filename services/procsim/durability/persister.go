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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/observability"
)

// DefaultSaveTimeout bounds a single background save.
const DefaultSaveTimeout = 5 * time.Second

// =============================================================================
// Persister
// =============================================================================

// Persister moves population writes off the request and step paths.
//
// # Description
//
// Request is fire-and-forget: it never blocks and keeps only the newest
// pending copy, so a slow backend sees at most one queued write. SaveNow
// writes synchronously. Every write carries a sequence number, which callers
// should take with NextSeq while they still hold the population lock. A
// write older than the last one stored is skipped, so a late background save
// cannot overwrite a newer synchronous one.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Run must be called at most once.
type Persister struct {
	store   PopulationStore
	metrics *observability.Metrics
	timeout time.Duration

	pending chan pendingSave
	seq     atomic.Uint64

	saveMu    sync.Mutex
	lastSaved uint64
}

type pendingSave struct {
	seq     uint64
	records []datatypes.ProcessRecord
}

// NewPersister creates a persister over store.
func NewPersister(store PopulationStore, metrics *observability.Metrics) *Persister {
	return &Persister{
		store:   store,
		metrics: metrics,
		timeout: DefaultSaveTimeout,
		pending: make(chan pendingSave, 1),
	}
}

// NextSeq reserves the sequence number for a population copy. Taking it in
// the same critical section that copied the records orders writes the same
// way the copies were made.
func (p *Persister) NextSeq() uint64 {
	return p.seq.Add(1)
}

// Request queues records for a background save under a fresh sequence number.
func (p *Persister) Request(records []datatypes.ProcessRecord) {
	p.RequestSeq(p.NextSeq(), records)
}

// RequestSeq queues records taken at seq for a background save.
//
// # Description
//
// Never blocks. Only one save is ever queued: when one is already pending,
// the newer of the two (by sequence) is kept and the other is counted as
// skipped. The caller must not modify records afterwards.
func (p *Persister) RequestSeq(seq uint64, records []datatypes.ProcessRecord) {
	next := pendingSave{seq: seq, records: records}
	for {
		select {
		case p.pending <- next:
			return
		default:
		}
		select {
		case queued := <-p.pending:
			p.metrics.RecordPersist(observability.PersistResultSkipped)
			if queued.seq > next.seq {
				next = queued
			}
		default:
		}
	}
}

// SaveNow writes records synchronously under a fresh sequence number.
func (p *Persister) SaveNow(ctx context.Context, records []datatypes.ProcessRecord) error {
	return p.SaveSeq(ctx, p.NextSeq(), records)
}

// SaveSeq writes records taken at seq synchronously. A write older than the
// last one stored is skipped and reports success.
//
// # Outputs
//
//   - error: The backend failure, already logged and counted. Callers on the
//     request path ignore it.
func (p *Persister) SaveSeq(ctx context.Context, seq uint64, records []datatypes.ProcessRecord) error {
	return p.save(ctx, pendingSave{seq: seq, records: records})
}

// Run services queued requests until ctx is cancelled.
//
// # Description
//
// On cancellation the last queued request, if any, is flushed with a fresh
// timeout so it is not lost at shutdown. Saves never inherit ctx's
// cancellation: a request picked up after ctx is done still gets its full
// timeout. Always returns nil; errors are logged per save.
func (p *Persister) Run(ctx context.Context) error {
	slog.Info("Population persister started")
	for {
		select {
		case <-ctx.Done():
			p.flush()
			slog.Info("Population persister stopped")
			return nil
		case next := <-p.pending:
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
			_ = p.save(saveCtx, next)
			cancel()
		}
	}
}

func (p *Persister) flush() {
	select {
	case next := <-p.pending:
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		_ = p.save(ctx, next)
	default:
	}
}

func (p *Persister) save(ctx context.Context, next pendingSave) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	if next.seq < p.lastSaved {
		p.metrics.RecordPersist(observability.PersistResultSkipped)
		return nil
	}

	start := time.Now()
	if err := p.store.Save(ctx, next.records); err != nil {
		p.metrics.RecordPersist(observability.PersistResultError)
		slog.Error("Failed to persist population",
			"error", err,
			"records", len(next.records),
		)
		return err
	}

	p.lastSaved = next.seq
	p.metrics.RecordPersist(observability.PersistResultOK)
	slog.Debug("Population persisted",
		"records", len(next.records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
