// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facade is the query and command surface over the live population.
//
// # Description
//
// Facade exposes list, get, kill, reset and aggregate stats. Every operation
// reads or mutates the population through the Entity Store's lock, so it is
// atomic with respect to simulation steps. Persistence after a kill or reset
// is synchronous but runs after the lock is released, and its failures are
// logged rather than returned.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/observability"
	"github.com/AleutianAI/procsim/services/procsim/population"
)

// MaxResetCount bounds the population size a reset may request.
const MaxResetCount = 100_000

var (
	// ErrNotFound is returned when a pid is not live.
	ErrNotFound = errors.New("process not found")

	// ErrPermissionDenied is returned when a requester may not kill a pid.
	ErrPermissionDenied = errors.New("operation not permitted")

	// ErrInvalidInput is returned for out-of-range arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// Kill Results
// =============================================================================

// KillOutcome is the result category of a kill request.
type KillOutcome int

const (
	// KillOutcomeKilled means the record was removed.
	KillOutcomeKilled KillOutcome = iota

	// KillOutcomeNotFound means no live record had the pid.
	KillOutcomeNotFound

	// KillOutcomePermissionDenied means the requester does not own the record.
	KillOutcomePermissionDenied
)

// String returns the metrics label of the outcome.
func (o KillOutcome) String() string {
	switch o {
	case KillOutcomeKilled:
		return observability.KillOutcomeKilled
	case KillOutcomeNotFound:
		return observability.KillOutcomeNotFound
	case KillOutcomePermissionDenied:
		return observability.KillOutcomePermissionDenied
	default:
		return fmt.Sprintf("KillOutcome(%d)", int(o))
	}
}

// KillResult reports what a kill request did.
//
// # Fields
//
//   - Outcome: Killed, NotFound or PermissionDenied.
//   - PID: The requested pid.
//   - Owner: Owner of the record, empty when not found.
//   - Message: Human readable text suitable for an API response.
type KillResult struct {
	Outcome KillOutcome
	PID     int
	Owner   string
	Message string
}

// Err maps the outcome to a sentinel error, nil on success.
func (r KillResult) Err() error {
	switch r.Outcome {
	case KillOutcomeNotFound:
		return ErrNotFound
	case KillOutcomePermissionDenied:
		return ErrPermissionDenied
	default:
		return nil
	}
}

// =============================================================================
// Facade
// =============================================================================

// Saver writes the population synchronously. *durability.Persister implements it.
//
// NextSeq is taken while the store lock is held so that a copy made later
// always carries the higher sequence.
type Saver interface {
	NextSeq() uint64
	SaveSeq(ctx context.Context, seq uint64, records []datatypes.ProcessRecord) error
}

// Facade is the Query/Command Facade.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Facade struct {
	store   *population.Store
	gen     *population.Generator
	saver   Saver
	metrics *observability.Metrics
	tracer  trace.Tracer
	pidBase int
}

// New creates a facade.
//
// # Inputs
//
//   - store: The live population.
//   - gen: Generator used by resets. Nil gets a randomly seeded generator.
//   - saver: Synchronous persistence for kills and resets. May be nil.
//   - metrics: Kill and reset counters. May be nil.
//
// # Outputs
//
//   - *Facade: Ready for use.
func New(store *population.Store, gen *population.Generator, saver Saver, metrics *observability.Metrics) *Facade {
	if gen == nil {
		gen = population.NewGenerator(nil)
	}
	return &Facade{
		store:   store,
		gen:     gen,
		saver:   saver,
		metrics: metrics,
		tracer:  otel.Tracer("procsim/facade"),
		pidBase: population.DefaultPIDBase,
	}
}

// ListProcesses returns a copy of the population sorted by pid.
func (f *Facade) ListProcesses(ctx context.Context) []datatypes.ProcessRecord {
	_, span := f.tracer.Start(ctx, "facade.ListProcesses")
	defer span.End()

	records := f.store.List()
	span.SetAttributes(attribute.Int("count", len(records)))
	return records
}

// GetProcess returns the record for pid or ErrNotFound.
func (f *Facade) GetProcess(ctx context.Context, pid int) (datatypes.ProcessRecord, error) {
	_, span := f.tracer.Start(ctx, "facade.GetProcess", trace.WithAttributes(attribute.Int("pid", pid)))
	defer span.End()

	rec, ok := f.store.Get(pid)
	if !ok {
		return datatypes.ProcessRecord{}, fmt.Errorf("%w: %d", ErrNotFound, pid)
	}
	return rec, nil
}

// KillProcess removes pid if requester is allowed to.
//
// # Description
//
// The existence check, the permission check and the removal happen in one
// store transaction, so a concurrent step cannot reap or replace the record
// in between. An empty requester is trusted, as is the privileged owner;
// anyone else must own the record. On success the population is persisted
// synchronously before returning. A persistence failure is logged only.
//
// # Inputs
//
//   - ctx: Context for tracing and persistence.
//   - pid: Target pid.
//   - requester: Simulated user issuing the kill, or "" for trusted callers.
//
// # Outputs
//
//   - KillResult: Always populated; Outcome tells what happened.
func (f *Facade) KillProcess(ctx context.Context, pid int, requester string) KillResult {
	ctx, span := f.tracer.Start(ctx, "facade.KillProcess", trace.WithAttributes(
		attribute.Int("pid", pid),
		attribute.String("requester", requester),
	))
	defer span.End()

	result := KillResult{PID: pid}
	var (
		snapshot []datatypes.ProcessRecord
		seq      uint64
	)

	_ = f.store.Update(func(tx *population.Txn) error {
		rec, ok := tx.Get(pid)
		if !ok {
			result.Outcome = KillOutcomeNotFound
			result.Message = fmt.Sprintf("Process %d not found", pid)
			return nil
		}
		result.Owner = rec.Owner
		if !mayKill(requester, rec) {
			result.Outcome = KillOutcomePermissionDenied
			result.Message = fmt.Sprintf("Operation not permitted: process owned by '%s'", rec.Owner)
			return nil
		}
		tx.Remove(pid)
		snapshot = tx.List()
		seq = f.nextSeq()
		result.Outcome = KillOutcomeKilled
		result.Message = fmt.Sprintf("Process %d terminated successfully (mock)", pid)
		return nil
	})

	f.metrics.RecordKill(result.Outcome.String())
	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))

	if result.Outcome != KillOutcomeKilled {
		slog.Info("Kill request refused",
			"pid", pid,
			"requester", requester,
			"outcome", result.Outcome.String(),
		)
		return result
	}

	f.metrics.SetPopulation(len(snapshot))
	slog.Info("Process killed", "pid", pid, "owner", result.Owner, "requester", requester)
	f.persist(ctx, seq, snapshot, "kill")
	return result
}

// ResetPopulation discards the population and generates count new records.
//
// # Description
//
// The pid counter restarts at the base (1000), so the new population holds
// pids base..base+count-1 and the next spawn gets base+count. The new
// population is persisted immediately.
//
// # Inputs
//
//   - ctx: Context for tracing and persistence.
//   - count: New population size, 0..MaxResetCount.
//
// # Outputs
//
//   - []datatypes.ProcessRecord: The new population sorted by pid.
//   - error: ErrInvalidInput when count is out of range.
func (f *Facade) ResetPopulation(ctx context.Context, count int) ([]datatypes.ProcessRecord, error) {
	ctx, span := f.tracer.Start(ctx, "facade.ResetPopulation", trace.WithAttributes(attribute.Int("count", count)))
	defer span.End()

	if count < 0 || count > MaxResetCount {
		return nil, fmt.Errorf("%w: count must be between 0 and %d, got %d", ErrInvalidInput, MaxResetCount, count)
	}

	var (
		fresh []datatypes.ProcessRecord
		seq   uint64
	)
	err := f.store.Update(func(tx *population.Txn) error {
		tx.ResetCounter(f.pidBase)
		records := make([]datatypes.ProcessRecord, 0, count)
		for i := 0; i < count; i++ {
			records = append(records, f.gen.Initial(tx.AllocatePID()))
		}
		if err := tx.ReplaceAll(records); err != nil {
			return err
		}
		fresh = tx.List()
		seq = f.nextSeq()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset population: %w", err)
	}

	f.metrics.RecordReset()
	f.metrics.SetPopulation(len(fresh))
	slog.Info("Population reset", "count", count)
	f.persist(ctx, seq, fresh, "reset")
	return fresh, nil
}

// ComputeAggregateStats sums cpu and mem over the live population.
func (f *Facade) ComputeAggregateStats(ctx context.Context) datatypes.AggregateStats {
	_, span := f.tracer.Start(ctx, "facade.ComputeAggregateStats")
	defer span.End()

	var stats datatypes.AggregateStats
	_ = f.store.View(func(tx *population.ReadTxn) error {
		stats = Aggregate(tx.List())
		return nil
	})
	return stats
}

// Observe returns the population and its stats from one consistent read.
func (f *Facade) Observe(ctx context.Context) ([]datatypes.ProcessRecord, datatypes.AggregateStats) {
	_, span := f.tracer.Start(ctx, "facade.Observe")
	defer span.End()

	var (
		records []datatypes.ProcessRecord
		stats   datatypes.AggregateStats
	)
	_ = f.store.View(func(tx *population.ReadTxn) error {
		records = tx.List()
		stats = Aggregate(records)
		return nil
	})
	return records, stats
}

// PersistNow writes the current population synchronously. Used at shutdown.
func (f *Facade) PersistNow(ctx context.Context) error {
	if f.saver == nil {
		return nil
	}
	var (
		records []datatypes.ProcessRecord
		seq     uint64
	)
	_ = f.store.View(func(tx *population.ReadTxn) error {
		records = tx.List()
		seq = f.saver.NextSeq()
		return nil
	})
	return f.saver.SaveSeq(ctx, seq, records)
}

// Aggregate sums a population into rounded totals.
func Aggregate(records []datatypes.ProcessRecord) datatypes.AggregateStats {
	var cpu, mem float64
	for _, r := range records {
		cpu += r.CPUPercent
		mem += r.MemPercent
	}
	return datatypes.AggregateStats{
		ProcessCount: len(records),
		TotalCPU:     population.RoundTenth(cpu),
		TotalMem:     population.RoundTenth(mem),
	}
}

// =============================================================================
// Helpers
// =============================================================================

func mayKill(requester string, rec datatypes.ProcessRecord) bool {
	return requester == "" || requester == datatypes.PrivilegedOwner || requester == rec.Owner
}

func (f *Facade) nextSeq() uint64 {
	if f.saver == nil {
		return 0
	}
	return f.saver.NextSeq()
}

func (f *Facade) persist(ctx context.Context, seq uint64, records []datatypes.ProcessRecord, cause string) {
	if f.saver == nil {
		return
	}
	if err := f.saver.SaveSeq(ctx, seq, records); err != nil {
		slog.Warn("Population not persisted", "cause", cause, "error", err)
	}
}
