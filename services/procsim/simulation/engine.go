// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package simulation evolves the process population over time.
//
// # Description
//
// Engine applies one discrete mutation step to the population: a bounded
// random walk on cpu and mem, rare spikes, occasional spawn and reap events,
// and a probabilistic persistence request. Scheduler drives Engine.Step on a
// fixed cadence from a single goroutine.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/observability"
	"github.com/AleutianAI/procsim/services/procsim/population"
)

// ErrStepPanicked wraps a panic recovered from inside a mutation step.
var ErrStepPanicked = errors.New("simulation step panicked")

var paramsValidate = validator.New()

// =============================================================================
// Parameters
// =============================================================================

// Params holds every probability and range used by a step.
//
// # Fields
//
//   - CPUWalk: Half-width of the per-step cpu walk. Default: 2.
//   - MemWalk: Half-width of the per-step mem walk. Default: 1.5.
//   - CPUSpikeProb, CPUSpikeMin, CPUSpikeMax: cpu spike chance and range. Default: 0.005, [20,100).
//   - MemSpikeProb, MemSpikeMin, MemSpikeMax: mem spike chance and range. Default: 0.003, [10,80).
//   - SpawnProb: Chance of spawning one record. Default: 0.04.
//   - ReapProb: Chance of reaping one record. Default: 0.03.
//   - ReapFloor: Reaping only happens while the population is above this. Default: 20.
//   - PersistProb: Chance of requesting persistence. Default: 0.2.
type Params struct {
	CPUWalk float64 `yaml:"cpu_walk" validate:"gte=0,lte=100"`
	MemWalk float64 `yaml:"mem_walk" validate:"gte=0,lte=100"`

	CPUSpikeProb float64 `yaml:"cpu_spike_prob" validate:"gte=0,lte=1"`
	CPUSpikeMin  float64 `yaml:"cpu_spike_min" validate:"gte=0,lte=100"`
	CPUSpikeMax  float64 `yaml:"cpu_spike_max" validate:"gte=0,lte=100,gtefield=CPUSpikeMin"`

	MemSpikeProb float64 `yaml:"mem_spike_prob" validate:"gte=0,lte=1"`
	MemSpikeMin  float64 `yaml:"mem_spike_min" validate:"gte=0,lte=100"`
	MemSpikeMax  float64 `yaml:"mem_spike_max" validate:"gte=0,lte=100,gtefield=MemSpikeMin"`

	SpawnProb   float64 `yaml:"spawn_prob" validate:"gte=0,lte=1"`
	ReapProb    float64 `yaml:"reap_prob" validate:"gte=0,lte=1"`
	ReapFloor   int     `yaml:"reap_floor" validate:"gte=0"`
	PersistProb float64 `yaml:"persist_prob" validate:"gte=0,lte=1"`
}

// DefaultParams returns the standard simulation tuning.
func DefaultParams() Params {
	return Params{
		CPUWalk:      2,
		MemWalk:      1.5,
		CPUSpikeProb: 0.005,
		CPUSpikeMin:  20,
		CPUSpikeMax:  100,
		MemSpikeProb: 0.003,
		MemSpikeMin:  10,
		MemSpikeMax:  80,
		SpawnProb:    0.04,
		ReapProb:     0.03,
		ReapFloor:    20,
		PersistProb:  0.2,
	}
}

// Validate checks ranges and probabilities against the struct tags.
func (p Params) Validate() error {
	if err := paramsValidate.Struct(p); err != nil {
		return fmt.Errorf("invalid simulation params: %w", err)
	}
	return nil
}

// StepResult summarizes what a single step did.
type StepResult struct {
	Spawned          bool
	SpawnedPID       int
	Reaped           bool
	ReapedPID        int
	PersistRequested bool
	Population       int
}

// PersistRequester accepts fire-and-forget persistence requests.
//
// NextSeq is called inside the step's write transaction so requests are
// ordered like the copies they carry. RequestSeq must not block.
// Implementations are free to coalesce requests.
type PersistRequester interface {
	NextSeq() uint64
	RequestSeq(seq uint64, records []datatypes.ProcessRecord)
}

// =============================================================================
// Engine
// =============================================================================

// Option configures an Engine.
type Option func(*Engine)

// WithPersister sets where persistence requests are sent.
func WithPersister(p PersistRequester) Option {
	return func(e *Engine) { e.persister = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the tracer used for step spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Engine is the Mutation Engine.
//
// # Description
//
// Every step runs inside a single Store.Update, so readers never observe a
// half-applied step and pid uniqueness holds throughout. The random source is
// only touched inside that transaction, so the store's write lock serializes
// access to it.
//
// # Thread Safety
//
// Step is safe for concurrent use, although the Scheduler only calls it from
// one goroutine.
type Engine struct {
	store     *population.Store
	gen       *population.Generator
	params    Params
	rng       *rand.Rand
	persister PersistRequester
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// NewEngine creates an engine over store.
//
// # Inputs
//
//   - store: The population to mutate.
//   - gen: Generator used for spawned records.
//   - params: Step tuning. See DefaultParams.
//   - rng: Random source for step decisions. Nil gets a random seed.
//   - opts: Optional persister, metrics, tracer.
//
// # Outputs
//
//   - *Engine: Ready to Step.
func NewEngine(store *population.Store, gen *population.Generator, params Params, rng *rand.Rand, opts ...Option) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if gen == nil {
		gen = population.NewGenerator(nil)
	}
	e := &Engine{
		store:  store,
		gen:    gen,
		params: params,
		rng:    rng,
		tracer: otel.Tracer("procsim/simulation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Step applies one mutation step.
//
// # Description
//
// In order, under the write lock:
//  1. Walk cpu and mem of every record, then apply independent spikes.
//  2. Maybe spawn one record with the next pid.
//  3. Maybe reap the first non-root record, only while above the floor.
//  4. Maybe copy the population for persistence.
//
// The copy is handed to the persister after the lock is released. An error or
// panic inside the transaction leaves the population exactly as it was before
// the step. Panics are recovered and returned as ErrStepPanicked.
//
// # Inputs
//
//   - ctx: Used for tracing and cancellation before the step starts.
//
// # Outputs
//
//   - StepResult: What changed.
//   - error: Non-nil if the step was rolled back.
func (e *Engine) Step(ctx context.Context) (result StepResult, err error) {
	_, span := e.tracer.Start(ctx, "simulation.Step")
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
			result = StepResult{}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.metrics.RecordStepFailure()
			return
		}
		span.SetAttributes(
			attribute.Int("population", result.Population),
			attribute.Bool("spawned", result.Spawned),
			attribute.Bool("reaped", result.Reaped),
		)
		e.metrics.RecordStep(time.Since(start), result.Spawned, result.Reaped, result.Population)
	}()

	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	var (
		snapshot []datatypes.ProcessRecord
		seq      uint64
	)
	err = e.store.Update(func(tx *population.Txn) error {
		var next StepResult
		tx.Each(e.mutate)

		if e.chance(e.params.SpawnProb) {
			pid := tx.AllocatePID()
			if err := tx.Insert(e.gen.Spawned(pid)); err != nil {
				return fmt.Errorf("spawning pid %d: %w", pid, err)
			}
			next.Spawned = true
			next.SpawnedPID = pid
		}

		if tx.Len() > e.params.ReapFloor && e.chance(e.params.ReapProb) {
			victim, ok := tx.FirstMatch(func(r datatypes.ProcessRecord) bool { return !r.IsPrivileged() })
			if ok && tx.Remove(victim.PID) {
				next.Reaped = true
				next.ReapedPID = victim.PID
			}
		}

		if e.chance(e.params.PersistProb) {
			snapshot = tx.List()
			if e.persister != nil {
				seq = e.persister.NextSeq()
			}
			next.PersistRequested = true
		}

		next.Population = tx.Len()
		result = next
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}

	if result.Spawned {
		slog.Debug("Simulation spawned process", "pid", result.SpawnedPID)
	}
	if result.Reaped {
		slog.Debug("Simulation reaped process", "pid", result.ReapedPID)
	}
	if snapshot != nil && e.persister != nil {
		e.persister.RequestSeq(seq, snapshot)
	}
	return result, nil
}

// Params returns the tuning currently in effect.
func (e *Engine) Params() Params {
	var p Params
	_ = e.store.View(func(*population.ReadTxn) error {
		p = e.params
		return nil
	})
	return p
}

// SetParams swaps the tuning between steps. The swap takes the store write
// lock, so a step in progress finishes with the old values.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return e.store.Update(func(*population.Txn) error {
		e.params = p
		return nil
	})
}

// mutate applies the walk and the spikes to one record.
func (e *Engine) mutate(rec *datatypes.ProcessRecord) {
	p := e.params
	rec.CPUPercent = walk(rec.CPUPercent, e.uniform(-p.CPUWalk, p.CPUWalk))
	rec.MemPercent = walk(rec.MemPercent, e.uniform(-p.MemWalk, p.MemWalk))

	if e.chance(p.CPUSpikeProb) {
		rec.CPUPercent = population.RoundTenth(population.ClampPercent(e.uniform(p.CPUSpikeMin, p.CPUSpikeMax)))
	}
	if e.chance(p.MemSpikeProb) {
		rec.MemPercent = population.RoundTenth(population.ClampPercent(e.uniform(p.MemSpikeMin, p.MemSpikeMax)))
	}
}

func walk(v, delta float64) float64 {
	return population.RoundTenth(population.ClampPercent(v + delta))
}

// chance reports true with probability p. p <= 0 never draws.
func (e *Engine) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	return e.rng.Float64() < p
}

func (e *Engine) uniform(lo, hi float64) float64 {
	return lo + e.rng.Float64()*(hi-lo)
}
