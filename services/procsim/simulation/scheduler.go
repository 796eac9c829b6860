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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/procsim/services/procsim/observability"
)

// DefaultInterval is the step cadence used when no interval is given.
const DefaultInterval = 2 * time.Second

// Stepper runs one simulation step. *Engine implements it.
type Stepper interface {
	Step(ctx context.Context) (StepResult, error)
}

// =============================================================================
// Scheduler Implementation
// =============================================================================

// Scheduler drives a Stepper at a fixed cadence.
//
// # Description
//
// Manages the lifecycle of one background goroutine that calls Step on every
// tick. Uses the ticker + done channel pattern. Steps run sequentially on that
// goroutine so they never overlap.
//
// # Fields
//
//   - stepper: What runs on each tick.
//   - metrics: Scheduler gauge and failure counter (may be nil).
//   - mu: Protects every field below it.
//   - running: True while the loop goroutine is active.
//   - interval: Cadence of the active loop.
//   - cancel: Cancels the context handed to Step.
//   - done: Closed by the loop goroutine when it exits.
//
// # Thread Safety
//
// All public methods are thread-safe. Start and Stop transitions are
// serialized by mu, so at most one loop exists at any time.
type Scheduler struct {
	stepper Stepper
	metrics *observability.Metrics

	mu       sync.Mutex
	running  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(stepper Stepper, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{stepper: stepper, metrics: metrics}
}

// Start begins stepping at the given interval.
//
// # Description
//
// While the scheduler is already running, Start is a no-op: the running
// timer keeps its interval and Start reports it. Stop first to change the
// cadence. The first step happens one interval after Start.
//
// # Inputs
//
//   - interval: Step cadence. Values <= 0 fall back to DefaultInterval.
//
// # Outputs
//
//   - bool: True if this call started the loop.
//   - time.Duration: Interval of the loop that is now running.
//
// # Examples
//
//	started, active := scheduler.Start(500 * time.Millisecond)
//	if !started {
//	    slog.Info("already running", "interval", active)
//	}
//	defer scheduler.Stop()
func (s *Scheduler) Start(interval time.Duration) (bool, time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Debug("Simulation scheduler already running, start ignored",
			"requested_interval", interval.String(),
			"active_interval", s.interval.String(),
		)
		return false, s.interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.interval = interval
	s.cancel = cancel
	s.done = make(chan struct{})
	s.metrics.SetSchedulerRunning(true)

	slog.Info("Simulation scheduler starting", "interval", interval.String())

	go s.runLoop(ctx, interval, s.done)
	return true, interval
}

// Stop halts the loop and waits for it to exit.
//
// # Description
//
// Safe to call multiple times. When Stop returns no step is in flight and no
// further step will run until the next Start.
//
// # Outputs
//
//   - bool: True if this call stopped a running loop.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	slog.Info("Simulation scheduler stopping")
	s.cancel()
	<-s.done
	s.running = false
	s.cancel = nil
	s.metrics.SetSchedulerRunning(false)
	return true
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the active interval, or 0 when stopped.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.interval
}

// =============================================================================
// Internal Methods
// =============================================================================

// runLoop is the scheduler goroutine.
func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Simulation scheduler stopped")
			return
		case <-ticker.C:
			s.executeStep(ctx)
		}
	}
}

// executeStep runs one step with error handling.
//
// A failing or panicking step is logged and skipped; the loop keeps going.
func (s *Scheduler) executeStep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordStepFailure()
			slog.Error("Simulation step panicked", "panic", fmt.Sprint(r))
		}
	}()

	result, err := s.stepper.Step(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Simulation step failed", "error", err)
		return
	}
	slog.Debug("Simulation step completed",
		"population", result.Population,
		"spawned", result.Spawned,
		"reaped", result.Reaped,
		"persist_requested", result.PersistRequested,
	)
}
