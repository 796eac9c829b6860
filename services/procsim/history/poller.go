// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is the poll cadence used when none is given.
const DefaultPollInterval = 2 * time.Second

// Source produces samples for the Poller.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Sample, error)

// Sample implements Source.
func (f SourceFunc) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// =============================================================================
// Poller
// =============================================================================

// Poller samples a Source on a fixed cadence and folds each result.
//
// # Description
//
// Start polls once immediately so charts have a point before the first tick.
// A failed or panicking poll is logged and skipped. Start and Stop are
// idempotent; Stop waits for the loop goroutine to exit.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Poller struct {
	source     Source
	aggregator *Aggregator
	timeout    time.Duration

	mu       sync.Mutex
	running  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(source Source, aggregator *Aggregator) *Poller {
	return &Poller{source: source, aggregator: aggregator, timeout: 5 * time.Second}
}

// Start begins polling. A second Start while running is ignored.
//
// # Outputs
//
//   - bool: True if this call started the loop.
func (p *Poller) Start(interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.interval = interval
	p.cancel = cancel
	p.done = make(chan struct{})

	slog.Info("History poller starting", "interval", interval.String())
	go p.runLoop(ctx, interval, p.done)
	return true
}

// Stop halts polling and waits for the loop. Safe to call multiple times.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.cancel()
	<-p.done
	p.running = false
	slog.Info("History poller stopped")
	return true
}

// IsRunning reports whether the loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Run starts the poller and blocks until ctx is done, then stops it. Meant
// for an errgroup.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	p.Start(interval)
	<-ctx.Done()
	p.Stop()
	return nil
}

// PollOnce samples and folds synchronously.
func (p *Poller) PollOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("history poll panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sample, err := p.source.Sample(ctx)
	if err != nil {
		return err
	}
	p.aggregator.Fold(sample)
	return nil
}

func (p *Poller) runLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("History poll failed, skipping", "error", err)
	}
}
