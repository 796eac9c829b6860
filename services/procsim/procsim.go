// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package procsim wires the process-table simulator into a runnable service.
//
// # Components
//
//	HTTP (gin) ──► Facade ──► Entity Store ◄── Mutation Engine ◄── Scheduler
//	                  │             ▲
//	                  ▼             │
//	              Persister ──► PopulationStore (badger | memory)
//
//	History Poller ──► Facade.Observe ──► History Aggregator
//	Snapshots      ──► SnapshotStore (sqlite | memory)
//
// # Usage
//
//	cfg, err := config.Load("", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := procsim.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	log.Fatal(svc.Run(ctx))
package procsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/procsim/services/procsim/config"
	"github.com/AleutianAI/procsim/services/procsim/durability"
	"github.com/AleutianAI/procsim/services/procsim/facade"
	"github.com/AleutianAI/procsim/services/procsim/history"
	"github.com/AleutianAI/procsim/services/procsim/middleware"
	"github.com/AleutianAI/procsim/services/procsim/observability"
	"github.com/AleutianAI/procsim/services/procsim/population"
	"github.com/AleutianAI/procsim/services/procsim/routes"
	"github.com/AleutianAI/procsim/services/procsim/simulation"
	"github.com/AleutianAI/procsim/services/procsim/snapshots"
	"github.com/AleutianAI/procsim/services/procsim/storage/badger"
	"github.com/AleutianAI/procsim/services/procsim/telemetry"
)

// =============================================================================
// Interface
// =============================================================================

// Service is a runnable procsim instance.
type Service interface {
	// Run listens on the configured address and serves until ctx is done.
	Run(ctx context.Context) error

	// Serve is Run on a caller-provided listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the HTTP handler, for tests and embedding.
	Router() *gin.Engine

	// Close releases stores and telemetry. Serve calls it on exit.
	Close() error
}

// Options customizes New. The zero value is valid.
type Options struct {
	// ConfigPath enables hot reload of simulation params and the mutation
	// rate limit when the file at this path changes.
	ConfigPath string

	// Getenv is passed to config.Load on reload. Nil uses os.Getenv.
	Getenv func(string) string

	// Registry backs /metrics. Nil creates a fresh registry with the Go and
	// process collectors.
	Registry *prometheus.Registry

	// SnapshotClock stamps snapshot created_at. Nil uses UTC wall time.
	SnapshotClock snapshots.Clock

	// Logger parents the storage engine's logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

// service holds every component. Fields are read-only after New returns.
type service struct {
	config config.Config
	opts   Options

	registry *prometheus.Registry
	metrics  *observability.Metrics

	store      *population.Store
	gen        *population.Generator
	popStore   durability.PopulationStore
	persister  *durability.Persister
	engine     *simulation.Engine
	scheduler  *simulation.Scheduler
	facade     *facade.Facade
	snapshots  snapshots.Store
	aggregator *history.Aggregator
	poller     *history.Poller
	limiter    *rate.Limiter
	watcher    *config.Watcher
	router     *gin.Engine

	telemetryShutdown func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// New builds a service from cfg.
//
// # Description
//
// New validates cfg, installs telemetry, opens the population and snapshot
// backends, restores the saved population (or generates and saves a fresh
// one), and builds the router. Nothing runs until Run or Serve.
//
// # Inputs
//
//   - cfg: Complete configuration, usually from config.Load.
//   - opts: Optional overrides. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid config or a backend that cannot be opened. Resources
//     opened before the failure are released.
func New(cfg config.Config, opts *Options) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &service{config: cfg}
	if opts != nil {
		s.opts = *opts
	}

	if err := s.init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) init() error {
	ctx := context.Background()

	s.registry = s.opts.Registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = observability.NewMetrics(s.registry)

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    s.config.Tracing.ServiceName,
		TraceExporter:  s.config.Tracing.Exporter,
		MetricExporter: s.config.Tracing.MetricExporter,
		OTLPEndpoint:   s.config.Tracing.Endpoint,
		Registerer:     s.registry,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	if err := s.openStores(); err != nil {
		return err
	}

	var engineRNG *rand.Rand
	if seed := s.config.Simulation.Seed; seed != 0 {
		s.gen = population.NewSeededGenerator(seed)
		engineRNG = rand.New(rand.NewPCG(seed, ^seed))
	} else {
		s.gen = population.NewGenerator(nil)
	}

	s.store = population.NewStore(population.DefaultPIDBase)
	s.persister = durability.NewPersister(s.popStore, s.metrics)
	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	s.engine = simulation.NewEngine(s.store, s.gen, s.config.Simulation.Params, engineRNG,
		simulation.WithPersister(s.persister), simulation.WithMetrics(s.metrics))
	s.scheduler = simulation.NewScheduler(s.engine, s.metrics)
	s.facade = facade.New(s.store, s.gen, s.persister, s.metrics)

	s.aggregator = history.NewAggregator(s.config.History.Capacity)
	s.poller = history.NewPoller(history.SourceFunc(func(ctx context.Context) (history.Sample, error) {
		processes, stats := s.facade.Observe(ctx)
		return history.Sample{Processes: processes, Stats: stats}, nil
	}), s.aggregator)

	s.limiter = middleware.NewMutationLimiter(s.config.Server.MutationRate, s.config.Server.MutationBurst)

	if s.opts.ConfigPath != "" {
		w, err := config.NewWatcher(s.opts.ConfigPath, s.opts.Getenv, s.applyReload, config.DefaultReloadDebounce)
		if err != nil {
			slog.Warn("Config hot reload disabled", "path", s.opts.ConfigPath, "error", err)
		} else {
			s.watcher = w
		}
	}

	s.initRouter()
	return nil
}

// openStores opens the configured population and snapshot backends.
func (s *service) openStores() error {
	storage := s.config.Storage

	switch storage.PopulationBackend {
	case config.BackendMemory:
		s.popStore = durability.NewMemoryStore()
	default:
		bcfg := badger.DefaultConfig(storage.PopulationPath())
		bcfg.SyncWrites = storage.SyncWrites
		bcfg.GCInterval = storage.GCInterval
		bcfg.GCDiscardRatio = storage.GCDiscardRatio
		parent := s.opts.Logger
		if parent == nil {
			parent = slog.Default()
		}
		bcfg.Logger = parent.With("component", "badger")
		store, err := durability.OpenBadgerStore(bcfg)
		if err != nil {
			return fmt.Errorf("failed to open population store: %w", err)
		}
		s.popStore = store
	}

	switch storage.SnapshotBackend {
	case config.BackendMemory:
		s.snapshots = snapshots.NewMemoryStore(s.opts.SnapshotClock)
	default:
		store, err := snapshots.OpenSQLiteStore(storage.SnapshotPath(), s.opts.SnapshotClock)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		s.snapshots = store
	}

	slog.Info("Storage opened",
		"population_backend", storage.PopulationBackend,
		"snapshot_backend", storage.SnapshotBackend,
		"data_dir", storage.DataDir)
	return nil
}

// bootstrap restores the saved population, or generates and saves a fresh
// one when nothing usable was saved.
func (s *service) bootstrap(ctx context.Context) error {
	records, ok, err := s.popStore.Load(ctx)
	if err != nil {
		slog.Warn("Saved population unreadable, generating a fresh one", "error", err)
		ok = false
	}
	if ok {
		err := s.store.ReplaceAll(records)
		if err == nil {
			slog.Info("Population restored", "count", len(records), "next_pid", s.store.NextPID())
			s.metrics.SetPopulation(len(records))
			return nil
		}
		slog.Warn("Saved population rejected, generating a fresh one", "error", err)
	}

	fresh := s.gen.Population(s.config.Simulation.InitialCount, population.DefaultPIDBase)
	if err := s.store.ReplaceAll(fresh); err != nil {
		return fmt.Errorf("failed to seed population: %w", err)
	}
	_ = s.persister.SaveNow(ctx, s.store.List())
	s.metrics.SetPopulation(len(fresh))
	slog.Info("Population generated", "count", len(fresh))
	return nil
}

func (s *service) initRouter() {
	s.router = routes.NewRouter(s.config.Tracing.ServiceName, routes.Dependencies{
		Facade:          s.facade,
		Scheduler:       s.scheduler,
		Snapshots:       s.snapshots,
		History:         s.aggregator,
		Gatherer:        s.registry,
		Metrics:         s.metrics,
		DefaultInterval: s.config.Simulation.Interval(),
		MutationLimiter: s.limiter,
	})
}

// applyReload is the config watcher callback. Only simulation params and the
// mutation rate limit change at runtime; everything else needs a restart.
func (s *service) applyReload(cfg config.Config) {
	if err := s.engine.SetParams(cfg.Simulation.Params); err != nil {
		slog.Warn("Reloaded simulation params rejected", "error", err)
	} else {
		slog.Info("Simulation params reloaded")
	}

	if s.limiter != nil && cfg.Server.MutationRate > 0 {
		s.limiter.SetLimit(rate.Limit(cfg.Server.MutationRate))
		s.limiter.SetBurst(cfg.Server.MutationBurst)
		slog.Info("Mutation rate limit reloaded",
			"rate", cfg.Server.MutationRate, "burst", cfg.Server.MutationBurst)
	}
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve implements Service.
//
// # Description
//
// Runs the HTTP server, the persister, the history poller and the config
// watcher in one errgroup, and autostarts the scheduler if configured. When
// ctx is done (or any member fails) it shuts down in order:
//  1. Stop the scheduler so the population stops changing.
//  2. Shut the HTTP server down; open websocket streams are cancelled.
//  3. Wait for the persister to flush its queued save.
//  4. Save the final population synchronously.
//  5. Close the stores and telemetry.
//
// # Outputs
//
//   - error: The first member failure. nil on a clean shutdown.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer func() { _ = s.Close() }()

	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}
	// Hijacked websocket connections are invisible to Shutdown; cancelling
	// their base context ends the stream loops.
	srv.RegisterOnShutdown(cancelStreams)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("procsim listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return s.persister.Run(gctx) })
	g.Go(func() error { return s.poller.Run(gctx, s.config.History.PollInterval()) })
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}

	if s.config.Simulation.Autostart {
		s.scheduler.Start(s.config.Simulation.Interval())
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down procsim")
		s.scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown incomplete", "error", err)
		}
		return nil
	})

	err := g.Wait()

	persistCtx, cancel := context.WithTimeout(context.Background(), durability.DefaultSaveTimeout)
	defer cancel()
	if perr := s.facade.PersistNow(persistCtx); perr != nil {
		slog.Error("Final population save failed", "error", perr)
	}
	return err
}

// Close implements Service. Safe to call more than once.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
		if s.poller != nil {
			s.poller.Stop()
		}
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
		if s.snapshots != nil {
			if err := s.snapshots.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
			}
		}
		if s.popStore != nil {
			if err := s.popStore.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close population store: %w", err))
			}
		}
		if s.telemetryShutdown != nil {
			if err := s.telemetryShutdown(context.Background()); err != nil {
				slog.Warn("Telemetry shutdown failed", "error", err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
