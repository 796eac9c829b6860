// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is how long the watcher waits for writes to settle.
const DefaultReloadDebounce = 200 * time.Millisecond

// ReloadHandler receives every successfully reloaded configuration.
type ReloadHandler func(cfg Config)

// Watcher reloads the config file when it changes.
//
// # Description
//
// Watches the directory holding the file rather than the file itself, so
// editors that save by rename are still seen. Bursts of events are
// debounced into a single reload. A reload that fails to parse or validate
// is logged and the previous configuration stays in effect.
//
// # Thread Safety
//
// The handler is called from the Run goroutine only.
type Watcher struct {
	path     string
	getenv   func(string) string
	handler  ReloadHandler
	debounce time.Duration
	watcher  *fsnotify.Watcher

	closeOnce sync.Once
}

// NewWatcher creates a watcher for path.
//
// # Inputs
//
//   - path: The config file. Its directory must exist.
//   - getenv: Environment lookup applied on every reload. Nil means os.Getenv.
//   - handler: Called with each valid reloaded config.
//   - debounce: Settle window. <= 0 uses DefaultReloadDebounce.
//
// # Outputs
//
//   - *Watcher: Call Run to start watching, Close to release it.
//   - error: The watcher could not be created or the directory added.
func NewWatcher(path string, getenv func(string) string, handler ReloadHandler, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		getenv:   getenv,
		handler:  handler,
		debounce: debounce,
		watcher:  fw,
	}, nil
}

// Run processes file events until ctx is cancelled or Close is called.
// Always returns nil so it can run in an errgroup next to the server.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "path", w.path, "error", err)

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

// Close stops the underlying fsnotify watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.getenv)
	if err != nil {
		slog.Warn("Config reload rejected, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	slog.Info("Config reloaded", "path", w.path)
	w.handler(cfg)
}
