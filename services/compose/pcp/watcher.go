// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pcp

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InvalidationHandler is called after debounced layer changes were
// processed, with the index sites evicted by the batch.
type InvalidationHandler func(evicted []Site)

// LayerWatcher watches a directory of layer files and invalidates
// the engine's caches when they change.
//
// # Description
//
// Editors write layer files in bursts (swap files, truncate-then-write,
// atomic renames), so raw events are collected into a debounce window
// and processed as one batch. Each changed file is translated to the
// asset path it would have been opened with — its path relative to the
// watch root, which must be the resolver's anchor directory — and fed
// to Engine.InvalidateLayer.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single
// goroutine.
type LayerWatcher struct {
	root     string
	engine   *Engine
	handler  InvalidationHandler
	watcher  *fsnotify.Watcher
	debounce time.Duration
	exts     map[string]bool

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// LayerWatcherOptions configures the LayerWatcher.
type LayerWatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before
	// invalidating. Default: 100ms
	DebounceWindow time.Duration

	// Extensions limits watching to these file extensions.
	// Default: [".yaml", ".yml"]
	Extensions []string

	// BufferSize is the size of the change buffer channel.
	// Default: 256
	BufferSize int
}

// DefaultLayerWatcherOptions returns sensible defaults.
func DefaultLayerWatcherOptions() LayerWatcherOptions {
	return LayerWatcherOptions{
		DebounceWindow: 100 * time.Millisecond,
		Extensions:     []string{".yaml", ".yml"},
		BufferSize:     256,
	}
}

// NewLayerWatcher creates a watcher over the resolver anchor
// directory. Call Start to begin watching and Stop when done.
func NewLayerWatcher(root string, engine *Engine, handler InvalidationHandler, opts *LayerWatcherOptions) (*LayerWatcher, error) {
	cfg := DefaultLayerWatcherOptions()
	if opts != nil {
		if opts.DebounceWindow > 0 {
			cfg.DebounceWindow = opts.DebounceWindow
		}
		if len(opts.Extensions) > 0 {
			cfg.Extensions = opts.Extensions
		}
		if opts.BufferSize > 0 {
			cfg.BufferSize = opts.BufferSize
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[e] = true
	}

	return &LayerWatcher{
		root:     root,
		engine:   engine,
		handler:  handler,
		watcher:  watcher,
		debounce: cfg.DebounceWindow,
		exts:     exts,
		changes:  make(chan string, cfg.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Both goroutines exit when Stop is called or
// the context is canceled.
func (w *LayerWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *LayerWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *LayerWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive adds a directory and all subdirectories to the watch
// list. fsnotify watches single directories only.
func (w *LayerWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// processEvents filters fsnotify events down to layer files and sends
// them to the debounce channel.
func (w *LayerWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// A new directory needs its own watch.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
					continue
				}
			}
			if !w.exts[filepath.Ext(event.Name)] {
				continue
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				// Buffer full; the debounce pass will catch the file
				// on its next event.
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// debounceLoop batches changed paths and invalidates once per quiet
// window.
func (w *LayerWatcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			pending[path] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			batch := pending
			pending = make(map[string]bool)
			fire = nil
			w.invalidateBatch(batch)
		}
	}
}

// invalidateBatch maps changed files to asset paths and evicts their
// dependents.
func (w *LayerWatcher) invalidateBatch(batch map[string]bool) {
	var evicted []Site
	for path := range batch {
		assetPath := path
		if rel, err := filepath.Rel(w.root, path); err == nil {
			assetPath = filepath.ToSlash(rel)
		}
		evicted = append(evicted, w.engine.InvalidateLayer(assetPath)...)
	}
	if w.handler != nil {
		w.handler(evicted)
	}
}
