// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sdf

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// Resolver opens layers and computes layer stacks, memoizing both.
//
// Description:
//
//	Asset paths are resolved relative to an anchor directory. Opened
//	layers and computed layer stacks are cached by resolved identifier,
//	so repeated lookups during a composition pass hit memory. Stacks
//	are cached by pointer identity on purpose: composition compares
//	sites by (stack pointer, path), and two lookups of the same root
//	layer must yield the same stack.
//
// Thread Safety: Safe for concurrent use. The cache lock is held only
// around map access, not around file I/O, so two goroutines may race
// to open the same layer; the first result wins.
type Resolver struct {
	anchor string
	muted  map[string]bool
	log    *slog.Logger

	mu     sync.Mutex
	layers map[string]*Layer
	stacks map[string]*LayerStack
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMutedLayers marks asset paths whose layers must not open.
// Arcs targeting a muted layer fail with ErrLayerMuted.
func WithMutedLayers(assetPaths ...string) ResolverOption {
	return func(r *Resolver) {
		for _, p := range assetPaths {
			r.muted[p] = true
		}
	}
}

// WithResolverLogger sets the structured logger.
func WithResolverLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver creates a Resolver anchored at the given directory.
func NewResolver(anchor string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		anchor: anchor,
		muted:  make(map[string]bool),
		log:    slog.Default(),
		layers: make(map[string]*Layer),
		stacks: make(map[string]*LayerStack),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsMuted reports whether an asset path is muted.
func (r *Resolver) IsMuted(assetPath string) bool {
	return r.muted[assetPath]
}

// resolve turns an asset path into the on-disk location.
func (r *Resolver) resolve(assetPath string) string {
	if filepath.IsAbs(assetPath) {
		return assetPath
	}
	return filepath.Join(r.anchor, assetPath)
}

// FindOrOpenLayer returns the layer for an asset path, opening and
// parsing it on first use.
//
// Outputs:
//   - *Layer: The opened layer.
//   - error: ErrLayerMuted, ErrLayerNotFound, or ErrMalformedLayer.
func (r *Resolver) FindOrOpenLayer(assetPath string) (*Layer, error) {
	if r.muted[assetPath] {
		return nil, fmt.Errorf("%w: %s", ErrLayerMuted, assetPath)
	}

	r.mu.Lock()
	if l, ok := r.layers[assetPath]; ok {
		r.mu.Unlock()
		return l, nil
	}
	r.mu.Unlock()

	layer, err := LoadLayerFile(r.resolve(assetPath))
	if err != nil {
		return nil, err
	}
	layer.Identifier = assetPath

	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.layers[assetPath]; ok {
		return prior, nil
	}
	r.layers[assetPath] = layer
	r.log.Debug("opened layer",
		"asset", assetPath,
		"specs", len(layer.specs),
		"subLayers", len(layer.SubLayers))
	return layer, nil
}

// ComputeLayerStack flattens the root layer and its transitive
// sub-layers into a strength-ordered stack.
//
// Description:
//
//	The flattening is a depth-first walk: each layer is followed by its
//	sub-layer subtrees in authored order. Sub-layer offsets accumulate
//	along the chain. A layer may appear once per stack; revisiting a
//	layer already on the walk's active chain is a cycle error, while a
//	diamond (the same layer reachable twice) keeps the strongest
//	occurrence. Muted sub-layers are skipped. An invalid sub-layer
//	offset is an error.
//
// Outputs:
//   - *LayerStack: The flattened stack.
//   - error: Non-nil if the root cannot open or the sub-layer graph is
//     malformed.
func (r *Resolver) ComputeLayerStack(rootAssetPath string) (*LayerStack, error) {
	r.mu.Lock()
	if ls, ok := r.stacks[rootAssetPath]; ok {
		r.mu.Unlock()
		return ls, nil
	}
	r.mu.Unlock()

	var entries []LayerStackEntry
	seen := make(map[string]bool)
	active := make(map[string]bool)

	var walk func(assetPath string, offset LayerOffset) error
	walk = func(assetPath string, offset LayerOffset) error {
		if active[assetPath] {
			return fmt.Errorf("%w: sub-layer cycle at %s", ErrMalformedLayer, assetPath)
		}
		if seen[assetPath] {
			return nil
		}
		layer, err := r.FindOrOpenLayer(assetPath)
		if err != nil {
			return err
		}
		seen[assetPath] = true
		active[assetPath] = true
		defer delete(active, assetPath)

		entries = append(entries, LayerStackEntry{Layer: layer, Offset: offset})
		for _, sl := range layer.SubLayers {
			if r.muted[sl.AssetPath] {
				continue
			}
			if !sl.Offset.IsValid() {
				return fmt.Errorf("%w: invalid offset on sub-layer %s of %s",
					ErrMalformedLayer, sl.AssetPath, assetPath)
			}
			if err := walk(sl.AssetPath, offset.Compose(sl.Offset)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootAssetPath, IdentityOffset()); err != nil {
		return nil, err
	}

	stack := newLayerStack(rootAssetPath, entries)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.stacks[rootAssetPath]; ok {
		return prior, nil
	}
	r.stacks[rootAssetPath] = stack
	r.log.Debug("computed layer stack",
		"root", rootAssetPath,
		"layers", stack.LayerCount(),
		"relocates", len(stack.relocates))
	return stack, nil
}

// DropLayer evicts a layer and every cached stack containing it, so
// the next lookup reloads from disk. Used for change processing.
func (r *Resolver) DropLayer(assetPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.layers, assetPath)
	for id, ls := range r.stacks {
		for _, e := range ls.entries {
			if e.Layer.Identifier == assetPath {
				delete(r.stacks, id)
				break
			}
		}
	}
}

// StacksContaining returns root identifiers of cached stacks that
// include the given layer.
func (r *Resolver) StacksContaining(assetPath string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roots []string
	for id, ls := range r.stacks {
		for _, e := range ls.entries {
			if e.Layer.Identifier == assetPath {
				roots = append(roots, id)
				break
			}
		}
	}
	return roots
}
