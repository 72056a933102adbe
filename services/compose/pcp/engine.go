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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// DefaultIndexCacheSize is the number of prim indexes the engine
// retains. Ancestor indexes are cache entries too, so deep scenes
// benefit from a few thousand slots.
const DefaultIndexCacheSize = 4096

// Engine computes and caches prim indexes over a layer resolver.
//
// # Description
//
// The engine is the public entry point for composition. It owns the
// index cache, deduplicates concurrent computations of the same prim,
// records which layers each cached index depends on, and routes
// ancestor-index lookups back through itself so a deep namespace
// shares its ancestors' work across siblings.
//
// # Thread Safety
//
// Safe for concurrent use. Index builds for distinct prims proceed in
// parallel; concurrent requests for the same prim share one build.
type Engine struct {
	resolver *sdf.Resolver
	log      *slog.Logger

	cull             bool
	variantFallbacks map[string][]string
	includePayload   func(sdf.Path) bool
	maxNodes         int
	maxDepth         int

	flight singleflight.Group

	mu      sync.Mutex
	indexes *lruCache[Site, *PrimIndex]
	deps    map[string]map[Site]struct{}
	exprs   *exprCache
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCulling controls whether spec-less subtrees are stripped from
// finalized indexes. On by default; turn off when building debugging
// tools that want the full graph.
func WithCulling(cull bool) EngineOption {
	return func(e *Engine) { e.cull = cull }
}

// WithVariantFallbacks installs the fallback table consulted when no
// variant selection is authored, keyed by variant set name. Candidates
// are tried in order.
func WithVariantFallbacks(fallbacks map[string][]string) EngineOption {
	return func(e *Engine) { e.variantFallbacks = fallbacks }
}

// WithPayloadFilter restricts payload loading to prim paths the
// predicate accepts. Nil (the default) loads every payload.
func WithPayloadFilter(include func(sdf.Path) bool) EngineOption {
	return func(e *Engine) { e.includePayload = include }
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithMaxIndexNodes caps the node count of a single index.
func WithMaxIndexNodes(n int) EngineOption {
	return func(e *Engine) { e.maxNodes = n }
}

// WithMaxBuildDepth caps nested sub-index recursion.
func WithMaxBuildDepth(n int) EngineOption {
	return func(e *Engine) { e.maxDepth = n }
}

// WithIndexCacheSize sets the index cache capacity.
func WithIndexCacheSize(n int) EngineOption {
	return func(e *Engine) { e.indexes = newLRUCache[Site, *PrimIndex](n) }
}

// NewEngine creates an engine over the given resolver.
func NewEngine(resolver *sdf.Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		resolver: resolver,
		log:      slog.Default(),
		cull:     true,
		maxNodes: DefaultMaxIndexNodes,
		maxDepth: DefaultMaxBuildDepth,
		indexes:  newLRUCache[Site, *PrimIndex](DefaultIndexCacheSize),
		deps:     make(map[string]map[Site]struct{}),
		exprs:    newExprCache(1024),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolver returns the layer resolver the engine composes over.
func (e *Engine) Resolver() *sdf.Resolver { return e.resolver }

// ComputeIndexAtPath opens the root layer stack for an asset and
// computes the index of one prim in it.
func (e *Engine) ComputeIndexAtPath(ctx context.Context, rootAssetPath string, primPath sdf.Path) (*PrimIndex, error) {
	stack, err := e.resolver.ComputeLayerStack(rootAssetPath)
	if err != nil {
		return nil, err
	}
	return e.ComputeIndex(ctx, Site{LayerStack: stack, Path: primPath})
}

// ComputeIndex computes (or returns the cached) prim index for a site.
//
// # Description
//
// The site path must identify a prim: absolute, no property or other
// non-prim components. Results are cached per site; concurrent calls
// for the same site share a single build. Composition errors do not
// fail the call — they are accumulated on the returned index, which is
// still usable.
//
// # Inputs
//
//   - ctx: Cancellation is honored between cache lookup and build.
//   - site: The layer stack and prim path to compose.
//
// # Outputs
//
//   - *PrimIndex: The finalized index. Never nil on success.
//   - error: Non-nil for invalid requests or cancellation, wrapping
//     ErrInvalidIndexPath where the path is at fault.
func (e *Engine) ComputeIndex(ctx context.Context, site Site) (*PrimIndex, error) {
	if site.LayerStack == nil {
		return nil, fmt.Errorf("%w: nil layer stack", ErrInvalidIndexPath)
	}
	if !site.Path.IsAbsoluteRootPath() && !site.Path.IsPrimOrPrimVariantSelectionPath() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIndexPath, site.Path)
	}

	ctx, span := tracer.Start(ctx, "compose.ComputeIndex",
		trace.WithAttributes(
			attribute.String("prim_path", site.Path.String()),
			attribute.String("layer_stack", site.LayerStack.Identifier),
		))
	defer span.End()

	e.mu.Lock()
	cached, ok := e.indexes.Get(site)
	e.mu.Unlock()
	recordCacheLookup(ctx, ok)
	if ok {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := site.LayerStack.Identifier + "\x00" + site.Path.String()
	result, err, _ := e.flight.Do(key, func() (any, error) {
		return e.buildAndCache(ctx, site, 0), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*PrimIndex), nil
}

// buildAndCache runs one index build, stores the result, and records
// its layer dependencies for change invalidation.
func (e *Engine) buildAndCache(ctx context.Context, site Site, depth int) *PrimIndex {
	start := time.Now()
	buildID := uuid.NewString()
	inputs := &buildInputs{
		resolver:         e.resolver,
		cull:             e.cull,
		variantFallbacks: e.variantFallbacks,
		includePayload:   e.includePayload,
		maxNodes:         e.maxNodes,
		maxDepth:         e.maxDepth,
		log:              e.log,
		exprs:            e.exprs,
		ancestor:         e.ancestorIndex,
	}
	idx := buildPrimIndex(inputs, site, nil, depth)

	e.mu.Lock()
	e.indexes.Set(site, idx)
	for _, ref := range idx.NodeRange() {
		stack := idx.Site(ref).LayerStack
		if stack == nil {
			continue
		}
		for _, entry := range stack.Layers() {
			sites, ok := e.deps[entry.Layer.Identifier]
			if !ok {
				sites = make(map[Site]struct{})
				e.deps[entry.Layer.Identifier] = sites
			}
			sites[site] = struct{}{}
		}
	}
	e.mu.Unlock()

	recordIndexMetrics(ctx, time.Since(start), idx.NodeCount(), len(idx.Errors()))
	e.log.Debug("computed prim index",
		"build_id", buildID,
		"prim_path", site.Path.String(),
		"nodes", idx.NodeCount(),
		"errors", len(idx.Errors()),
		"duration", time.Since(start))
	return idx
}

// ancestorIndex serves parent-index lookups from nested builds through
// the shared cache, so siblings reuse one ancestor computation.
func (e *Engine) ancestorIndex(site Site, depth int) *PrimIndex {
	e.mu.Lock()
	cached, ok := e.indexes.Get(site)
	e.mu.Unlock()
	if ok {
		return cached
	}
	return e.buildAndCache(context.Background(), site, depth)
}

// CachedIndex returns the cached index for a site without building.
func (e *Engine) CachedIndex(site Site) (*PrimIndex, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexes.Get(site)
}

// CacheStats reports index cache hits and misses.
func (e *Engine) CacheStats() (hits, misses int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexes.Stats()
}

// Reset drops every cached index. Layers stay cached in the resolver;
// use InvalidateLayer when layer contents changed.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.indexes.Purge()
	e.deps = make(map[string]map[Site]struct{})
	e.mu.Unlock()
}
