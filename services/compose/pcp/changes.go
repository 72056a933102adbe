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
	"sort"
)

// InvalidateLayer evicts one changed layer and every cached index that
// composed it.
//
// # Description
//
// The engine records, per cached index, which layers any of its nodes'
// layer stacks contain. When a layer changes on disk the layer is
// dropped from the resolver (so the next open re-reads it), the layer
// stacks containing it are recomputed lazily, and the dependent
// indexes are evicted. Indexes that never touched the layer stay
// cached; this is what makes watch-and-recompose loops cheap.
//
// # Inputs
//
//   - assetPath: The changed layer, as the asset path it was opened
//     with.
//
// # Outputs
//
//   - []Site: The evicted index sites, sorted by path, so callers can
//     recompute eagerly if they want warm caches.
//
// # Thread Safety
//
// Safe for concurrent use with ComputeIndex. An index computed
// concurrently with the invalidation may still see the old layer;
// callers needing a strict ordering should serialize externally.
func (e *Engine) InvalidateLayer(assetPath string) []Site {
	e.resolver.DropLayer(assetPath)

	e.mu.Lock()
	defer e.mu.Unlock()

	var evicted []Site
	for identifier, sites := range e.deps {
		if identifier != assetPath {
			continue
		}
		for site := range sites {
			if e.indexes.Delete(site) {
				evicted = append(evicted, site)
			}
		}
		delete(e.deps, identifier)
	}

	// Dependency rows for other layers may still name the evicted
	// sites; stale rows only cause harmless extra Delete calls later.

	sort.Slice(evicted, func(i, j int) bool {
		return evicted[i].Path.Less(evicted[j].Path)
	})

	e.log.Debug("invalidated layer",
		"asset_path", assetPath,
		"evicted_indexes", len(evicted))
	return evicted
}

// InvalidateAll evicts every cached index and every cached layer whose
// identifier the resolver knows. Used when changes are too broad to
// track individually (a directory rename, a VCS checkout).
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	identifiers := make([]string, 0, len(e.deps))
	for id := range e.deps {
		identifiers = append(identifiers, id)
	}
	e.mu.Unlock()

	for _, id := range identifiers {
		e.resolver.DropLayer(id)
	}
	e.Reset()
}
