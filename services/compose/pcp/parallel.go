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
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// IndexResult pairs one requested prim with its computed index.
type IndexResult struct {
	Path  sdf.Path
	Index *PrimIndex
	Err   error
}

// ComputeIndexes composes many prims of one layer stack concurrently.
//
// # Description
//
// Requests fan out over a bounded worker pool. Sibling prims share
// ancestor indexes through the engine cache, so ordering requests
// shallow-to-deep maximizes reuse; the singleflight layer keeps two
// workers from racing one prim. Per-prim failures land in that prim's
// result; only cancellation aborts the batch.
//
// # Inputs
//
//   - ctx: Cancels outstanding work; composed results so far are kept.
//   - stack: The root layer stack all paths compose in.
//   - paths: Prim paths to compose.
//   - workers: Pool size; values < 1 use GOMAXPROCS.
//
// # Outputs
//
//   - []IndexResult: One entry per requested path, in request order.
//   - error: Non-nil only when the context was canceled.
func (e *Engine) ComputeIndexes(ctx context.Context, stack *sdf.LayerStack, paths []sdf.Path, workers int) ([]IndexResult, error) {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]IndexResult, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			idx, err := e.ComputeIndex(gCtx, Site{LayerStack: stack, Path: p})
			results[i] = IndexResult{Path: p, Index: idx, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
