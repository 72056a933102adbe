// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCompose/services/compose/debug"
	"github.com/AleutianAI/AleutianCompose/services/compose/pcp"
	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// runWatch composes the requested prims, then recomposes and reprints
// whichever of them a layer change invalidates, until interrupted.
func runWatch(cmd *cobra.Command, args []string) error {
	engine, stack, err := newEngine(args[0])
	if err != nil {
		return err
	}

	paths, err := parsePrimPaths(args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	requested := make(map[sdf.Path]bool, len(paths))
	for _, p := range paths {
		requested[p] = true
	}

	recompose := func(toBuild []sdf.Path) {
		for _, p := range toBuild {
			idx, err := engine.ComputeIndex(ctx, pcp.Site{LayerStack: stack, Path: p})
			if err != nil {
				logger.Error("compose failed", "prim_path", p.String(), "error", err)
				continue
			}
			rendered, _ := debug.Dump(idx, debug.FormatText)
			fmt.Fprint(out, rendered)
		}
	}
	recompose(paths)

	watcherOpts := pcp.DefaultLayerWatcherOptions()
	watcherOpts.DebounceWindow = time.Duration(flagDebounce) * time.Millisecond
	watcher, err := pcp.NewLayerWatcher(filepath.Dir(args[0]), engine, func(evicted []pcp.Site) {
		// The root layer stack may have changed shape; reopen it.
		refreshed, err := engine.Resolver().ComputeLayerStack(filepath.Base(args[0]))
		if err != nil {
			logger.Error("layer stack reload failed", "error", err)
			return
		}
		stack = refreshed

		var toBuild []sdf.Path
		for _, site := range evicted {
			if requested[site.Path] {
				toBuild = append(toBuild, site.Path)
			}
		}
		if len(toBuild) == 0 {
			return
		}
		logger.Info("recomposing", "prims", len(toBuild))
		recompose(toBuild)
	}, &watcherOpts)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	logger.Info("watching for layer changes", "root", filepath.Dir(args[0]))

	<-ctx.Done()
	return nil
}
