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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCompose/services/compose/debug"
)

// runIndex composes the requested prims and prints their graphs.
func runIndex(cmd *cobra.Command, args []string) error {
	engine, stack, err := newEngine(args[0])
	if err != nil {
		return err
	}

	paths, err := parsePrimPaths(args[1:])
	if err != nil {
		return err
	}

	results, err := engine.ComputeIndexes(cmd.Context(), stack, paths, flagWorkers)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Error("compose failed", "prim_path", r.Path.String(), "error", r.Err)
			continue
		}
		rendered, err := debug.Dump(r.Index, debug.OutputFormat(flagFormat))
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		for _, e := range r.Index.Errors() {
			logger.Warn("composition error", "prim_path", r.Path.String(), "error", e.Error())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d prims failed to compose", failed, len(results))
	}
	return nil
}
