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
)

// runLayers prints the flattened layer stack, strongest first.
func runLayers(cmd *cobra.Command, args []string) error {
	_, stack, err := newEngine(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Layer stack %s (%d layers)\n", stack.Identifier, stack.LayerCount())
	for i, entry := range stack.Layers() {
		offset := ""
		if !entry.Offset.IsIdentity() {
			offset = fmt.Sprintf("  (offset %+g, scale %g)", entry.Offset.Offset, entry.Offset.Scale)
		}
		fmt.Fprintf(out, "  %2d. %s%s\n", i+1, entry.Layer.Identifier, offset)
	}

	if dp := stack.DefaultPrim(); dp != "" {
		fmt.Fprintf(out, "Default prim: %s\n", dp)
	}
	if relocates := stack.Relocates(); len(relocates) > 0 {
		fmt.Fprintln(out, "Relocates:")
		for _, r := range relocates {
			fmt.Fprintf(out, "  %s -> %s\n", r.Source, r.Target)
		}
	}
	return nil
}
