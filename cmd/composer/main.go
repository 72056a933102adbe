// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command composer computes prim indexes over layered scene files.
//
// Usage:
//
//	# Compose one prim and print its graph
//	composer index scenes/shot.yaml /World/Char
//
//	# Graphviz output
//	composer index scenes/shot.yaml /World/Char --format dot | dot -Tsvg > graph.svg
//
//	# Inspect the flattened layer stack
//	composer layers scenes/shot.yaml
//
//	# Recompose on file changes
//	composer watch scenes/shot.yaml /World/Char /World/Props
package main

import (
	"os"

	"github.com/AleutianAI/AleutianCompose/pkg/logging"
)

func main() {
	defer func() {
		if logger != nil {
			logger.Close()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			logger = logging.Default()
		}
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
