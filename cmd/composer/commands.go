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
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCompose/pkg/logging"
	"github.com/AleutianAI/AleutianCompose/services/compose/pcp"
	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
	"github.com/AleutianAI/AleutianCompose/services/compose/telemetry"
)

// --- Global Command Variables ---
var (
	flagFormat    string
	flagLogLevel  string
	flagLogDir    string
	flagNoCull    bool
	flagWorkers   int
	flagFallbacks []string // set=sel,sel2 pairs
	flagMuted     []string
	flagTelemetry bool
	flagDebounce  int // watch debounce in milliseconds

	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "composer",
		Short: "Compose layered scene description into prim indexes",
		Long: `Composer flattens layered scene files (sublayers, references,
payloads, inherits, specializes, variants, relocations) into per-prim
composition graphs and prints or watches them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = logging.New(logging.Config{
				Level:   logging.ParseLevel(flagLogLevel),
				LogDir:  flagLogDir,
				Service: "composer",
			})
			if flagTelemetry {
				cfg := telemetry.DefaultConfig()
				cfg.TraceExporter = "stdout"
				cfg.MetricExporter = "stdout"
				shutdown, err := telemetry.Init(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				telemetryShutdown = shutdown
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if telemetryShutdown != nil {
				_ = telemetryShutdown(context.Background())
			}
		},
	}

	telemetryShutdown func(context.Context) error

	indexCmd = &cobra.Command{
		Use:   "index <root-layer> <prim-path>...",
		Short: "Compute and print the prim index for one or more prims",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runIndex, // Defined in cmd_index.go
	}

	layersCmd = &cobra.Command{
		Use:   "layers <root-layer>",
		Short: "Print the flattened layer stack of a root layer",
		Args:  cobra.ExactArgs(1),
		RunE:  runLayers, // Defined in cmd_layers.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch <root-layer> <prim-path>...",
		Short: "Recompute prim indexes whenever layer files change",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runWatch, // Defined in cmd_watch.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "", "Also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&flagTelemetry, "telemetry", false, "Emit OpenTelemetry traces and metrics to stdout")
	rootCmd.PersistentFlags().BoolVar(&flagNoCull, "no-cull", false, "Keep spec-less nodes in finalized graphs")
	rootCmd.PersistentFlags().StringArrayVar(&flagFallbacks, "fallback", nil, "Variant fallback, set=sel[,sel...] (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&flagMuted, "mute", nil, "Asset path of a layer to mute (repeatable)")

	indexCmd.Flags().StringVar(&flagFormat, "format", "text", "Output format (text, dot)")
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "Parallel index workers (0 = GOMAXPROCS)")

	watchCmd.Flags().IntVar(&flagDebounce, "debounce", 100, "Debounce window for file changes, in milliseconds")

	rootCmd.AddCommand(indexCmd, layersCmd, watchCmd)
}

// newEngine opens the root layer's directory as the resolver anchor
// and returns the engine plus the root layer stack.
func newEngine(rootLayer string) (*pcp.Engine, *sdf.LayerStack, error) {
	anchor := filepath.Dir(rootLayer)
	asset := filepath.Base(rootLayer)

	resolver := sdf.NewResolver(anchor,
		sdf.WithMutedLayers(flagMuted...),
		sdf.WithResolverLogger(logger.Logger))

	fallbacks, err := parseFallbacks(flagFallbacks)
	if err != nil {
		return nil, nil, err
	}

	engine := pcp.NewEngine(resolver,
		pcp.WithCulling(!flagNoCull),
		pcp.WithVariantFallbacks(fallbacks),
		pcp.WithEngineLogger(logger.Logger))

	stack, err := resolver.ComputeLayerStack(asset)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", rootLayer, err)
	}
	return engine, stack, nil
}

// parseFallbacks turns repeated set=sel[,sel...] flags into the
// fallback table.
func parseFallbacks(pairs []string) (map[string][]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(pairs))
	for _, pair := range pairs {
		set, sels, ok := strings.Cut(pair, "=")
		if !ok || set == "" || sels == "" {
			return nil, fmt.Errorf("bad fallback %q, want set=sel[,sel...]", pair)
		}
		out[set] = append(out[set], strings.Split(sels, ",")...)
	}
	return out, nil
}

// parsePrimPaths validates the prim path arguments.
func parsePrimPaths(args []string) ([]sdf.Path, error) {
	paths := make([]sdf.Path, 0, len(args))
	for _, a := range args {
		p, err := sdf.ParsePath(a)
		if err != nil {
			return nil, fmt.Errorf("prim path %q: %w", a, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
