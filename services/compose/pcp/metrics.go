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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for composition operations.
var (
	tracer = otel.Tracer("aleutian.compose")
	meter  = otel.Meter("aleutian.compose")
)

// Metrics for prim index computation.
var (
	indexLatency metric.Float64Histogram
	indexTotal   metric.Int64Counter
	indexNodes   metric.Int64Histogram
	indexErrors  metric.Int64Counter
	cacheLookups metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		indexLatency, err = meter.Float64Histogram(
			"compose_index_duration_seconds",
			metric.WithDescription("Duration of prim index computations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		indexTotal, err = meter.Int64Counter(
			"compose_index_total",
			metric.WithDescription("Total number of prim index computations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		indexNodes, err = meter.Int64Histogram(
			"compose_index_nodes",
			metric.WithDescription("Number of graph nodes per computed index"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		indexErrors, err = meter.Int64Counter(
			"compose_index_errors_total",
			metric.WithDescription("Composition errors accumulated across builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLookups, err = meter.Int64Counter(
			"compose_index_cache_lookups_total",
			metric.WithDescription("Index cache lookups by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordIndexMetrics records metrics for one index computation.
func recordIndexMetrics(ctx context.Context, duration time.Duration, nodeCount, errorCount int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("errors", errorCount > 0))

	indexLatency.Record(ctx, duration.Seconds(), attrs)
	indexTotal.Add(ctx, 1, attrs)
	indexNodes.Record(ctx, int64(nodeCount))
	if errorCount > 0 {
		indexErrors.Add(ctx, int64(errorCount))
	}
}

// recordCacheLookup records a cache hit or miss.
func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}
