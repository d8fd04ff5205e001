// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for pipeline operations.
var (
	tracer = otel.Tracer("patchgate.pipeline")
	meter  = otel.Meter("patchgate.pipeline")
)

var (
	layersTotal         metric.Int64Counter
	layerDuration       metric.Float64Histogram
	issuesTotal         metric.Int64Counter
	verdictsTotal       metric.Int64Counter
	confidenceHistogram metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		layersTotal, err = meter.Int64Counter(
			"validation_layers_total",
			metric.WithDescription("Layer executions by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		layerDuration, err = meter.Float64Histogram(
			"validation_layer_duration_seconds",
			metric.WithDescription("Layer execution duration by kind"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		issuesTotal, err = meter.Int64Counter(
			"validation_issues_total",
			metric.WithDescription("Issues by layer and effective severity"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verdictsTotal, err = meter.Int64Counter(
			"validation_verdicts_total",
			metric.WithDescription("Verdicts by validity"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		confidenceHistogram, err = meter.Float64Histogram(
			"validation_confidence",
			metric.WithDescription("Aggregated verdict confidence"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordLayer records metrics for one layer execution.
func recordLayer(ctx context.Context, kind LayerKind, result LayerResult, elapsed time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("layer", kind.String()))
	layersTotal.Add(ctx, 1, attrs)
	layerDuration.Record(ctx, elapsed.Seconds(), attrs)
	for _, is := range result.Issues {
		issuesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("layer", kind.String()),
			attribute.String("severity", string(is.EffectiveSeverity)),
		))
	}
}

// recordVerdict records metrics for a completed validation.
func recordVerdict(ctx context.Context, v *Verdict) {
	if initMetrics() != nil {
		return
	}
	verdictsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("valid", v.Valid),
		attribute.Bool("apply_passed", v.ApplyPassed),
	))
	confidenceHistogram.Record(ctx, v.Confidence)
}
