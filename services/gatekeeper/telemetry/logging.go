// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry provides tracing, metrics, and trace-correlated
// logging helpers for the gatekeeper service.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a logger with trace context injected.
//
// Description:
//
//	Extracts trace_id and span_id from the context and adds them as
//	structured log fields so logs correlate with traces.
//
// Inputs:
//
//	ctx - Context containing span context. May be nil or have no span.
//	logger - Base logger. May be nil (slog.Default is used).
//
// Outputs:
//
//	*slog.Logger - Logger with trace fields when a valid span exists.
//
// Thread Safety: safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}

	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// LoggerWithRequest returns a trace-correlated logger tagged with the
// issue-fix request ID.
func LoggerWithRequest(ctx context.Context, logger *slog.Logger, requestID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(slog.String("request_id", requestID))
}
