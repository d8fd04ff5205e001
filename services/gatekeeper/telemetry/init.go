// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Sentinel errors for the telemetry package.
var (
	// ErrAlreadyInitialized is returned if Init is called more than once.
	ErrAlreadyInitialized = errors.New("telemetry already initialized")
)

var (
	initOnce    sync.Once
	initialized bool
)

// Shutdown tears down the configured providers.
type Shutdown func(context.Context) error

// Init installs stdout-exporting trace and metric providers.
//
// Description:
//
//	Intended for CLI runs and local debugging. Service deployments swap
//	in their own exporters before calling anything in this module; Init
//	is optional and everything degrades to no-op providers without it.
//
// Inputs:
//
//	serviceName - Value for the service.name resource attribute.
//
// Outputs:
//
//	Shutdown - Flushes and stops the providers.
//	error - ErrAlreadyInitialized on repeat calls, or exporter setup
//	        failure.
func Init(serviceName string) (Shutdown, error) {
	var shutdown Shutdown
	var initErr error

	ran := false
	initOnce.Do(func() {
		ran = true

		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		))
		if err != nil {
			initErr = err
			return
		}

		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = err
			return
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)

		metricExporter, err := stdoutmetric.New()
		if err != nil {
			initErr = err
			return
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(30*time.Second))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)

		initialized = true
		shutdown = func(ctx context.Context) error {
			mErr := mp.Shutdown(ctx)
			tErr := tp.Shutdown(ctx)
			if tErr != nil {
				return tErr
			}
			return mErr
		}
	})

	if !ran {
		return nil, ErrAlreadyInitialized
	}
	if initErr != nil {
		return nil, initErr
	}
	return shutdown, nil
}
