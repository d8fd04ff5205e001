// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessellate-ai/patchgate/pkg/logging"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/config"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline/layers"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/reason"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/server"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/telemetry"
)

var serveLogDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the patch validation HTTP service",
	Long: `Starts the gatekeeper service on the configured address. The
service exposes POST /api/v1/validate and GET /healthz.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "", "directory for daily log files (stderr only when empty)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLogs, err := logging.New(logging.Config{
		Level:   logging.Level(cfg.LogLevel),
		Service: "gatekeeper",
		LogDir:  serveLogDir,
		JSON:    serveLogDir != "",
	})
	if err != nil {
		return err
	}
	defer closeLogs()

	shutdownTelemetry, err := telemetry.Init("patchgate-gatekeeper")
	if err != nil && !errors.Is(err, telemetry.ErrAlreadyInitialized) {
		return fmt.Errorf("telemetry init: %w", err)
	}
	if shutdownTelemetry != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	pipe, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	handlers := server.NewHandlers(pipe, cfg.Server.RequestTimeout, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.NewRouter(handlers),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gatekeeper listening", "addr", cfg.Server.Addr, "version", server.ServiceVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildPipeline assembles the layer set and the assisted-layer client
// stack from configuration. With reasoning disabled the assisted layers
// get a nil client and pass neutrally.
func buildPipeline(cfg config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	var client reason.Client
	if cfg.Reason.Enabled {
		base, err := reason.NewOpenAIClient()
		if err != nil {
			logger.Warn("reasoning service unavailable, assisted layers pass neutrally", "error", err)
		} else {
			breaker := reason.NewBreaker(reason.BreakerConfig{
				FailureThreshold: cfg.Reason.BreakerFailures,
				SuccessThreshold: 2,
				Cooldown:         cfg.Reason.BreakerCooldown,
				OnStateChange: func(from, to reason.BreakerState) {
					logger.Warn("reasoning breaker state change",
						"from", from.String(), "to", to.String())
				},
			})
			client = reason.NewRetryingClient(
				reason.NewGuardedClient(base, breaker),
				reason.RetryConfig{
					MaxAttempts:       cfg.Reason.MaxAttempts,
					InitialInterval:   cfg.Reason.InitialBackoff,
					MaxInterval:       cfg.Reason.MaxBackoff,
					RequestsPerSecond: cfg.Reason.RequestsPerSecond,
				},
				logger,
			)
		}
	}

	stack := layers.Default(layers.Options{
		Client: client,
		Logger: logger,
	})
	return pipeline.New(cfg.Tuning, logger, stack...)
}
