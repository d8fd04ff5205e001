// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reason

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RetryConfig bounds the retry behavior of a RetryingClient.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per call. Default: 3.
	MaxAttempts int

	// InitialInterval is the first backoff delay. Default: 500ms.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay. Default: 8s.
	MaxInterval time.Duration

	// RequestsPerSecond throttles outbound calls. Zero disables the
	// limiter.
	RequestsPerSecond float64
}

// DefaultRetryConfig returns the tuned defaults for assisted layers.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialInterval:   500 * time.Millisecond,
		MaxInterval:       8 * time.Second,
		RequestsPerSecond: 2,
	}
}

// RetryingClient wraps a Client with capped exponential backoff and an
// outbound rate limit.
//
// Breaker rejections are not retried: an open breaker means the service is
// known-down and retrying would defeat the cooldown.
type RetryingClient struct {
	inner   Client
	config  RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRetryingClient wraps inner with the given retry policy.
func NewRetryingClient(inner Client, config RetryConfig, logger *slog.Logger) *RetryingClient {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = 500 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	rc := &RetryingClient{inner: inner, config: config, logger: logger}
	if config.RequestsPerSecond > 0 {
		rc.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return rc
}

// Name implements the Client interface.
func (r *RetryingClient) Name() string {
	return r.inner.Name()
}

// Complete implements the Client interface.
func (r *RetryingClient) Complete(ctx context.Context, req Request) (Response, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.config.InitialInterval
	policy.MaxInterval = r.config.MaxInterval
	policy.MaxElapsedTime = 0

	var resp Response
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		resp, err = r.inner.Complete(ctx, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBreakerOpen) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if attempt >= r.config.MaxAttempts {
			return backoff.Permanent(err)
		}
		r.logger.Warn("reasoning call failed, retrying",
			"backend", r.inner.Name(),
			"attempt", attempt,
			"error", err)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return resp, err
}
