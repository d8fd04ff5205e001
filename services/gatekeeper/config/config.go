// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the gatekeeper service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/orchestrate"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/refine"
)

// ReasonConfig tunes the reasoning-service client stack.
type ReasonConfig struct {
	// Enabled wires assisted layers to the reasoning service. Disabled,
	// they pass neutrally.
	Enabled bool `yaml:"enabled"`

	// MaxAttempts caps retries per assisted call.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1"`

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// RequestsPerSecond throttles outbound calls. Zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// BreakerFailures is the consecutive-failure trip threshold.
	BreakerFailures int `yaml:"breaker_failures" validate:"gte=1"`

	// BreakerCooldown is how long a tripped breaker stays open.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// ServerConfig tunes the HTTP validation endpoint.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// RequestTimeout bounds one validation request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Config is the full service configuration.
type Config struct {
	// Tuning holds the confidence-formula constants. They are tuned
	// against an evaluation set; override them, do not re-derive them.
	Tuning pipeline.Tuning `yaml:"tuning"`

	// Refine holds the refinement controller thresholds.
	Refine refine.Thresholds `yaml:"refine"`

	// Orchestrate holds retry budgets, stability passes, and phase
	// timeouts.
	Orchestrate orchestrate.Config `yaml:"orchestrate"`

	// Reason tunes the assisted-layer client stack.
	Reason ReasonConfig `yaml:"reason"`

	// Server tunes the HTTP endpoint.
	Server ServerConfig `yaml:"server"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the tuned configuration.
func Default() Config {
	return Config{
		Tuning:      pipeline.DefaultTuning(),
		Refine:      refine.DefaultThresholds(),
		Orchestrate: orchestrate.DefaultConfig(),
		Reason: ReasonConfig{
			Enabled:           true,
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        8 * time.Second,
			RequestsPerSecond: 2,
			BreakerFailures:   3,
			BreakerCooldown:   60 * time.Second,
		},
		Server: ServerConfig{
			Addr:           ":8089",
			RequestTimeout: 5 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults, applies environment
// overrides, and validates the result. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints on a configuration.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv lets deployment environments override the file without
// templating it.
func applyEnv(cfg *Config) {
	if addr := os.Getenv("PATCHGATE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("PATCHGATE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if v := os.Getenv("PATCHGATE_REASON_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Reason.Enabled = enabled
		}
	}
	if v := os.Getenv("PATCHGATE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Refine.MaxIterations = n
		}
	}
	if v := os.Getenv("PATCHGATE_STABILITY_PASSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.Orchestrate.StabilityPasses = n
		}
	}
}
