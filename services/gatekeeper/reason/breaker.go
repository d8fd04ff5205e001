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
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the state of the reasoning-service breaker.
//
// # States
//
//   - Closed: Normal operation, calls flow through
//   - Open: Breaker tripped, calls are rejected immediately
//   - HalfOpen: Testing if the service recovered, limited calls allowed
type BreakerState int

const (
	// BreakerClosed is the normal operating state.
	BreakerClosed BreakerState = iota

	// BreakerOpen means the breaker has tripped and calls are rejected.
	BreakerOpen

	// BreakerHalfOpen means we're testing if the service has recovered.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrBreakerOpen is returned when the breaker rejects a call. Assisted
// layers translate it into a neutral result rather than surfacing it.
var ErrBreakerOpen = errors.New("reasoning service breaker is open")

// BreakerConfig controls how the breaker trips and recovers.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening.
	// Default: 3
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	// Default: 2
	SuccessThreshold int

	// Cooldown is how long to stay open before trying half-open.
	// Default: 60 seconds
	Cooldown time.Duration

	// OnStateChange is called on transitions. Called asynchronously so a
	// slow observer cannot block a validation run.
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig returns the tuned defaults for assisted layers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// Breaker short-circuits calls to a failing reasoning service.
//
// # Description
//
// Once the failure threshold is hit, further assisted-layer calls are
// rejected for a cooldown window so a dead service degrades validation
// strictness instead of stalling every pipeline run on timeouts.
//
// # Thread Safety
//
// Breaker is safe for concurrent use.
type Breaker struct {
	config      BreakerConfig
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	mu          sync.RWMutex
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	return &Breaker{
		config: config,
		state:  BreakerClosed,
	}
}

// Execute runs fn if the breaker allows it, recording the result.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) > b.config.Cooldown {
			b.transitionTo(BreakerHalfOpen)
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = time.Now()
		switch b.state {
		case BreakerClosed:
			if b.failures >= b.config.FailureThreshold {
				b.transitionTo(BreakerOpen)
			}
		case BreakerHalfOpen:
			b.transitionTo(BreakerOpen)
		}
		return
	}

	b.successes++
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.transitionTo(BreakerClosed)
		}
	}
}

func (b *Breaker) transitionTo(state BreakerState) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(old, state)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// Reset forces the breaker back to closed, clearing all counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.state
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	if old != BreakerClosed && b.config.OnStateChange != nil {
		go b.config.OnStateChange(old, BreakerClosed)
	}
}

// GuardedClient wraps a Client with a Breaker.
type GuardedClient struct {
	inner   Client
	breaker *Breaker
}

// NewGuardedClient wraps inner with the given breaker.
func NewGuardedClient(inner Client, breaker *Breaker) *GuardedClient {
	return &GuardedClient{inner: inner, breaker: breaker}
}

// Name implements the Client interface.
func (g *GuardedClient) Name() string {
	return g.inner.Name()
}

// Breaker exposes the underlying breaker for inspection.
func (g *GuardedClient) Breaker() *Breaker {
	return g.breaker
}

// Complete implements the Client interface. When the breaker is open the
// call fails immediately with ErrBreakerOpen.
func (g *GuardedClient) Complete(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := g.breaker.Execute(func() error {
		var cerr error
		resp, cerr = g.inner.Complete(ctx, req)
		return cerr
	})
	return resp, err
}
