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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("service down")

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return errDown })
		assert.ErrorIs(t, err, errDown)
	}
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Execute(func() error {
		t.Fatal("open breaker must not invoke the call")
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute})

	require.Error(t, b.Execute(func() error { return errDown }))
	require.Error(t, b.Execute(func() error { return errDown }))
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Error(t, b.Execute(func() error { return errDown }))

	assert.Equal(t, BreakerClosed, b.State(), "interleaved success keeps the breaker closed")
	assert.Equal(t, 1, b.Failures())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Millisecond})

	require.Error(t, b.Execute(func() error { return errDown }))
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, BreakerHalfOpen, b.State(), "one success is not enough to close")
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Millisecond})

	require.Error(t, b.Execute(func() error { return errDown }))
	time.Sleep(20 * time.Millisecond)
	require.Error(t, b.Execute(func() error { return errDown }))

	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Minute})
	require.Error(t, b.Execute(func() error { return errDown }))
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestGuardedClientShortCircuits(t *testing.T) {
	inner := FailingMockClient(errDown)
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute})
	client := NewGuardedClient(inner, b)

	ctx := context.Background()
	_, err := client.Complete(ctx, Request{Prompt: "p"})
	require.ErrorIs(t, err, errDown)
	_, err = client.Complete(ctx, Request{Prompt: "p"})
	require.ErrorIs(t, err, errDown)

	_, err = client.Complete(ctx, Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 2, inner.Calls(), "rejected calls never reach the backend")
	assert.Equal(t, "mock", client.Name())
}

func TestRetryingClientRetriesTransientFailure(t *testing.T) {
	inner := NewMockClient(
		MockReply{Err: errDown},
		MockReply{Err: errDown},
		MockReply{Content: "ok"},
	)
	client := NewRetryingClient(inner, RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, nil)

	resp, err := client.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.Calls())
}

func TestRetryingClientStopsAtAttemptCap(t *testing.T) {
	inner := FailingMockClient(errDown)
	client := NewRetryingClient(inner, RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, nil)

	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 3, inner.Calls())
}

func TestRetryingClientDoesNotRetryOpenBreaker(t *testing.T) {
	inner := FailingMockClient(ErrBreakerOpen)
	client := NewRetryingClient(inner, RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, nil)

	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 1, inner.Calls(), "an open breaker is a permanent condition")
}

func TestRetryingClientHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := NewMockClient(MockReply{Content: "ok"})
	client := NewRetryingClient(inner, RetryConfig{
		MaxAttempts:       3,
		InitialInterval:   time.Millisecond,
		RequestsPerSecond: 1,
	}, nil)

	_, err := client.Complete(ctx, Request{Prompt: "p"})
	assert.Error(t, err)
	assert.Zero(t, inner.Calls(), "cancelled context never reaches the backend")
}

func TestMockClientReplaysScriptAndRepeatsLast(t *testing.T) {
	m := NewMockClient(MockReply{Content: "a"}, MockReply{Content: "b"})
	ctx := context.Background()

	r1, err := m.Complete(ctx, Request{Prompt: "1"})
	require.NoError(t, err)
	r2, _ := m.Complete(ctx, Request{Prompt: "2"})
	r3, _ := m.Complete(ctx, Request{Prompt: "3"})

	assert.Equal(t, "a", r1.Content)
	assert.Equal(t, "b", r2.Content)
	assert.Equal(t, "b", r3.Content, "exhausted script repeats the last reply")
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, "3", m.LastRequest().Prompt)
}
