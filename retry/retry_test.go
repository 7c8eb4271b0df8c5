//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxRetries: -1})
	require.Error(t, err)
	_, err = New(Config{MaxRetries: 1, BaseDelay: -time.Second})
	require.Error(t, err)
	_, err = New(Config{MaxRetries: 1, Jitter: 1.0})
	require.Error(t, err)
	_, err = New(Config{MaxRetries: 1, Jitter: -0.1})
	require.Error(t, err)

	c, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestShouldRetryRespectsBudget(t *testing.T) {
	t.Parallel()

	c, err := New(Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second})
	require.NoError(t, err)

	require.True(t, c.ShouldRetry(0))
	require.True(t, c.ShouldRetry(1))
	require.False(t, c.ShouldRetry(2))
	require.False(t, c.ShouldRetry(-1))
}

func TestBackoffDelayGrowsAndClamps(t *testing.T) {
	t.Parallel()

	c, err := New(Config{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0})
	require.NoError(t, err)

	require.Equal(t, 100*time.Millisecond, c.BackoffDelay(0))
	require.Equal(t, 200*time.Millisecond, c.BackoffDelay(1))
	require.Equal(t, 400*time.Millisecond, c.BackoffDelay(2))
	// 100ms * 2^5 = 3.2s, clamped.
	require.Equal(t, time.Second, c.BackoffDelay(5))
	// Negative attempts behave like the first retry.
	require.Equal(t, 100*time.Millisecond, c.BackoffDelay(-3))
}

func TestBackoffDelayJitterStaysInBand(t *testing.T) {
	t.Parallel()

	c, err := New(Config{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute, Jitter: 0.25})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		d := c.BackoffDelay(1) // nominal 200ms
		require.GreaterOrEqual(t, d, 150*time.Millisecond)
		require.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestLineageAccounting(t *testing.T) {
	t.Parallel()

	c, err := New(Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second})
	require.NoError(t, err)

	require.False(t, c.Exceeded("op-a"))
	require.Equal(t, 1, c.Consume("op-a"))
	require.Equal(t, 2, c.Consume("op-a"))
	require.False(t, c.Exceeded("op-a"))
	require.Equal(t, 3, c.Consume("op-a"))
	require.True(t, c.Exceeded("op-a"))

	// Lineages are independent.
	require.False(t, c.Exceeded("op-b"))
	require.Equal(t, 1, c.Consume("op-b"))
	require.Equal(t, 4, c.Total())
	require.Equal(t, 3, c.Count("op-a"))
}
