//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package retry implements a bounded retry budget with jittered
// exponential backoff. Jitter decorrelates concurrent retrying callers
// so a shared upstream failure does not produce synchronized bursts.
package retry

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"
)

// Default configuration values.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	DefaultJitter     = 0.25
)

// Config configures a Container.
type Config struct {
	// MaxRetries is the retry budget per lineage; the initial attempt
	// is not counted.
	MaxRetries int `json:"max_retries"`

	// BaseDelay is the backoff delay before the first retry.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay clamps the computed backoff.
	MaxDelay time.Duration `json:"max_delay"`

	// Jitter is the relative jitter fraction in [0, 1); the delay is
	// scaled by a random factor in [1-Jitter, 1+Jitter].
	Jitter float64 `json:"jitter"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     DefaultJitter,
	}
}

// Container tracks retry consumption per call lineage and computes
// backoff delays. It is safe for concurrent use.
type Container struct {
	cfg Config

	mu     sync.Mutex
	counts map[string]int
}

// New creates a Container. The config is validated: a negative budget,
// negative delays or jitter outside [0, 1) are programming errors.
func New(cfg Config) (*Container, error) {
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("retry: max retries cannot be negative, got %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay < 0 || cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("retry: delays cannot be negative, got base=%v max=%v", cfg.BaseDelay, cfg.MaxDelay)
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return nil, fmt.Errorf("retry: jitter must be in [0, 1), got %v", cfg.Jitter)
	}
	return &Container{cfg: cfg, counts: make(map[string]int)}, nil
}

// ShouldRetry reports whether another retry fits the budget. attempt is
// zero-based: attempt 0 is the first retry.
func (c *Container) ShouldRetry(attempt int) bool {
	return attempt >= 0 && attempt < c.cfg.MaxRetries
}

// BackoffDelay returns base*2^attempt scaled by the jitter factor and
// clamped to [0, MaxDelay].
func (c *Container) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if c.cfg.Jitter > 0 && delay > 0 {
		// Random factor in [1-j, 1+j] from a crypto source, matching the
		// backoff style used for graph node retries.
		span := math.Min(2*c.cfg.Jitter*delay, math.MaxInt64/2)
		if span >= 1 {
			if n, err := rand.Int(rand.Reader, big.NewInt(int64(span))); err == nil {
				delay = delay*(1-c.cfg.Jitter) + float64(n.Int64())
			}
		}
	}
	if maxDelay := float64(c.cfg.MaxDelay); c.cfg.MaxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Consume records one retry against the lineage and returns the updated
// count.
func (c *Container) Consume(lineage string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[lineage]++
	return c.counts[lineage]
}

// Exceeded reports whether the lineage has spent its retry budget.
func (c *Container) Exceeded(lineage string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[lineage] > c.cfg.MaxRetries
}

// Count returns the retries consumed by the lineage.
func (c *Container) Count(lineage string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[lineage]
}

// Total returns the retries consumed across all lineages.
func (c *Container) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}
