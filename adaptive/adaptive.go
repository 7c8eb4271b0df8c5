//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package adaptive implements a feedback controller that adjusts an
// enforced cost ceiling from a rolling window of safety outcomes.
// Tightening is immediate on pressure signals; loosening is slow,
// gated by a cooldown and a direction lock so the loop cannot
// oscillate. The controller may be chain-local or shared process-wide
// behind a registry entry; it synchronizes with its own mutex.
package adaptive

import (
	"fmt"
	"sync"
	"time"
)

// Direction records which way the last adjustment moved the ceiling.
type Direction string

const (
	// DirectionNone means no adjustment is in effect.
	DirectionNone Direction = "none"
	// DirectionTightened means the last adjustment lowered the ceiling.
	DirectionTightened Direction = "tightened"
	// DirectionLoosened means the last adjustment raised the ceiling.
	DirectionLoosened Direction = "loosened"
)

// Observation kinds fed to the controller.
const (
	// ObservationExceeded reports a budget or limit violation.
	ObservationExceeded = "exceeded"
	// ObservationAnomaly reports suspicious but non-fatal behavior,
	// e.g. divergence or a tripped breaker.
	ObservationAnomaly = "anomaly"
	// ObservationOK reports a cleanly committed call.
	ObservationOK = "ok"
)

// Default configuration values.
const (
	DefaultTightenFactor   = 0.8
	DefaultLoosenFactor    = 1.1
	DefaultMaxStepFraction = 0.25
	DefaultCooldown        = time.Minute
	DefaultCleanWindows    = 2
	DefaultWindowSize      = 64
	DefaultAnomalyBurst    = 3
	DefaultAnomalyWindow   = 10 * time.Second
	DefaultAnomalyFactor   = 0.5
	DefaultAnomalyDecay    = 5 * time.Minute
)

// Config configures a Controller.
type Config struct {
	// InitialCeiling is the starting enforced ceiling.
	InitialCeiling float64 `json:"initial_ceiling"`
	// Floor is the lowest the ceiling may be driven.
	Floor float64 `json:"floor"`
	// HardCeiling is the highest the ceiling may be loosened to.
	HardCeiling float64 `json:"hard_ceiling"`

	// TightenFactor scales the ceiling on an exceeded observation;
	// must be in (0, 1).
	TightenFactor float64 `json:"tighten_factor"`
	// LoosenFactor scales the ceiling on a clean loosen; must be > 1.
	LoosenFactor float64 `json:"loosen_factor"`
	// MaxStepFraction caps the relative change of any single
	// adjustment, smoothing the loop.
	MaxStepFraction float64 `json:"max_step_fraction"`

	// Cooldown is the minimum quiet period between adjustments and the
	// width of one clean window.
	Cooldown time.Duration `json:"cooldown"`
	// CleanWindows is how many consecutive clean windows clear the
	// direction lock before loosening may resume.
	CleanWindows int `json:"clean_windows"`

	// AnomalyBurst anomalies within AnomalyWindow trigger an immediate
	// extra cut by AnomalyFactor, recovered after AnomalyDecay.
	AnomalyBurst  int           `json:"anomaly_burst"`
	AnomalyWindow time.Duration `json:"anomaly_window"`
	AnomalyFactor float64       `json:"anomaly_factor"`
	AnomalyDecay  time.Duration `json:"anomaly_decay"`

	// WindowSize caps the rolling observation window.
	WindowSize int `json:"window_size"`
}

// DefaultConfig returns a controller config for the given ceiling
// bounds.
func DefaultConfig(initial, floor, hard float64) Config {
	return Config{
		InitialCeiling:  initial,
		Floor:           floor,
		HardCeiling:     hard,
		TightenFactor:   DefaultTightenFactor,
		LoosenFactor:    DefaultLoosenFactor,
		MaxStepFraction: DefaultMaxStepFraction,
		Cooldown:        DefaultCooldown,
		CleanWindows:    DefaultCleanWindows,
		AnomalyBurst:    DefaultAnomalyBurst,
		AnomalyWindow:   DefaultAnomalyWindow,
		AnomalyFactor:   DefaultAnomalyFactor,
		AnomalyDecay:    DefaultAnomalyDecay,
		WindowSize:      DefaultWindowSize,
	}
}

type observation struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Controller adjusts an enforced ceiling from observed outcomes. It is
// safe for concurrent use.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	ceiling        float64
	direction      Direction
	lastAdjustment time.Time
	windowStart    time.Time
	cleanWindows   int
	window         []observation

	anomalyActive   bool
	anomalyUntil    time.Time
	anomalyCutRatio float64
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller. Bounds and factors are validated.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.Floor <= 0 || cfg.HardCeiling < cfg.Floor {
		return nil, fmt.Errorf("adaptive: bounds must satisfy 0 < floor <= hard_ceiling, got floor=%v hard=%v",
			cfg.Floor, cfg.HardCeiling)
	}
	if cfg.InitialCeiling < cfg.Floor || cfg.InitialCeiling > cfg.HardCeiling {
		return nil, fmt.Errorf("adaptive: initial ceiling %v outside [%v, %v]",
			cfg.InitialCeiling, cfg.Floor, cfg.HardCeiling)
	}
	if cfg.TightenFactor <= 0 || cfg.TightenFactor >= 1 {
		return nil, fmt.Errorf("adaptive: tighten factor must be in (0, 1), got %v", cfg.TightenFactor)
	}
	if cfg.LoosenFactor <= 1 {
		return nil, fmt.Errorf("adaptive: loosen factor must be > 1, got %v", cfg.LoosenFactor)
	}
	if cfg.MaxStepFraction <= 0 || cfg.MaxStepFraction > 1 {
		return nil, fmt.Errorf("adaptive: max step fraction must be in (0, 1], got %v", cfg.MaxStepFraction)
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("adaptive: cooldown must be positive, got %v", cfg.Cooldown)
	}
	if cfg.CleanWindows < 0 {
		return nil, fmt.Errorf("adaptive: clean windows cannot be negative, got %d", cfg.CleanWindows)
	}
	if cfg.AnomalyFactor <= 0 || cfg.AnomalyFactor >= 1 {
		return nil, fmt.Errorf("adaptive: anomaly factor must be in (0, 1), got %v", cfg.AnomalyFactor)
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}

	c := &Controller{
		cfg:       cfg,
		now:       time.Now,
		ceiling:   cfg.InitialCeiling,
		direction: DirectionNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.windowStart = c.now()
	return c, nil
}

// Ceiling returns the currently enforced ceiling.
func (c *Controller) Ceiling() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decayAnomalyLocked(c.now())
	return c.ceiling
}

// Direction returns the current direction lock.
func (c *Controller) Direction() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

// Observe feeds one outcome into the controller. kind is one of the
// Observation* constants. The returned value is the ceiling after any
// adjustment.
func (c *Controller) Observe(kind string) float64 {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decayAnomalyLocked(now)
	c.record(observation{Kind: kind, At: now})

	switch kind {
	case ObservationExceeded:
		c.tightenLocked(now, c.cfg.TightenFactor, true)
	case ObservationAnomaly:
		if c.anomalyBurstLocked(now) && !c.anomalyActive {
			// The emergency cut bypasses smoothing.
			before := c.ceiling
			c.tightenLocked(now, c.cfg.AnomalyFactor, false)
			c.anomalyActive = true
			c.anomalyUntil = now.Add(c.cfg.AnomalyDecay)
			if before > 0 {
				c.anomalyCutRatio = c.ceiling / before
			} else {
				c.anomalyCutRatio = 1
			}
		}
	case ObservationOK:
		c.maybeLoosenLocked(now)
	}
	return c.ceiling
}

func (c *Controller) record(o observation) {
	if len(c.window) >= c.cfg.WindowSize {
		// Sliding window: earliest retained is dropped first.
		c.window = c.window[1:]
	}
	c.window = append(c.window, o)
}

// tightenLocked applies a multiplicative cut, optionally smoothed, and
// clamps to the floor.
func (c *Controller) tightenLocked(now time.Time, factor float64, smooth bool) {
	next := c.ceiling * factor
	if smooth {
		if minNext := c.ceiling * (1 - c.cfg.MaxStepFraction); next < minNext {
			next = minNext
		}
	}
	if next < c.cfg.Floor {
		next = c.cfg.Floor
	}
	c.ceiling = next
	c.direction = DirectionTightened
	c.lastAdjustment = now
	c.windowStart = now
	c.cleanWindows = 0
}

// maybeLoosenLocked evaluates the slow path: count clean windows, clear
// the direction lock, then raise the ceiling one smoothed step.
func (c *Controller) maybeLoosenLocked(now time.Time) {
	if now.Sub(c.windowStart) < c.cfg.Cooldown {
		return
	}
	if c.exceededSinceLocked(c.windowStart) {
		// Not a clean window; start over.
		c.cleanWindows = 0
		c.windowStart = now
		return
	}
	c.cleanWindows++
	c.windowStart = now

	if c.direction == DirectionTightened {
		if c.cleanWindows < c.cfg.CleanWindows {
			return
		}
		// Lock cleared; loosening resumes on the next clean window.
		c.direction = DirectionNone
		return
	}
	if c.anomalyActive {
		// The anomaly cut recovers on its own schedule; do not loosen
		// on top of it.
		return
	}
	if c.ceiling >= c.cfg.HardCeiling {
		return
	}

	next := c.ceiling * c.cfg.LoosenFactor
	if maxNext := c.ceiling * (1 + c.cfg.MaxStepFraction); next > maxNext {
		next = maxNext
	}
	if next > c.cfg.HardCeiling {
		next = c.cfg.HardCeiling
	}
	c.ceiling = next
	c.direction = DirectionLoosened
	c.lastAdjustment = now
}

func (c *Controller) exceededSinceLocked(since time.Time) bool {
	for i := len(c.window) - 1; i >= 0; i-- {
		o := c.window[i]
		// The observation that triggered the last adjustment sits at
		// exactly windowStart and does not count against the new window.
		if !o.At.After(since) {
			break
		}
		if o.Kind == ObservationExceeded {
			return true
		}
	}
	return false
}

func (c *Controller) anomalyBurstLocked(now time.Time) bool {
	cutoff := now.Add(-c.cfg.AnomalyWindow)
	n := 0
	for i := len(c.window) - 1; i >= 0; i-- {
		o := c.window[i]
		if o.At.Before(cutoff) {
			break
		}
		if o.Kind == ObservationAnomaly {
			n++
		}
	}
	return n >= c.cfg.AnomalyBurst
}

// decayAnomalyLocked undoes an expired anomaly cut.
func (c *Controller) decayAnomalyLocked(now time.Time) {
	if !c.anomalyActive || now.Before(c.anomalyUntil) {
		return
	}
	c.anomalyActive = false
	ratio := c.anomalyCutRatio
	c.anomalyCutRatio = 0
	if ratio <= 0 || ratio >= 1 {
		return
	}
	next := c.ceiling / ratio
	if next > c.cfg.HardCeiling {
		next = c.cfg.HardCeiling
	}
	c.ceiling = next
}
