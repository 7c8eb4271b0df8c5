//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package breaker implements a three-state circuit breaker gating calls
// to a failing resource. One breaker may serve a single chain or be
// shared process-wide behind a registry entry; it synchronizes with its
// own mutex and must never be called while holding a chain lock.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker state machine position.
type State string

const (
	// StateClosed admits all calls.
	StateClosed State = "closed"
	// StateOpen rejects all calls until the recovery timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen State = "half_open"
)

// Default configuration values.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int `json:"failure_threshold"`

	// RecoveryTimeout is how long the breaker stays open before
	// admitting a half-open trial.
	RecoveryTimeout time.Duration `json:"recovery_timeout"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

// Breaker is a three-state circuit breaker. The zero value is not
// usable; use New.
type Breaker struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	state        State
	consecutive  int
	openedAt     time.Time
	trialPending bool
}

// Option configures a Breaker at construction.
type Option func(*Breaker)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a closed Breaker.
func New(cfg Config, opts ...Option) (*Breaker, error) {
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("breaker: failure threshold must be positive, got %d", cfg.FailureThreshold)
	}
	if cfg.RecoveryTimeout <= 0 {
		return nil, fmt.Errorf("breaker: recovery timeout must be positive, got %v", cfg.RecoveryTimeout)
	}
	b := &Breaker{cfg: cfg, now: time.Now, state: StateClosed}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Allow reports whether a call may proceed. trial is true when the call
// is the single half-open probe; its outcome must be reported with
// ResolveTrial or the slot released with CancelTrial. Concurrent racers
// for the trial slot serialize here: exactly one wins, the rest are
// rejected.
func (b *Breaker) Allow() (ok, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return false, false
		}
		b.state = StateHalfOpen
		b.trialPending = true
		return true, true
	case StateHalfOpen:
		if b.trialPending {
			return false, false
		}
		b.trialPending = true
		return true, true
	}
	return false, false
}

// RecordSuccess feeds a successful non-trial call outcome. Outcomes
// landing after the breaker left CLOSED belong to calls admitted
// before the trip and never resolve the trial; only ResolveTrial moves
// the breaker out of HALF_OPEN.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		b.consecutive = 0
	}
}

// RecordFailure feeds a failed non-trial call outcome. Returns true
// when this failure tripped the breaker open. Stale failures from
// closed-era calls arriving while OPEN or HALF_OPEN do not restart the
// recovery timer.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		b.consecutive++
		if b.consecutive >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			return true
		}
	}
	return false
}

// ResolveTrial reports the outcome of the call that won the half-open
// trial slot: success closes the circuit, failure reopens it and
// restarts the recovery timer. resolved is false when there was no
// pending trial to resolve, in which case the state is unchanged.
func (b *Breaker) ResolveTrial(success bool) (state State, resolved bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateHalfOpen || !b.trialPending {
		return b.state, false
	}
	b.trialPending = false
	if success {
		b.state = StateClosed
		b.consecutive = 0
	} else {
		b.state = StateOpen
		b.openedAt = b.now()
		b.consecutive++
	}
	return b.state, true
}

// CancelTrial releases the half-open trial slot without an outcome,
// e.g. when a later admission gate rejected the trial call before it
// dispatched. The breaker stays half-open so the next caller can probe.
func (b *Breaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialPending = false
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is an exportable breaker state for persistence and replay.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Export captures the current state. Single-writer semantics: the
// snapshot is a point-in-time copy, not a live sync mechanism.
func (b *Breaker) Export() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutive,
		OpenedAt:            b.openedAt,
	}
}

// Import restores a previously exported snapshot.
func (b *Breaker) Import(s Snapshot) error {
	switch s.State {
	case StateClosed, StateOpen, StateHalfOpen:
	default:
		return fmt.Errorf("breaker: unknown state %q", s.State)
	}
	if s.State == StateOpen && s.OpenedAt.IsZero() {
		return fmt.Errorf("breaker: open snapshot missing opened_at")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s.State
	b.consecutive = s.ConsecutiveFailures
	b.openedAt = s.OpenedAt
	b.trialPending = false
	return nil
}
