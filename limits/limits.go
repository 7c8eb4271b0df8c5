//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package limits groups the per-chain containment knobs so upper layers
// can pass them as a single value. Invalid limits are a programming
// error and fail fast at construction time.
package limits

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration is wrapped by every validation failure so callers can
// detect misconfiguration with errors.Is.
var ErrConfiguration = errors.New("invalid containment configuration")

// Default limit values.
const (
	DefaultMaxCostUSD = 5.0
	DefaultMaxSteps   = 50
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Minute

	DefaultSoftThreshold      = 0.70
	DefaultHardThreshold      = 0.85
	DefaultEmergencyThreshold = 0.95

	DefaultMaxGraphNodes = 4096
	DefaultMaxEvents     = 512

	DefaultToolRepeatThreshold = 3
	DefaultLLMRepeatThreshold  = 5
)

// Limits bounds one chain. The zero value is not usable; start from
// DefaultLimits and override.
type Limits struct {
	// MaxCostUSD is the hard cost ceiling for the chain, committed plus
	// pending reservations.
	MaxCostUSD float64 `json:"max_cost_usd"`

	// MaxSteps caps the number of admitted calls.
	MaxSteps int `json:"max_steps"`

	// MaxRetries caps retries per call lineage.
	MaxRetries int `json:"max_retries"`

	// Timeout aborts the chain when exceeded; 0 disables the watcher.
	Timeout time.Duration `json:"timeout"`

	// SoftThreshold, HardThreshold and EmergencyThreshold are pressure
	// fractions (spent/ceiling) at which degradation tiers engage.
	// They must satisfy 0 < soft < hard < emergency <= 1.
	SoftThreshold      float64 `json:"soft_threshold"`
	HardThreshold      float64 `json:"hard_threshold"`
	EmergencyThreshold float64 `json:"emergency_threshold"`

	// MaxGraphNodes caps the execution graph ledger. Insertions beyond
	// the cap are rejected and the truncation is reported once.
	MaxGraphNodes int `json:"max_graph_nodes"`

	// MaxEvents caps the chain-local safety event log.
	MaxEvents int `json:"max_events"`

	// ToolRepeatThreshold and LLMRepeatThreshold configure the
	// divergence detector's trailing-run triggers.
	ToolRepeatThreshold int `json:"tool_repeat_threshold"`
	LLMRepeatThreshold  int `json:"llm_repeat_threshold"`
}

// DefaultLimits returns the default chain limits.
func DefaultLimits() Limits {
	return Limits{
		MaxCostUSD:          DefaultMaxCostUSD,
		MaxSteps:            DefaultMaxSteps,
		MaxRetries:          DefaultMaxRetries,
		Timeout:             DefaultTimeout,
		SoftThreshold:       DefaultSoftThreshold,
		HardThreshold:       DefaultHardThreshold,
		EmergencyThreshold:  DefaultEmergencyThreshold,
		MaxGraphNodes:       DefaultMaxGraphNodes,
		MaxEvents:           DefaultMaxEvents,
		ToolRepeatThreshold: DefaultToolRepeatThreshold,
		LLMRepeatThreshold:  DefaultLLMRepeatThreshold,
	}
}

// WithMaxCostUSD sets the cost ceiling.
func (l Limits) WithMaxCostUSD(v float64) Limits {
	l.MaxCostUSD = v
	return l
}

// WithMaxSteps sets the step cap.
func (l Limits) WithMaxSteps(n int) Limits {
	l.MaxSteps = n
	return l
}

// WithMaxRetries sets the per-lineage retry cap.
func (l Limits) WithMaxRetries(n int) Limits {
	l.MaxRetries = n
	return l
}

// WithTimeout sets the chain wall-clock timeout.
func (l Limits) WithTimeout(d time.Duration) Limits {
	l.Timeout = d
	return l
}

// WithThresholds sets the degradation tier thresholds.
func (l Limits) WithThresholds(soft, hard, emergency float64) Limits {
	l.SoftThreshold = soft
	l.HardThreshold = hard
	l.EmergencyThreshold = emergency
	return l
}

// Validate checks the limits and returns an error wrapping
// ErrConfiguration on the first violation.
func (l Limits) Validate() error {
	if l.MaxCostUSD <= 0 {
		return fmt.Errorf("%w: max_cost_usd must be positive, got %v", ErrConfiguration, l.MaxCostUSD)
	}
	if l.MaxSteps <= 0 {
		return fmt.Errorf("%w: max_steps must be positive, got %d", ErrConfiguration, l.MaxSteps)
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries cannot be negative, got %d", ErrConfiguration, l.MaxRetries)
	}
	if l.Timeout < 0 {
		return fmt.Errorf("%w: timeout cannot be negative, got %v", ErrConfiguration, l.Timeout)
	}
	if l.SoftThreshold <= 0 || l.SoftThreshold >= l.HardThreshold {
		return fmt.Errorf("%w: thresholds must satisfy 0 < soft < hard, got soft=%v hard=%v",
			ErrConfiguration, l.SoftThreshold, l.HardThreshold)
	}
	if l.HardThreshold >= l.EmergencyThreshold || l.EmergencyThreshold > 1 {
		return fmt.Errorf("%w: thresholds must satisfy hard < emergency <= 1, got hard=%v emergency=%v",
			ErrConfiguration, l.HardThreshold, l.EmergencyThreshold)
	}
	if l.MaxGraphNodes <= 0 {
		return fmt.Errorf("%w: max_graph_nodes must be positive, got %d", ErrConfiguration, l.MaxGraphNodes)
	}
	if l.MaxEvents <= 0 {
		return fmt.Errorf("%w: max_events must be positive, got %d", ErrConfiguration, l.MaxEvents)
	}
	if l.ToolRepeatThreshold <= 0 || l.LLMRepeatThreshold <= 0 {
		return fmt.Errorf("%w: repeat thresholds must be positive, got tool=%d llm=%d",
			ErrConfiguration, l.ToolRepeatThreshold, l.LLMRepeatThreshold)
	}
	return nil
}
