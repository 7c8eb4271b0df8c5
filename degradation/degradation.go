//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

// Package degradation maps budget pressure to a tiered reduction
// directive. The ladder is a pure function of pressure for fixed
// thresholds, so it is trivially monotonic and race-free.
package degradation

import (
	"trpc.group/trpc-go/trpc-agent-guard/decision"
)

// Tier is the degradation level.
type Tier int

const (
	// TierNormal applies no reduction.
	TierNormal Tier = iota
	// TierSoft suggests a cheaper model.
	TierSoft
	// TierHard additionally trims context.
	TierHard
	// TierEmergency rate-limits everything that still runs.
	TierEmergency
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierSoft:
		return "soft"
	case TierHard:
		return "hard"
	case TierEmergency:
		return "emergency"
	}
	return "unknown"
}

// Thresholds are the pressure fractions at which tiers engage. They
// must satisfy 0 < Soft < Hard < Emergency <= 1; validation happens at
// chain construction.
type Thresholds struct {
	Soft      float64 `json:"soft"`
	Hard      float64 `json:"hard"`
	Emergency float64 `json:"emergency"`
}

// TierFor returns the tier for pressure p = spent/ceiling.
func TierFor(p float64, th Thresholds) Tier {
	switch {
	case p >= th.Emergency:
		return TierEmergency
	case p >= th.Hard:
		return TierHard
	case p >= th.Soft:
		return TierSoft
	default:
		return TierNormal
	}
}

// DirectiveFor returns the degradation directive for a tier, or nil for
// TierNormal. The engine attaches the directive to a Degrade decision;
// honoring it is the caller's job.
func DirectiveFor(t Tier) *decision.Directive {
	switch t {
	case TierSoft:
		return &decision.Directive{
			Kind:   decision.DirectiveModelDowngrade,
			Tier:   t.String(),
			Detail: "switch to a cheaper model for the remainder of the chain",
		}
	case TierHard:
		return &decision.Directive{
			Kind:   decision.DirectiveTrimContext,
			Tier:   t.String(),
			Detail: "downgrade the model and trim prompt context",
		}
	case TierEmergency:
		return &decision.Directive{
			Kind:   decision.DirectiveRateLimit,
			Tier:   t.String(),
			Detail: "rate-limit remaining calls; the chain is nearly exhausted",
		}
	}
	return nil
}
