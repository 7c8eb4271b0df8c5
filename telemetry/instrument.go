//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-agent-guard/decision"
	"trpc.group/trpc-go/trpc-agent-guard/event"
)

// Instrument names.
const (
	InstrumentDecisions = "guard.decisions"
	InstrumentEvents    = "guard.events"
	InstrumentCostUSD   = "guard.cost.committed_usd"
)

// Attribute keys.
const (
	KeyChainID = attribute.Key("guard.chain_id")
	KeyAction  = attribute.Key("guard.action")
	KeyReason  = attribute.Key("guard.reason")
	KeyEvent   = attribute.Key("guard.event")
)

// Instruments bundles the containment counters.
type Instruments struct {
	decisions metric.Int64Counter
	events    metric.Int64Counter
	costUSD   metric.Float64Histogram
}

// NewInstruments creates the counters on the given meter. Pass the
// package Meter for the globally configured one.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	decisions, err := meter.Int64Counter(InstrumentDecisions,
		metric.WithDescription("Admission decisions by action and reason"))
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}
	events, err := meter.Int64Counter(InstrumentEvents,
		metric.WithDescription("Safety events by type"))
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}
	costUSD, err := meter.Float64Histogram(InstrumentCostUSD,
		metric.WithDescription("Committed cost per call in USD"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}
	return &Instruments{decisions: decisions, events: events, costUSD: costUSD}, nil
}

// RecordDecision counts one admission outcome.
func (i *Instruments) RecordDecision(ctx context.Context, chainID string, d decision.Decision) {
	attrs := []attribute.KeyValue{
		KeyChainID.String(chainID),
		KeyAction.String(string(d.Action)),
	}
	if d.Reason != "" {
		attrs = append(attrs, KeyReason.String(d.Reason))
	}
	i.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCost records committed dollars for one call.
func (i *Instruments) RecordCost(ctx context.Context, chainID string, usd float64) {
	if usd <= 0 {
		return
	}
	i.costUSD.Record(ctx, usd, metric.WithAttributes(KeyChainID.String(chainID)))
}

// Observer returns an event-bus subscriber that counts safety events,
// tagged with their decision when one is attached. Subscribe it to the
// bus the chains publish on.
func (i *Instruments) Observer() event.Subscriber {
	return func(e *event.Event) {
		attrs := []attribute.KeyValue{
			KeyChainID.String(e.ChainID),
			KeyEvent.String(e.Type),
		}
		if e.Decision.Action != "" {
			attrs = append(attrs, KeyAction.String(string(e.Decision.Action)))
		}
		i.events.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}
