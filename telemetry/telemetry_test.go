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
	"testing"

	"github.com/stretchr/testify/require"
	noopm "go.opentelemetry.io/otel/metric/noop"

	"trpc.group/trpc-go/trpc-agent-guard/cost"
	"trpc.group/trpc-go/trpc-agent-guard/decision"
	"trpc.group/trpc-go/trpc-agent-guard/event"
)

func TestGlobalsDefaultToNoop(t *testing.T) {
	require.NotNil(t, Tracer)
	require.NotNil(t, Meter)

	_, span := Tracer.Start(context.Background(), "noop")
	span.End()
}

func TestInstrumentsOnNoopMeter(t *testing.T) {
	t.Parallel()
	insts, err := NewInstruments(noopm.Meter{})
	require.NoError(t, err)

	ctx := context.Background()
	insts.RecordDecision(ctx, "chain-1", decision.Halt(decision.ReasonBudgetExceeded))
	insts.RecordDecision(ctx, "chain-1", decision.Allow())
	insts.RecordCost(ctx, "chain-1", 0.42)
	insts.RecordCost(ctx, "chain-1", 0)
}

func TestObserverHandlesEvents(t *testing.T) {
	t.Parallel()
	insts, err := NewInstruments(noopm.Meter{})
	require.NoError(t, err)

	obs := insts.Observer()
	obs(event.New("chain-1", event.TypeBudgetExceeded,
		event.WithDecision(decision.Halt(decision.ReasonBudgetExceeded))))
	obs(event.New("chain-1", event.TypeDivergenceSuspected))
}

func TestWrapSpanPassesThrough(t *testing.T) {
	t.Parallel()
	want := &cost.Result{CostUSD: 0.01, CostKnown: true}
	fn := WrapSpan("llm", "answer", func(ctx context.Context, d *decision.Directive) (*cost.Result, error) {
		require.NotNil(t, d)
		return want, nil
	})

	got, err := fn(context.Background(), &decision.Directive{Kind: decision.DirectiveModelDowngrade})
	require.NoError(t, err)
	require.Same(t, want, got)
}

func TestEndpointOptionsOverrideEnv(t *testing.T) {
	opts := &options{}
	WithTracesEndpoint("collector:4317")(opts)
	WithMetricsEndpoint("collector:4318")(opts)
	WithServiceName("guard-test")(opts)

	require.Equal(t, "collector:4317", opts.tracesEndpoint)
	require.Equal(t, "collector:4318", opts.metricsEndpoint)
	require.Equal(t, "guard-test", opts.serviceName)
}
