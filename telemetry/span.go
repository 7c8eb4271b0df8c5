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

	"go.opentelemetry.io/otel/codes"
	semtrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-agent-guard/chain"
	"trpc.group/trpc-go/trpc-agent-guard/cost"
	"trpc.group/trpc-go/trpc-agent-guard/decision"
)

// WrapSpan runs the callback inside a span named guard.<kind>.<name>.
// The span records the degrade directive kind when one applies and the
// callback error as span status. With the default noop tracer this is
// free.
func WrapSpan(kind, name string, fn chain.CallFunc) chain.CallFunc {
	return func(ctx context.Context, d *decision.Directive) (*cost.Result, error) {
		ctx, span := Tracer.Start(ctx, "guard."+kind+"."+name)
		defer span.End()
		if d != nil {
			span.AddEvent("degraded", semtrace.WithAttributes(KeyReason.String(d.Kind)))
		}
		res, err := fn(ctx, d)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return res, err
	}
}
