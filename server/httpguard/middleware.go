//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package httpguard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"trpc.group/trpc-go/trpc-agent-guard/chain"
	"trpc.group/trpc-go/trpc-agent-guard/cost"
	"trpc.group/trpc-go/trpc-agent-guard/decision"
)

// Response headers set by the middleware.
const (
	HeaderDirective = "X-Guard-Directive"
	HeaderReason    = "X-Guard-Reason"
)

// retryAfterSeconds is the hint returned with 429 responses.
const retryAfterSeconds = 30

// Middleware routes every request through the chain's admission
// pipeline as a tool call named name with the given cost hint.
// Rejected requests answer 429 Too Many Requests with the stop reason
// in X-Guard-Reason; degraded requests still reach the handler and
// carry the directive JSON in X-Guard-Directive so the client can
// honor it.
func Middleware(c *chain.Context, name string, costHint float64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec, _, err := c.WrapToolCall(r.Context(), name, costHint,
				func(cctx context.Context, d *decision.Directive) (*cost.Result, error) {
					if d != nil {
						if blob, merr := json.Marshal(d); merr == nil {
							w.Header().Set(HeaderDirective, string(blob))
						}
					}
					next.ServeHTTP(w, r.WithContext(cctx))
					return nil, nil
				})
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			if dec.Halted() {
				w.Header().Set(HeaderReason, dec.Reason)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
				http.Error(w, "request rejected: "+dec.Reason, http.StatusTooManyRequests)
			}
		})
	}
}
