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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-guard/chain"
	"trpc.group/trpc-go/trpc-agent-guard/cost"
	"trpc.group/trpc-go/trpc-agent-guard/decision"
	"trpc.group/trpc-go/trpc-agent-guard/limits"
)

func newChain(t *testing.T, l limits.Limits) *chain.Context {
	t.Helper()
	c, err := chain.New(l)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func spend(t *testing.T, c *chain.Context, usd float64) {
	t.Helper()
	_, _, err := c.WrapLLMCall(context.Background(), "spend", usd,
		func(ctx context.Context, d *decision.Directive) (*cost.Result, error) {
			return &cost.Result{CostUSD: usd, CostKnown: true}, nil
		})
	require.NoError(t, err)
}

func TestSnapshotEndpoints(t *testing.T) {
	t.Parallel()
	c := newChain(t, limits.DefaultLimits().WithTimeout(0))
	spend(t, c, 0.10)

	s := New()
	s.Register(c)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/guard/chains/" + c.ID())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap chain.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, c.ID(), snap.ChainID)
	require.InDelta(t, 0.10, snap.Counters.CostSpent, 1e-9)

	resp, err = http.Get(ts.URL + "/guard/chains/" + c.ID() + "/graph")
	require.NoError(t, err)
	defer resp.Body.Close()
	var graph chain.GraphSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graph))
	require.Len(t, graph.Nodes, 1)

	resp, err = http.Get(ts.URL + "/guard/chains/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListChains(t *testing.T) {
	t.Parallel()
	s := New()
	s.Register(newChain(t, limits.DefaultLimits().WithTimeout(0)))
	s.Register(newChain(t, limits.DefaultLimits().WithTimeout(0)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/guard/chains")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snaps []chain.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	require.Len(t, snaps, 2)
}

func TestMiddlewareAllowsWithinBudget(t *testing.T) {
	t.Parallel()
	c := newChain(t, limits.DefaultLimits().WithTimeout(0))

	handler := Middleware(c, "api", 0.01)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/work", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(HeaderReason))
}

func TestMiddlewareRejectsOverBudget(t *testing.T) {
	t.Parallel()
	c := newChain(t, limits.DefaultLimits().WithTimeout(0).WithMaxCostUSD(0.10))
	spend(t, c, 0.10)

	invoked := false
	handler := Middleware(c, "api", 0.01)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoked = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/work", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.False(t, invoked)
	require.Equal(t, decision.ReasonBudgetExceeded, rec.Header().Get(HeaderReason))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMiddlewareExposesDirectiveWhenDegraded(t *testing.T) {
	t.Parallel()
	c := newChain(t, limits.DefaultLimits().
		WithTimeout(0).
		WithMaxCostUSD(1.00).
		WithThresholds(0.50, 0.70, 0.90))
	spend(t, c, 0.60)

	handler := Middleware(c, "api", 0.01)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/work", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var d decision.Directive
	require.NoError(t, json.Unmarshal([]byte(rec.Header().Get(HeaderDirective)), &d))
	require.Equal(t, decision.DirectiveModelDowngrade, d.Kind)
}
