//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(t *testing.T, threshold int, recovery time.Duration) (*Breaker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	b, err := New(Config{FailureThreshold: threshold, RecoveryTimeout: recovery}, WithClock(clock.Now))
	require.NoError(t, err)
	return b, clock
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	_, err := New(Config{FailureThreshold: 0, RecoveryTimeout: time.Second})
	require.Error(t, err)
	_, err = New(Config{FailureThreshold: 3, RecoveryTimeout: 0})
	require.Error(t, err)
}

func TestOpensAfterExactThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(t, 3, time.Minute)

	require.False(t, b.RecordFailure())
	require.False(t, b.RecordFailure())
	require.Equal(t, StateClosed, b.State())
	require.True(t, b.RecordFailure(), "third consecutive failure should trip")
	require.Equal(t, StateOpen, b.State())

	ok, trial := b.Allow()
	require.False(t, ok)
	require.False(t, trial)
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(t, 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(t, 1, time.Minute)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Minute)
	ok, trial := b.Allow()
	require.True(t, ok)
	require.True(t, trial)
	require.Equal(t, StateHalfOpen, b.State())

	state, resolved := b.ResolveTrial(true)
	require.True(t, resolved)
	require.Equal(t, StateClosed, state)
	ok, trial = b.Allow()
	require.True(t, ok)
	require.False(t, trial)
}

func TestStaleOutcomesDoNotResolveTrial(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(t, 1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	ok, trial := b.Allow()
	require.True(t, ok)
	require.True(t, trial)

	// A success from a call admitted while CLOSED lands now: the trial
	// is still in flight and the circuit must stay half-open.
	b.RecordSuccess()
	require.Equal(t, StateHalfOpen, b.State())

	// A stale failure must not restart the recovery timer either.
	b.RecordFailure()
	require.Equal(t, StateHalfOpen, b.State())

	state, resolved := b.ResolveTrial(true)
	require.True(t, resolved)
	require.Equal(t, StateClosed, state)
}

func TestResolveTrialWithoutPendingIsNoop(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(t, 1, time.Minute)

	state, resolved := b.ResolveTrial(true)
	require.False(t, resolved)
	require.Equal(t, StateClosed, state)
}

func TestHalfOpenTrialFailureReopensWithFreshTimer(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(t, 1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	ok, trial := b.Allow()
	require.True(t, ok)
	require.True(t, trial)

	clock.Advance(30 * time.Second)
	state, resolved := b.ResolveTrial(false)
	require.True(t, resolved)
	require.Equal(t, StateOpen, state)

	// Timer restarted at trial failure: 59s later still open.
	clock.Advance(59 * time.Second)
	ok, _ = b.Allow()
	require.False(t, ok)

	clock.Advance(time.Second)
	ok, trial = b.Allow()
	require.True(t, ok)
	require.True(t, trial)
}

func TestExactlyOneTrialUnderConcurrency(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(t, 1, time.Minute)
	b.RecordFailure()
	clock.Advance(time.Minute)

	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	trials, admits := 0, 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, trial := b.Allow()
			mu.Lock()
			defer mu.Unlock()
			if ok {
				admits++
			}
			if trial {
				trials++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, trials, "exactly one trial call may dispatch")
	require.Equal(t, 1, admits, "losers must be rejected")
}

func TestCancelTrialFreesSlot(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(t, 1, time.Minute)
	b.RecordFailure()
	clock.Advance(time.Minute)

	ok, trial := b.Allow()
	require.True(t, ok)
	require.True(t, trial)

	ok, _ = b.Allow()
	require.False(t, ok)

	b.CancelTrial()
	ok, trial = b.Allow()
	require.True(t, ok)
	require.True(t, trial)
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(t, 2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	snap := b.Export()
	require.Equal(t, StateOpen, snap.State)
	require.False(t, snap.OpenedAt.IsZero())

	b2, clock2 := newTestBreaker(t, 2, time.Minute)
	require.NoError(t, b2.Import(snap))
	require.Equal(t, StateOpen, b2.State())

	// Imported opened_at drives the recovery timer.
	clock2.Advance(clock.Now().Sub(snap.OpenedAt) + time.Minute)
	ok, trial := b2.Allow()
	require.True(t, ok)
	require.True(t, trial)
}

func TestImportRejectsInvalidSnapshot(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(t, 2, time.Minute)
	require.Error(t, b.Import(Snapshot{State: "bogus"}))
	require.Error(t, b.Import(Snapshot{State: StateOpen}))
}
