//
// Tencent is pleased to support the open source community by making trpc-agent-guard available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-guard is licensed under the Apache License Version 2.0.
//
//

package adaptive

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(10000, 0)} }

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

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return c, clock
}

func testConfig() Config {
	cfg := DefaultConfig(10.0, 1.0, 20.0)
	cfg.Cooldown = time.Minute
	cfg.CleanWindows = 2
	return cfg
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	bad := []Config{
		DefaultConfig(10, 0, 20),   // zero floor
		DefaultConfig(10, 5, 4),    // hard < floor
		DefaultConfig(0.5, 1, 20),  // initial below floor
		DefaultConfig(30, 1, 20),   // initial above hard
	}
	for i, cfg := range bad {
		_, err := New(cfg)
		require.Error(t, err, "config %d", i)
	}

	cfg := DefaultConfig(10, 1, 20)
	cfg.TightenFactor = 1.5
	_, err := New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig(10, 1, 20)
	cfg.LoosenFactor = 0.9
	_, err = New(cfg)
	require.Error(t, err)
}

func TestTightenOnExceededClampsToFloor(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TightenFactor = 0.8
	cfg.MaxStepFraction = 0.25
	c, _ := newTestController(t, cfg)

	got := c.Observe(ObservationExceeded)
	require.InDelta(t, 8.0, got, 1e-9)
	require.Equal(t, DirectionTightened, c.Direction())

	// Drive to the floor; the ceiling never leaves [floor, hard].
	for i := 0; i < 100; i++ {
		got = c.Observe(ObservationExceeded)
	}
	require.InDelta(t, cfg.Floor, got, 1e-9)
	require.GreaterOrEqual(t, got, cfg.Floor)
}

func TestSmoothingCapsPerStepChange(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TightenFactor = 0.1 // would cut 90%
	cfg.MaxStepFraction = 0.25
	c, _ := newTestController(t, cfg)

	got := c.Observe(ObservationExceeded)
	require.InDelta(t, 7.5, got, 1e-9, "cut must be capped at 25%% per step")
}

func TestNoLoosenBeforeCooldownAndCleanWindows(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, testConfig())
	c.Observe(ObservationExceeded)
	tightened := c.Ceiling()

	// Clean traffic inside the cooldown does not loosen.
	c.Observe(ObservationOK)
	require.Equal(t, tightened, c.Ceiling())

	// One clean window is not enough while the lock is tightened.
	clock.Advance(time.Minute)
	c.Observe(ObservationOK)
	require.Equal(t, tightened, c.Ceiling())
	require.Equal(t, DirectionTightened, c.Direction())

	// Second clean window clears the lock; the next window loosens.
	clock.Advance(time.Minute)
	c.Observe(ObservationOK)
	require.Equal(t, DirectionNone, c.Direction())

	clock.Advance(time.Minute)
	c.Observe(ObservationOK)
	require.Greater(t, c.Ceiling(), tightened)
	require.Equal(t, DirectionLoosened, c.Direction())
}

func TestExceededResetsCleanWindowCount(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, testConfig())
	c.Observe(ObservationExceeded)
	tightened := c.Ceiling()

	clock.Advance(time.Minute)
	c.Observe(ObservationOK) // clean window 1

	// A violation restarts the clean-window count and tightens again.
	c.Observe(ObservationExceeded)
	require.Less(t, c.Ceiling(), tightened)

	clock.Advance(time.Minute)
	c.Observe(ObservationOK)
	clock.Advance(time.Minute)
	c.Observe(ObservationOK)
	require.Equal(t, DirectionNone, c.Direction(), "two clean windows after the second tighten clear the lock")
}

func TestCeilingNeverLeavesBounds(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	c, clock := newTestController(t, cfg)

	for i := 0; i < 500; i++ {
		var got float64
		switch i % 3 {
		case 0:
			got = c.Observe(ObservationExceeded)
		case 1:
			got = c.Observe(ObservationAnomaly)
		default:
			got = c.Observe(ObservationOK)
		}
		require.GreaterOrEqual(t, got, cfg.Floor)
		require.LessOrEqual(t, got, cfg.HardCeiling)
		clock.Advance(13 * time.Second)
	}
}

func TestAnomalyBurstCutsAndRecovers(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AnomalyBurst = 3
	cfg.AnomalyWindow = 10 * time.Second
	cfg.AnomalyFactor = 0.5
	cfg.AnomalyDecay = time.Minute
	c, clock := newTestController(t, cfg)

	c.Observe(ObservationAnomaly)
	c.Observe(ObservationAnomaly)
	require.InDelta(t, 10.0, c.Ceiling(), 1e-9, "two anomalies are below the burst threshold")

	c.Observe(ObservationAnomaly)
	require.InDelta(t, 5.0, c.Ceiling(), 1e-9, "third anomaly in window triggers the emergency cut")

	// The cut holds through the decay period, then recovers.
	clock.Advance(30 * time.Second)
	require.InDelta(t, 5.0, c.Ceiling(), 1e-9)
	clock.Advance(31 * time.Second)
	require.InDelta(t, 10.0, c.Ceiling(), 1e-9)
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, testConfig())
	c.Observe(ObservationExceeded)
	clock.Advance(time.Minute)
	c.Observe(ObservationOK)

	blob, err := c.Export()
	require.NoError(t, err)

	c2, _ := newTestController(t, testConfig())
	require.NoError(t, c2.Import(blob))

	require.Equal(t, c.Ceiling(), c2.Ceiling())
	require.Equal(t, c.Direction(), c2.Direction())

	blob2, err := c2.Export()
	require.NoError(t, err)
	require.JSONEq(t, string(blob), string(blob2))
}

func TestImportRejectsBadSnapshots(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, testConfig())
	require.Error(t, c.Import([]byte("{not json")))
	require.Error(t, c.Import([]byte(`{"v":99}`)))
	require.Error(t, c.Import([]byte(`{"v":1,"ceiling":1000,"direction":"none"}`)))
	require.Error(t, c.Import([]byte(`{"v":1,"ceiling":10,"direction":"sideways"}`)))
}
