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
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// snapshot is the opaque wire form of a Controller. It exists for
// deterministic replay and cross-process handoff with single-writer
// semantics; it is not a concurrent sync mechanism.
type snapshot struct {
	Version         int           `json:"v"`
	Ceiling         float64       `json:"ceiling"`
	Floor           float64       `json:"floor"`
	HardCeiling     float64       `json:"hard_ceiling"`
	Direction       Direction     `json:"direction"`
	LastAdjustment  time.Time     `json:"last_adjustment"`
	WindowStart     time.Time     `json:"window_start"`
	CleanWindows    int           `json:"clean_windows"`
	Window          []observation `json:"window,omitempty"`
	AnomalyActive   bool          `json:"anomaly_active,omitempty"`
	AnomalyUntil    time.Time     `json:"anomaly_until,omitempty"`
	AnomalyCutRatio float64       `json:"anomaly_cut_ratio,omitempty"`
}

// Export serializes the full controller state as an opaque blob.
func (c *Controller) Export() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := snapshot{
		Version:         SnapshotVersion,
		Ceiling:         c.ceiling,
		Floor:           c.cfg.Floor,
		HardCeiling:     c.cfg.HardCeiling,
		Direction:       c.direction,
		LastAdjustment:  c.lastAdjustment,
		WindowStart:     c.windowStart,
		CleanWindows:    c.cleanWindows,
		Window:          append([]observation(nil), c.window...),
		AnomalyActive:   c.anomalyActive,
		AnomalyUntil:    c.anomalyUntil,
		AnomalyCutRatio: c.anomalyCutRatio,
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("adaptive: export snapshot: %w", err)
	}
	return blob, nil
}

// Import restores controller state from a blob produced by Export.
// The controller's configured bounds must contain the imported ceiling.
func (c *Controller) Import(blob []byte) error {
	var s snapshot
	if err := json.Unmarshal(blob, &s); err != nil {
		return fmt.Errorf("adaptive: decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return fmt.Errorf("adaptive: unsupported snapshot version %d", s.Version)
	}
	switch s.Direction {
	case DirectionNone, DirectionTightened, DirectionLoosened:
	default:
		return fmt.Errorf("adaptive: unknown direction %q", s.Direction)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Ceiling < c.cfg.Floor || s.Ceiling > c.cfg.HardCeiling {
		return fmt.Errorf("adaptive: snapshot ceiling %v outside [%v, %v]",
			s.Ceiling, c.cfg.Floor, c.cfg.HardCeiling)
	}
	c.ceiling = s.Ceiling
	c.direction = s.Direction
	c.lastAdjustment = s.LastAdjustment
	c.windowStart = s.WindowStart
	c.cleanWindows = s.CleanWindows
	c.window = append([]observation(nil), s.Window...)
	c.anomalyActive = s.AnomalyActive
	c.anomalyUntil = s.AnomalyUntil
	c.anomalyCutRatio = s.AnomalyCutRatio
	return nil
}
