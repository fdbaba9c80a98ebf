// Package metrics holds the engine's degradation counters.
package metrics

import (
	"log/slog"
	"sync/atomic"
)

// Counters is safe for concurrent use. The zero value is ready.
type Counters struct {
	Evaluations        atomic.Uint64 // oracle casts
	Reveals            atomic.Uint64 // entries switched to true type
	ShortCircuit       atomic.Uint64 // reveals without a cast (ordinary true type)
	StaleDiscarded     atomic.Uint64
	UntrackedDiscarded atomic.Uint64
	QueueSaturated     atomic.Uint64
	DeferredByBudget   atomic.Uint64
	InvalidPoses       atomic.Uint64
	SnapshotsSent      atomic.Uint64
	BlockChangesSent   atomic.Uint64
	SendErrors         atomic.Uint64
	Ticks              atomic.Uint64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Evaluations        uint64 `json:"evaluations"`
	Reveals            uint64 `json:"reveals"`
	ShortCircuit       uint64 `json:"short_circuit"`
	StaleDiscarded     uint64 `json:"stale_discarded"`
	UntrackedDiscarded uint64 `json:"untracked_discarded"`
	QueueSaturated     uint64 `json:"queue_saturated"`
	DeferredByBudget   uint64 `json:"deferred_by_budget"`
	InvalidPoses       uint64 `json:"invalid_poses"`
	SnapshotsSent      uint64 `json:"snapshots_sent"`
	BlockChangesSent   uint64 `json:"block_changes_sent"`
	SendErrors         uint64 `json:"send_errors"`
	Ticks              uint64 `json:"ticks"`
	Rates              Rates  `json:"rates"`
}

// Rates are derived ratios, zero when the denominator is zero.
type Rates struct {
	// Saturation is QueueSaturated over submission attempts.
	Saturation float64 `json:"saturation"`
	// Stale is StaleDiscarded over Evaluations.
	Stale float64 `json:"stale"`
}

// Snapshot reads every counter.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		Evaluations:        c.Evaluations.Load(),
		Reveals:            c.Reveals.Load(),
		ShortCircuit:       c.ShortCircuit.Load(),
		StaleDiscarded:     c.StaleDiscarded.Load(),
		UntrackedDiscarded: c.UntrackedDiscarded.Load(),
		QueueSaturated:     c.QueueSaturated.Load(),
		DeferredByBudget:   c.DeferredByBudget.Load(),
		InvalidPoses:       c.InvalidPoses.Load(),
		SnapshotsSent:      c.SnapshotsSent.Load(),
		BlockChangesSent:   c.BlockChangesSent.Load(),
		SendErrors:         c.SendErrors.Load(),
		Ticks:              c.Ticks.Load(),
	}
	s.Rates = Rates{
		Saturation: ratio(s.QueueSaturated, s.Evaluations+s.ShortCircuit+s.QueueSaturated),
		Stale:      ratio(s.StaleDiscarded, s.Evaluations),
	}
	return s
}

// LogValue implements slog.LogValuer.
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("ticks", s.Ticks),
		slog.Uint64("evaluations", s.Evaluations),
		slog.Uint64("reveals", s.Reveals),
		slog.Uint64("shortCircuit", s.ShortCircuit),
		slog.Uint64("stale", s.StaleDiscarded),
		slog.Uint64("untracked", s.UntrackedDiscarded),
		slog.Uint64("saturated", s.QueueSaturated),
		slog.Uint64("deferred", s.DeferredByBudget),
		slog.Uint64("invalidPoses", s.InvalidPoses),
		slog.Float64("saturationRate", s.Rates.Saturation),
	)
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
