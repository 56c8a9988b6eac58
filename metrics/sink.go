// Package metrics defines the telemetry sink fed by the query worker and the control plane.
package metrics

import "time"

// Outcome is the result of one probe. It is consumed immediately and never stored.
type Outcome struct {
	Success bool
	Latency time.Duration
	Err     error
}

// PoolGauge is the pool occupancy reported after each iteration.
type PoolGauge struct {
	Size      int
	Used      int
	Available int
}

// Sink receives counters, gauges and latency observations.
type Sink interface {
	RecordOutcome(o Outcome)
	SetTargetRate(rate int)
	SetPool(g PoolGauge)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) RecordOutcome(Outcome) {}
func (Discard) SetTargetRate(int)     {}
func (Discard) SetPool(PoolGauge)     {}
