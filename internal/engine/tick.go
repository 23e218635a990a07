// Package engine implements the tick-to-alert pipeline: ingress,
// instrument routing, windowing, threshold evaluation with cooldown,
// and the batched alert sink.
package engine

import "time"

// Tick is one price observation for one instrument. Timestamp is the
// optional exchange timestamp; the zero value means "not provided" and
// the pipeline substitutes its own clock.
type Tick struct {
	InstrumentToken uint32    `json:"instrument_token"`
	LastPrice       float64   `json:"last_price"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
}
