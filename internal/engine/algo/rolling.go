package algo

import "time"

type point struct {
	ts    time.Time
	price float64
}

// RollingWindow tracks the minimum and maximum price over a fixed
// wall-clock window preceding the latest tick, using monotone deques.
// Each point enters and leaves each deque at most once, so Update is
// amortized O(1).
//
// One RollingWindow serves one (user, instrument) pair: the window
// length is user configuration, so the state cannot be shared the way
// trailing state is.
type RollingWindow struct {
	window time.Duration
	data   []point // every in-window point, oldest first
	min    []point // strictly increasing by price; head is the window minimum
	max    []point // strictly decreasing by price; head is the window maximum
	lastTS time.Time
}

// NewRollingWindow creates a rolling extreme tracker over the given window
func NewRollingWindow(window time.Duration) *RollingWindow {
	return &RollingWindow{window: window}
}

// Window returns the configured window length
func (w *RollingWindow) Window() time.Duration {
	return w.window
}

// Update inserts (ts, price) and returns the window minimum and maximum.
// A timestamp earlier than the previous one is clamped to it: the clock
// is required to be monotonically non-decreasing, and ticks that share a
// timestamp are folded in arrival order.
func (w *RollingWindow) Update(ts time.Time, price float64) (min, max float64) {
	if ts.Before(w.lastTS) {
		ts = w.lastTS
	}
	w.lastTS = ts

	// Expire points older than the window from all three deques.
	for len(w.data) > 0 && ts.Sub(w.data[0].ts) > w.window {
		w.data = w.data[1:]
	}
	for len(w.min) > 0 && ts.Sub(w.min[0].ts) > w.window {
		w.min = w.min[1:]
	}
	for len(w.max) > 0 && ts.Sub(w.max[0].ts) > w.window {
		w.max = w.max[1:]
	}

	// Keep min strictly increasing and max strictly decreasing by price.
	for len(w.min) > 0 && w.min[len(w.min)-1].price >= price {
		w.min = w.min[:len(w.min)-1]
	}
	w.min = append(w.min, point{ts, price})

	for len(w.max) > 0 && w.max[len(w.max)-1].price <= price {
		w.max = w.max[:len(w.max)-1]
	}
	w.max = append(w.max, point{ts, price})

	w.data = append(w.data, point{ts, price})

	return w.min[0].price, w.max[0].price
}

// ProcessTick folds a tick into the window and returns the dip and
// spike percentages against the window extremes. Both are non-negative
// magnitudes. Returns (0, 0) when the window maximum is zero.
func (w *RollingWindow) ProcessTick(ts time.Time, price float64) (dipPct, spikePct float64) {
	minW, maxW := w.Update(ts, price)

	if maxW == 0 {
		return 0, 0
	}

	dipPct = (maxW - price) / maxW * 100
	spikePct = (price - minW) / minW * 100
	return dipPct, spikePct
}

// Len returns the number of in-window points
func (w *RollingWindow) Len() int {
	return len(w.data)
}
