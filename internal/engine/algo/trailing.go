// Package algo contains the windowing algorithms for the alert engine.
package algo

// TrailingState is the running extreme pair for one instrument.
// High only increases and Low only decreases for the process lifetime.
type TrailingState struct {
	High float64
	Low  float64
}

// Trailing tracks the running high and low of each instrument since the
// process first saw it. State is keyed by instrument token only: the
// algorithm has no user-dependent parameter, so one state is shared by
// every user watching the instrument.
type Trailing struct {
	state map[uint32]*TrailingState
}

// NewTrailing creates an empty trailing tracker
func NewTrailing() *Trailing {
	return &Trailing{state: make(map[uint32]*TrailingState)}
}

// ProcessTick folds a price into the instrument's extremes and returns
// the dip and spike percentages against them. The first tick for a
// token seeds the state and yields (0, 0). Prices must be positive;
// the caller validates before calling.
func (a *Trailing) ProcessTick(token uint32, price float64) (dipPct, spikePct float64) {
	st, ok := a.state[token]
	if !ok {
		a.state[token] = &TrailingState{High: price, Low: price}
		return 0, 0
	}

	if price > st.High {
		st.High = price
	}
	if price < st.Low {
		st.Low = price
	}

	dipPct = (st.High - price) / st.High * 100
	spikePct = (price - st.Low) / st.Low * 100
	return dipPct, spikePct
}

// State returns the extremes recorded for a token, if any
func (a *Trailing) State(token uint32) (TrailingState, bool) {
	st, ok := a.state[token]
	if !ok {
		return TrailingState{}, false
	}
	return *st, true
}

// Len returns the number of instruments with trailing state
func (a *Trailing) Len() int {
	return len(a.state)
}
