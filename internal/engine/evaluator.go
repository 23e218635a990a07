package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/stormalert/stormalertapi/internal/engine/algo"
	"github.com/stormalert/stormalertapi/internal/models"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
)

// currencySymbol is a constant of the message rendering, not a user
// preference.
const currencySymbol = "₹"

// processBatch routes each tick of a batch through evaluation. Both
// snapshots are loaded once so the whole batch sees consistent caches.
func (e *Engine) processBatch(batch []Tick) {
	table := e.table.Load()
	snap := e.settings.Load()
	e.maybePrune(snap)

	now := e.now()
	for i := range batch {
		e.processTick(table, snap, now, batch[i])
	}
}

// processTick validates one tick, updates the shared trailing state and
// evaluates every subscriber of the instrument. A panic while handling
// a single tick is recovered and counted; it must never halt the
// pipeline.
func (e *Engine) processTick(table *subscriptionTable, snap *settingsSnapshot, now time.Time, tick Tick) {
	defer func() {
		if r := recover(); r != nil {
			e.ctrs.evalErrors.Add(1)
			zaplogger.Error("tick evaluation fault", zaplogger.Fields{
				"token": tick.InstrumentToken,
				"fault": fmt.Sprint(r),
			})
		}
	}()

	e.ctrs.totalTicks.Add(1)

	if tick.InstrumentToken == 0 || tick.LastPrice <= 0 ||
		math.IsNaN(tick.LastPrice) || math.IsInf(tick.LastPrice, 0) {
		e.ctrs.malformedTicks.Add(1)
		return
	}

	subs, ok := table.byToken[tick.InstrumentToken]
	if !ok {
		// the vast majority of upstream ticks match no watchlist
		return
	}

	ts := tick.Timestamp
	if ts.IsZero() {
		ts = now
	}

	// Trailing state is keyed by instrument alone, so it is folded once
	// per tick and the result shared by every subscriber.
	tDip, tSpike := e.trailing.ProcessTick(tick.InstrumentToken, tick.LastPrice)

	for _, sub := range subs {
		e.evaluate(snap, now, ts, tick, sub, tDip, tSpike)
	}
}

// evaluate applies one user's settings to one tick.
func (e *Engine) evaluate(snap *settingsSnapshot, now, ts time.Time, tick Tick, sub subscriber, tDip, tSpike float64) {
	st, ok := snap.byUser[sub.UserID]
	if !ok {
		return
	}

	var dipPct, spikePct float64
	if st.AlgoMode.UsesTrailing() {
		dipPct, spikePct = tDip, tSpike
	}
	if st.AlgoMode.UsesRolling() {
		rw := e.rollingFor(sub.UserID, tick.InstrumentToken, st.Window())
		rDip, rSpike := rw.ProcessTick(ts, tick.LastPrice)
		// mode "both" is a disjunction: either algorithm may fire
		dipPct = math.Max(dipPct, rDip)
		spikePct = math.Max(spikePct, rSpike)
	}

	if dipPct >= st.DipThreshold {
		e.trigger(now, sub, tick.LastPrice, dipPct, models.AlertTypeDip, st)
	}
	if spikePct >= st.RiseThreshold {
		e.trigger(now, sub, tick.LastPrice, spikePct, models.AlertTypeSpike, st)
	}
}

// rollingFor returns the user's rolling window for a token, rebuilding
// it when the user's timeframe setting changed since it was created.
func (e *Engine) rollingFor(userID string, token uint32, window time.Duration) *algo.RollingWindow {
	key := rollingKey{userID: userID, token: token}
	rw, ok := e.rolling[key]
	if !ok || rw.Window() != window {
		rw = algo.NewRollingWindow(window)
		e.rolling[key] = rw
	}
	return rw
}

// trigger emits one alert unless the (user, symbol, kind) key is still
// cooling down.
func (e *Engine) trigger(now time.Time, sub subscriber, price, changePct float64, kind models.AlertType, st models.UserSettings) {
	key := cooldownKey{userID: sub.UserID, symbol: sub.Symbol, kind: kind}
	if last, ok := e.cooldown[key]; ok && now.Sub(last) < st.Cooldown() {
		e.ctrs.alertsSuppressed.Add(1)
		return
	}

	alert := models.Alert{
		UserID:        sub.UserID,
		StockSymbol:   sub.Symbol,
		Price:         price,
		ChangePercent: changePct,
		AlertType:     kind,
		Message:       renderMessage(sub.Symbol, price, changePct, kind),
		Timestamp:     now.UTC(),
	}

	e.cooldown[key] = now
	e.ctrs.alertsEmitted.Add(1)
	e.sink.submit(alert, st)
}

// maybePrune drops pipeline state of users that vanished from the
// settings snapshot. Runs only when the refresher published a new
// generation, so steady-state batches pay nothing.
func (e *Engine) maybePrune(snap *settingsSnapshot) {
	gen := e.generation.Load()
	if gen == e.seenGen {
		return
	}
	e.seenGen = gen

	for key := range e.rolling {
		if _, ok := snap.byUser[key.userID]; !ok {
			delete(e.rolling, key)
		}
	}
	for key := range e.cooldown {
		if _, ok := snap.byUser[key.userID]; !ok {
			delete(e.cooldown, key)
		}
	}
}

// renderMessage renders the fixed alert template.
func renderMessage(symbol string, price, changePct float64, kind models.AlertType) string {
	emoji, action, phrase := "📉", "Price Dropped", "This stock has dropped significantly! Act accordingly."
	if kind == models.AlertTypeSpike {
		emoji, action, phrase = "📈", "Price Spiked", "Momentum is building up! Fast."
	}

	return fmt.Sprintf("🚨 *StormAlert: %s*\n%s *%s:* %.2f%%\n💰 *Current Price:* %s%.2f\n_%s_",
		symbol, emoji, action, changePct, currencySymbol, price, phrase)
}
