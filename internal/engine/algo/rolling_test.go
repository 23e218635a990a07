package algo

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return t0.Add(offset)
}

func TestRollingWindow_DipAgainstWindowMax(t *testing.T) {
	// Window 10 min; ticks at t=0: 100, t=60s: 105, t=120s: 95.
	// At t=120s the window max is 105, so dip = (105-95)/105*100.
	w := NewRollingWindow(10 * time.Minute)

	w.ProcessTick(at(0), 100)
	w.ProcessTick(at(60*time.Second), 105)
	dip, spike := w.ProcessTick(at(120*time.Second), 95)

	wantDip := (105.0 - 95.0) / 105.0 * 100
	if math.Abs(dip-wantDip) > 1e-9 {
		t.Errorf("expected dip=%.4f, got %.4f", wantDip, dip)
	}
	wantSpike := 0.0
	if math.Abs(spike-wantSpike) > 1e-9 {
		t.Errorf("expected spike=%.4f, got %.4f", wantSpike, spike)
	}
}

func TestRollingWindow_ExpiryDropsOldExtremes(t *testing.T) {
	// Window 1 min. The 100 and 120 points are expired by t=100s, so the
	// window holds only the two 105s and the dip is zero despite the
	// historical high of 120.
	w := NewRollingWindow(1 * time.Minute)

	w.ProcessTick(at(0), 100)
	w.ProcessTick(at(30*time.Second), 120)
	w.ProcessTick(at(70*time.Second), 105)
	dip, spike := w.ProcessTick(at(100*time.Second), 105)

	if dip != 0 {
		t.Errorf("expected dip=0 after expiry, got %v", dip)
	}
	if spike != 0 {
		t.Errorf("expected spike=0 after expiry, got %v", spike)
	}
	if w.Len() != 2 {
		t.Errorf("expected 2 in-window points, got %d", w.Len())
	}
}

// The deque heads must always equal the true min/max over the in-window
// points, and the deques must stay strictly monotone.
func TestRollingWindow_HeadsMatchBruteForce(t *testing.T) {
	window := 90 * time.Second
	w := NewRollingWindow(window)

	ticks := []struct {
		offset time.Duration
		price  float64
	}{
		{0, 100}, {10 * time.Second, 103}, {20 * time.Second, 97},
		{45 * time.Second, 97}, {60 * time.Second, 110}, {95 * time.Second, 99},
		{130 * time.Second, 101}, {200 * time.Second, 98}, {201 * time.Second, 98},
	}

	type pt struct {
		ts    time.Time
		price float64
	}
	var all []pt

	for _, tk := range ticks {
		ts := at(tk.offset)
		min, max := w.Update(ts, tk.price)

		all = append(all, pt{ts, tk.price})
		wantMin, wantMax := math.Inf(1), math.Inf(-1)
		for _, p := range all {
			if ts.Sub(p.ts) > window {
				continue
			}
			wantMin = math.Min(wantMin, p.price)
			wantMax = math.Max(wantMax, p.price)
		}

		if min != wantMin {
			t.Fatalf("t=%v: expected window min %v, got %v", tk.offset, wantMin, min)
		}
		if max != wantMax {
			t.Fatalf("t=%v: expected window max %v, got %v", tk.offset, wantMax, max)
		}

		for i := 1; i < len(w.min); i++ {
			if w.min[i].price <= w.min[i-1].price {
				t.Fatalf("t=%v: min deque not strictly increasing", tk.offset)
			}
		}
		for i := 1; i < len(w.max); i++ {
			if w.max[i].price >= w.max[i-1].price {
				t.Fatalf("t=%v: max deque not strictly decreasing", tk.offset)
			}
		}
	}
}

func TestRollingWindow_BackwardsTimestampClamped(t *testing.T) {
	w := NewRollingWindow(time.Minute)
	w.Update(at(10*time.Second), 100)

	// An out-of-order timestamp must not rewind the window.
	min, max := w.Update(at(5*time.Second), 105)
	if min != 100 || max != 105 {
		t.Errorf("expected min=100 max=105, got min=%v max=%v", min, max)
	}
	if w.lastTS != at(10*time.Second) {
		t.Errorf("expected lastTS clamped to t+10s, got %v", w.lastTS)
	}
}

func TestRollingWindow_FirstTickIsNeutral(t *testing.T) {
	w := NewRollingWindow(time.Minute)
	dip, spike := w.ProcessTick(at(0), 250)
	if dip != 0 || spike != 0 {
		t.Errorf("first tick: expected (0, 0), got (%v, %v)", dip, spike)
	}
}
