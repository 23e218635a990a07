package engine

import (
	"context"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stormalert/stormalertapi/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	settings  []models.UserSettings
	stocks    []models.WatchedStock
	inserted  [][]models.Alert
	insertErr error
}

func (s *fakeStore) LoadAllSettings(ctx context.Context) ([]models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UserSettings, len(s.settings))
	copy(out, s.settings)
	return out, nil
}

func (s *fakeStore) LoadActiveStocks(ctx context.Context) ([]models.WatchedStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WatchedStock, len(s.stocks))
	copy(out, s.stocks)
	return out, nil
}

func (s *fakeStore) BulkInsertAlerts(ctx context.Context, alerts []models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	batch := make([]models.Alert, len(alerts))
	copy(batch, alerts)
	s.inserted = append(s.inserted, batch)
	return nil
}

func (s *fakeStore) DeleteAlertsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (b *fakeBroadcaster) Broadcast(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, event)
	return nil
}

type fakeEgress struct {
	mu       sync.Mutex
	messages []string
	full     bool
}

func (e *fakeEgress) Enqueue(settings models.UserSettings, message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full {
		return false
	}
	e.messages = append(e.messages, message)
	return true
}

// fakeClock drives the engine's notion of "now" in tests.
type fakeClock struct {
	cur time.Time
}

func (c *fakeClock) now() time.Time { return c.cur }

func (c *fakeClock) advance(d time.Duration) { c.cur = c.cur.Add(d) }

var testEpoch = time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)

func defaultSettings(userID string, mode models.AlgoMode) models.UserSettings {
	return models.UserSettings{
		UserID:           userID,
		TimeframeMinutes: 10,
		DipThreshold:     1.5,
		RiseThreshold:    1.5,
		CooldownMinutes:  15,
		AlgoMode:         mode,
	}
}

func watched(userID, symbol string, token uint32) models.WatchedStock {
	return models.WatchedStock{
		UserID:          userID,
		Symbol:          symbol,
		Exchange:        "NSE",
		InstrumentToken: token,
		Active:          true,
	}
}

// newTestEngine builds an engine with published snapshots and a fake
// clock, without starting the background goroutines. Tests drive the
// pipeline by calling processBatch directly and drain the sink channel.
func newTestEngine(t *testing.T, settings []models.UserSettings, stocks []models.WatchedStock) (*Engine, *fakeStore, *fakeClock) {
	t.Helper()

	store := &fakeStore{settings: settings, stocks: stocks}
	e := New(store, &fakeBroadcaster{}, &fakeEgress{})
	clk := &fakeClock{cur: testEpoch}
	e.now = clk.now

	if err := e.RefreshCaches(context.Background()); err != nil {
		t.Fatalf("RefreshCaches: %v", err)
	}
	return e, store, clk
}

// drainSink empties the sink channel without running the sink goroutine.
func drainSink(e *Engine) []sinkItem {
	var items []sinkItem
	for {
		select {
		case item := <-e.sink.in:
			items = append(items, item)
		default:
			return items
		}
	}
}

func TestTrailingDipAlert(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeTrailing)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 100.00}})
	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 98.50}})

	items := drainSink(e)
	if len(items) != 1 {
		t.Fatalf("alerts = %d, want 1", len(items))
	}
	a := items[0].alert
	if a.AlertType != models.AlertTypeDip {
		t.Errorf("type = %s, want DIP", a.AlertType)
	}
	if a.UserID != "alice" || a.StockSymbol != "TCS" {
		t.Errorf("routed to (%s, %s)", a.UserID, a.StockSymbol)
	}
	if a.Price != 98.50 {
		t.Errorf("price = %v, want 98.50", a.Price)
	}
	if math.Abs(a.ChangePercent-1.50) > 1e-9 {
		t.Errorf("change = %v, want 1.50", a.ChangePercent)
	}
	if a.ChangePercent < 0 {
		t.Errorf("change must be a non-negative magnitude, got %v", a.ChangePercent)
	}
	if !strings.Contains(a.Message, "Price Dropped") || !strings.Contains(a.Message, "1.50%") {
		t.Errorf("message = %q", a.Message)
	}
	if !strings.Contains(a.Message, "TCS") || !strings.Contains(a.Message, "98.50") {
		t.Errorf("message = %q", a.Message)
	}
}

func TestTrailingSpikeAlert(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeTrailing)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{
		{InstrumentToken: 101, LastPrice: 100.00},
		{InstrumentToken: 101, LastPrice: 101.50},
	})

	items := drainSink(e)
	if len(items) != 1 {
		t.Fatalf("alerts = %d, want 1", len(items))
	}
	a := items[0].alert
	if a.AlertType != models.AlertTypeSpike {
		t.Errorf("type = %s, want SPIKE", a.AlertType)
	}
	if math.Abs(a.ChangePercent-1.50) > 1e-9 {
		t.Errorf("change = %v, want 1.50", a.ChangePercent)
	}
	if !strings.Contains(a.Message, "Price Spiked") {
		t.Errorf("message = %q", a.Message)
	}
}

func TestCooldownSuppression(t *testing.T) {
	e, _, clk := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeTrailing)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 100.00}})

	// first dip fires
	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 98.50}})

	// deeper dip five minutes later is inside the cooldown window
	clk.advance(5 * time.Minute)
	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 98.00}})

	// past the cooldown the same key fires again
	clk.advance(11 * time.Minute)
	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 97.50}})

	items := drainSink(e)
	if len(items) != 2 {
		t.Fatalf("alerts = %d, want 2", len(items))
	}
	for _, item := range items {
		if item.alert.AlertType != models.AlertTypeDip {
			t.Errorf("type = %s, want DIP", item.alert.AlertType)
		}
	}
	if got := e.Stats().AlertsSuppressed; got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}
}

func TestCooldownKeyedPerKind(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeTrailing)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	// a dip and a spike on the same symbol do not share a cooldown key
	e.processBatch([]Tick{
		{InstrumentToken: 101, LastPrice: 100.00},
		{InstrumentToken: 101, LastPrice: 98.00},
		{InstrumentToken: 101, LastPrice: 101.00},
	})

	items := drainSink(e)
	kinds := map[models.AlertType]int{}
	for _, item := range items {
		kinds[item.alert.AlertType]++
	}
	if kinds[models.AlertTypeDip] != 1 || kinds[models.AlertTypeSpike] != 1 {
		t.Fatalf("kinds = %v, want one DIP and one SPIKE", kinds)
	}
}

func TestModeBothFiresOnEitherAlgorithm(t *testing.T) {
	e, _, clk := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeBoth)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 100.00, Timestamp: clk.cur}})

	// fifteen minutes on, the 10m rolling window has expired the first
	// tick and sees nothing to compare; the trailing high still fires
	clk.advance(15 * time.Minute)
	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 98.00, Timestamp: clk.cur}})

	items := drainSink(e)
	if len(items) != 1 {
		t.Fatalf("alerts = %d, want exactly 1 (no double emission in both mode)", len(items))
	}
	if items[0].alert.AlertType != models.AlertTypeDip {
		t.Errorf("type = %s, want DIP", items[0].alert.AlertType)
	}
	if math.Abs(items[0].alert.ChangePercent-2.00) > 1e-9 {
		t.Errorf("change = %v, want 2.00", items[0].alert.ChangePercent)
	}
}

func TestRollingModeIgnoresTrailingState(t *testing.T) {
	e, _, clk := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeRolling)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 100.00, Timestamp: clk.cur}})

	// the old high has left the window, so no dip fires in rolling mode
	clk.advance(15 * time.Minute)
	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 98.00, Timestamp: clk.cur}})

	if items := drainSink(e); len(items) != 0 {
		t.Fatalf("alerts = %d, want 0", len(items))
	}
}

func TestMalformedTicksCountedAndSkipped(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeTrailing)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{
		{InstrumentToken: 0, LastPrice: 100},
		{InstrumentToken: 101, LastPrice: -5},
		{InstrumentToken: 101, LastPrice: math.NaN()},
		{InstrumentToken: 101, LastPrice: math.Inf(1)},
	})

	stats := e.Stats()
	if stats.MalformedTicks != 4 {
		t.Errorf("malformed = %d, want 4", stats.MalformedTicks)
	}
	if stats.TotalTicks != 4 {
		t.Errorf("total = %d, want 4", stats.TotalTicks)
	}
	if items := drainSink(e); len(items) != 0 {
		t.Errorf("alerts = %d, want 0", len(items))
	}
}

func TestUnwatchedTokenIgnored(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeTrailing)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{
		{InstrumentToken: 999, LastPrice: 100.00},
		{InstrumentToken: 999, LastPrice: 50.00},
	})

	if items := drainSink(e); len(items) != 0 {
		t.Errorf("alerts = %d, want 0", len(items))
	}
	if got := e.Stats().TotalTicks; got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, nil)

	e.processBatch(nil)
	e.processBatch([]Tick{})

	stats := e.Stats()
	if stats.TotalTicks != 0 || stats.AlertsEmitted != 0 {
		t.Errorf("stats changed on empty batch: %+v", stats)
	}
}

func TestSubscribedTokensSortedUnion(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{
			defaultSettings("alice", models.AlgoModeBoth),
			defaultSettings("bob", models.AlgoModeBoth),
		},
		[]models.WatchedStock{
			watched("alice", "TCS", 300),
			watched("bob", "TCS", 300),
			watched("alice", "INFY", 100),
			watched("bob", "WIPRO", 200),
			{UserID: "bob", Symbol: "GONE", InstrumentToken: 400, Active: false},
			{UserID: "bob", Symbol: "NOTOKEN", InstrumentToken: 0, Active: true},
		},
	)

	got := e.SubscribedTokens()
	want := []uint32{100, 200, 300}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokens = %v, want %v", got, want)
	}
}

func TestRefreshCachesIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeBoth)},
		[]models.WatchedStock{watched("alice", "TCS", 101), watched("alice", "INFY", 102)},
	)

	firstTable := e.table.Load()
	firstSettings := e.settings.Load()

	if err := e.RefreshCaches(context.Background()); err != nil {
		t.Fatalf("RefreshCaches: %v", err)
	}

	if !reflect.DeepEqual(firstTable.byToken, e.table.Load().byToken) {
		t.Error("subscription table changed across refreshes of identical data")
	}
	if !reflect.DeepEqual(firstTable.tokens, e.table.Load().tokens) {
		t.Error("token union changed across refreshes of identical data")
	}
	if !reflect.DeepEqual(firstSettings.byUser, e.settings.Load().byUser) {
		t.Error("settings snapshot changed across refreshes of identical data")
	}
}

func TestDeterministicEmissionOrder(t *testing.T) {
	settings := []models.UserSettings{
		defaultSettings("alice", models.AlgoModeTrailing),
		defaultSettings("bob", models.AlgoModeTrailing),
	}
	stocks := []models.WatchedStock{
		watched("bob", "TCS", 101),
		watched("alice", "TCS", 101),
	}
	batches := [][]Tick{
		{{InstrumentToken: 101, LastPrice: 100.00}},
		{{InstrumentToken: 101, LastPrice: 98.00}},
	}

	run := func() []string {
		e, _, _ := newTestEngine(t, settings, stocks)
		for _, b := range batches {
			e.processBatch(b)
		}
		var seq []string
		for _, item := range drainSink(e) {
			seq = append(seq, item.alert.UserID+"/"+item.alert.StockSymbol+"/"+string(item.alert.AlertType))
		}
		return seq
	}

	first := run()
	if len(first) != 2 {
		t.Fatalf("alerts = %d, want 2", len(first))
	}
	if first[0] != "alice/TCS/DIP" || first[1] != "bob/TCS/DIP" {
		t.Errorf("emission order = %v, want user-sorted", first)
	}
	for i := 0; i < 3; i++ {
		if got := run(); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d emitted %v, first run emitted %v", i, got, first)
		}
	}
}

func TestPruneRemovedUsers(t *testing.T) {
	e, store, clk := newTestEngine(t,
		[]models.UserSettings{
			defaultSettings("alice", models.AlgoModeBoth),
			defaultSettings("bob", models.AlgoModeBoth),
		},
		[]models.WatchedStock{
			watched("alice", "TCS", 101),
			watched("bob", "TCS", 101),
		},
	)

	e.processBatch([]Tick{
		{InstrumentToken: 101, LastPrice: 100.00, Timestamp: clk.cur},
		{InstrumentToken: 101, LastPrice: 98.00, Timestamp: clk.cur},
	})
	drainSink(e)

	if len(e.rolling) != 2 {
		t.Fatalf("rolling states = %d, want 2", len(e.rolling))
	}

	// bob leaves; the next published generation prunes his state
	store.mu.Lock()
	store.settings = store.settings[:1]
	store.stocks = store.stocks[:1]
	store.mu.Unlock()
	if err := e.RefreshCaches(context.Background()); err != nil {
		t.Fatalf("RefreshCaches: %v", err)
	}

	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 99.00, Timestamp: clk.cur}})
	drainSink(e)

	for key := range e.rolling {
		if key.userID == "bob" {
			t.Error("rolling state for removed user survived prune")
		}
	}
	for key := range e.cooldown {
		if key.userID == "bob" {
			t.Error("cooldown state for removed user survived prune")
		}
	}
}

func TestTimeframeChangeRebuildsWindow(t *testing.T) {
	e, store, clk := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeRolling)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 100.00, Timestamp: clk.cur}})
	old := e.rolling[rollingKey{userID: "alice", token: 101}]
	if old == nil {
		t.Fatal("rolling state not created")
	}

	store.mu.Lock()
	store.settings[0].TimeframeMinutes = 30
	store.mu.Unlock()
	if err := e.RefreshCaches(context.Background()); err != nil {
		t.Fatalf("RefreshCaches: %v", err)
	}

	clk.advance(time.Second)
	e.processBatch([]Tick{{InstrumentToken: 101, LastPrice: 100.00, Timestamp: clk.cur}})
	drainSink(e)

	rebuilt := e.rolling[rollingKey{userID: "alice", token: 101}]
	if rebuilt == old {
		t.Error("rolling window not rebuilt after timeframe change")
	}
	if rebuilt.Window() != 30*time.Minute {
		t.Errorf("window = %v, want 30m", rebuilt.Window())
	}
}

func TestEvaluationFaultRecovered(t *testing.T) {
	e, _, _ := newTestEngine(t,
		[]models.UserSettings{defaultSettings("alice", models.AlgoModeRolling)},
		[]models.WatchedStock{watched("alice", "TCS", 101)},
	)

	// a nil rolling entry makes ProcessTick panic for this tick
	e.rolling[rollingKey{userID: "alice", token: 101}] = nil

	e.processBatch([]Tick{
		{InstrumentToken: 101, LastPrice: 100.00},
	})

	if got := e.Stats().EvalErrors; got != 1 {
		t.Errorf("eval errors = %d, want 1", got)
	}
}

func TestStartShutdownDrains(t *testing.T) {
	store := &fakeStore{
		settings: []models.UserSettings{defaultSettings("alice", models.AlgoModeTrailing)},
		stocks:   []models.WatchedStock{watched("alice", "TCS", 101)},
	}
	broadcaster := &fakeBroadcaster{}
	e := New(store, broadcaster, &fakeEgress{})
	if err := e.RefreshCaches(context.Background()); err != nil {
		t.Fatalf("RefreshCaches: %v", err)
	}

	e.Start(context.Background())
	e.Enqueue([]Tick{{InstrumentToken: 101, LastPrice: 100.00}})
	e.Enqueue([]Tick{{InstrumentToken: 101, LastPrice: 98.00}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	total := 0
	for _, batch := range store.inserted {
		total += len(batch)
	}
	if total != 1 {
		t.Errorf("persisted alerts = %d, want 1", total)
	}

	// intake is closed after shutdown
	e.Enqueue([]Tick{{InstrumentToken: 101, LastPrice: 50.00}})
	if got := len(e.batchCh); got != 0 {
		t.Errorf("batch queue = %d after shutdown, want 0", got)
	}
}
