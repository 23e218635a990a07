package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stormalert/stormalertapi/internal/engine/algo"
	"github.com/stormalert/stormalertapi/internal/models"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
)

const (
	batchQueueCapacity = 1024             // queued tick batches before shedding oldest
	sinkQueueCapacity  = 4096             // alerts in flight between pipeline and sink
	flushInterval      = 1 * time.Second  // persistence flush cadence
	flushBatchSize     = 1000             // flush early at this many buffered alerts
	persistBufferCap   = 10000            // shed oldest beyond this
	storeTimeout       = 5 * time.Second  // per store call
	drainTimeout       = 5 * time.Second  // shutdown drain deadline
)

// Store is the persistence surface the engine requires.
type Store interface {
	LoadAllSettings(ctx context.Context) ([]models.UserSettings, error)
	LoadActiveStocks(ctx context.Context) ([]models.WatchedStock, error)
	BulkInsertAlerts(ctx context.Context, alerts []models.Alert) error
	DeleteAlertsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Broadcaster pushes alert events to subscribed clients. Delivery
// failures are the broadcaster's problem; the engine only logs them.
type Broadcaster interface {
	Broadcast(event Event) error
}

// Egress enqueues a rendered notification for outbound delivery.
// It must not block; a false return means the task was dropped.
type Egress interface {
	Enqueue(settings models.UserSettings, message string) bool
}

// Event is the payload pushed to the client broadcast channel.
type Event struct {
	Type string       `json:"type"`
	Data AlertPayload `json:"data"`
}

// AlertPayload is an alert with its timestamp rendered for the wire.
type AlertPayload struct {
	UserID        string           `json:"user_id"`
	StockSymbol   string           `json:"stock_symbol"`
	Price         float64          `json:"price"`
	ChangePercent float64          `json:"change_percent"`
	AlertType     models.AlertType `json:"alert_type"`
	Timestamp     string           `json:"timestamp"`
	Message       string           `json:"message"`
}

func newAlertEvent(a models.Alert) Event {
	return Event{
		Type: "ALERT_NEW",
		Data: AlertPayload{
			UserID:        a.UserID,
			StockSymbol:   a.StockSymbol,
			Price:         a.Price,
			ChangePercent: a.ChangePercent,
			AlertType:     a.AlertType,
			Timestamp:     a.Timestamp.UTC().Format(time.RFC3339),
			Message:       a.Message,
		},
	}
}

type rollingKey struct {
	userID string
	token  uint32
}

type cooldownKey struct {
	userID string
	symbol string
	kind   models.AlertType
}

// counters are the engine's observability counters. All fields are
// atomics so the API can snapshot them without stopping the pipeline.
type counters struct {
	totalTicks       atomic.Int64
	droppedTicks     atomic.Int64
	malformedTicks   atomic.Int64
	alertsEmitted    atomic.Int64
	alertsSuppressed atomic.Int64
	evalErrors       atomic.Int64
	alertsShed       atomic.Int64
	flushFailures    atomic.Int64
	notifDropped     atomic.Int64
	bufferDepth      atomic.Int64
}

// Stats is a read-only snapshot of the engine counters.
type Stats struct {
	TotalTicks             int64 `json:"total_ticks"`
	DroppedTicks           int64 `json:"dropped_ticks"`
	MalformedTicks         int64 `json:"malformed_ticks"`
	AlertsEmitted          int64 `json:"alerts_emitted"`
	AlertsSuppressed       int64 `json:"alerts_suppressed_by_cooldown"`
	EvalErrors             int64 `json:"eval_errors"`
	AlertsShed             int64 `json:"alerts_shed"`
	FlushFailures          int64 `json:"flush_failures"`
	NotificationsDropped   int64 `json:"notifications_dropped"`
	MonitoredUsers         int64 `json:"monitored_users"`
	MonitoredInstruments   int64 `json:"monitored_instruments"`
	PersistenceBufferDepth int64 `json:"persistence_buffer_depth"`
}

// Engine is the tick-to-alert pipeline. One goroutine drains tick
// batches and owns the trailing, rolling and cooldown maps; a second
// runs the alert sink. Caches are replaced wholesale by RefreshCaches
// and read through atomic snapshots, so the pipeline needs no locks.
type Engine struct {
	store Store
	sink  *sink

	batchCh   chan []Tick
	accepting atomic.Bool

	table      atomic.Pointer[subscriptionTable]
	settings   atomic.Pointer[settingsSnapshot]
	generation atomic.Int64

	// pipeline-owned state; never touched outside the run goroutine
	trailing *algo.Trailing
	rolling  map[rollingKey]*algo.RollingWindow
	cooldown map[cooldownKey]time.Time
	seenGen  int64

	now func() time.Time

	ctrs   counters
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine wired to the given collaborators.
func New(store Store, broadcaster Broadcaster, egress Egress) *Engine {
	e := &Engine{
		store:    store,
		batchCh:  make(chan []Tick, batchQueueCapacity),
		trailing: algo.NewTrailing(),
		rolling:  make(map[rollingKey]*algo.RollingWindow),
		cooldown: make(map[cooldownKey]time.Time),
		now:      time.Now,
	}
	e.sink = newSink(store, broadcaster, egress, &e.ctrs)
	e.table.Store(buildSubscriptionTable(nil))
	e.settings.Store(buildSettingsSnapshot(nil))
	e.accepting.Store(true)
	return e
}

// Start launches the pipeline and sink goroutines.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go e.run(ctx)
	go e.sink.run(&e.wg)

	zaplogger.Info("alert engine started")
}

// Shutdown stops ingress, drains queued ticks up to a deadline, flushes
// the persistence buffer once and stops the periodic work.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.accepting.Store(false)
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zaplogger.Info("alert engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshCaches reloads user settings and active watchlist rows and
// publishes new snapshots. Rolling-window state of users whose window
// changed is rebuilt on their next tick; state of removed users is
// pruned by the pipeline when it observes the new generation.
func (e *Engine) RefreshCaches(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	settings, err := e.store.LoadAllSettings(ctx)
	if err != nil {
		return err
	}
	stocks, err := e.store.LoadActiveStocks(ctx)
	if err != nil {
		return err
	}

	e.settings.Store(buildSettingsSnapshot(settings))
	e.table.Store(buildSubscriptionTable(stocks))
	e.generation.Add(1)

	zaplogger.Info("engine caches refreshed", zaplogger.Fields{
		"users":  len(settings),
		"tokens": len(e.table.Load().tokens),
	})
	return nil
}

// SubscribedTokens returns the union of instrument tokens across active
// watchlist rows, sorted. The upstream adapter diffs this against its
// current subscription.
func (e *Engine) SubscribedTokens() []uint32 {
	tokens := e.table.Load().tokens
	out := make([]uint32, len(tokens))
	copy(out, tokens)
	return out
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalTicks:             e.ctrs.totalTicks.Load(),
		DroppedTicks:           e.ctrs.droppedTicks.Load(),
		MalformedTicks:         e.ctrs.malformedTicks.Load(),
		AlertsEmitted:          e.ctrs.alertsEmitted.Load(),
		AlertsSuppressed:       e.ctrs.alertsSuppressed.Load(),
		EvalErrors:             e.ctrs.evalErrors.Load(),
		AlertsShed:             e.ctrs.alertsShed.Load(),
		FlushFailures:          e.ctrs.flushFailures.Load(),
		NotificationsDropped:   e.ctrs.notifDropped.Load(),
		MonitoredUsers:         int64(len(e.settings.Load().byUser)),
		MonitoredInstruments:   int64(len(e.table.Load().byToken)),
		PersistenceBufferDepth: e.ctrs.bufferDepth.Load(),
	}
}

// run is the pipeline task: the only goroutine that mutates the
// trailing, rolling and cooldown maps.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	defer e.sink.close()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return
		case batch := <-e.batchCh:
			e.processBatch(batch)
		}
	}
}

// drain processes whatever is still queued, bounded by drainTimeout.
func (e *Engine) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case batch := <-e.batchCh:
			e.processBatch(batch)
		default:
			return
		}
	}
}
