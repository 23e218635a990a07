package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stormalert/stormalertapi/internal/models"
)

func testAlert(symbol string) models.Alert {
	return models.Alert{
		UserID:        "alice",
		StockSymbol:   symbol,
		Price:         98.50,
		ChangePercent: 1.50,
		AlertType:     models.AlertTypeDip,
		Message:       renderMessage(symbol, 98.50, 1.50, models.AlertTypeDip),
		Timestamp:     testEpoch,
	}
}

func TestSinkFlushRetriesFailedBatch(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("connection refused")}
	var ctrs counters
	s := newSink(store, &fakeBroadcaster{}, &fakeEgress{}, &ctrs)

	s.accept(sinkItem{alert: testAlert("TCS")})
	s.flush()

	if got := ctrs.flushFailures.Load(); got != 1 {
		t.Errorf("flush failures = %d, want 1", got)
	}
	if len(s.buf) != 1 {
		t.Fatalf("buffer = %d after failed flush, want the batch kept", len(s.buf))
	}

	// store recovers; the retained batch goes out on the next flush
	store.mu.Lock()
	store.insertErr = nil
	store.mu.Unlock()
	s.flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inserted) != 1 || len(store.inserted[0]) != 1 {
		t.Fatalf("inserted = %v, want one batch of one record", store.inserted)
	}
	if len(s.buf) != 0 {
		t.Errorf("buffer = %d after successful flush, want 0", len(s.buf))
	}
	if got := ctrs.bufferDepth.Load(); got != 0 {
		t.Errorf("buffer depth = %d, want 0", got)
	}
}

func TestSinkFlushesAtBatchSize(t *testing.T) {
	store := &fakeStore{}
	var ctrs counters
	s := newSink(store, &fakeBroadcaster{}, &fakeEgress{}, &ctrs)

	for i := 0; i < flushBatchSize; i++ {
		s.accept(sinkItem{alert: testAlert(fmt.Sprintf("SYM%d", i))})
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inserted) != 1 {
		t.Fatalf("batches = %d, want the size threshold to trigger one flush", len(store.inserted))
	}
	if len(store.inserted[0]) != flushBatchSize {
		t.Errorf("batch size = %d, want %d", len(store.inserted[0]), flushBatchSize)
	}
	if len(s.buf) != 0 {
		t.Errorf("buffer = %d after flush, want 0", len(s.buf))
	}
}

func TestSinkShedsOldestAtCapacity(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down")}
	var ctrs counters
	s := newSink(store, &fakeBroadcaster{}, &fakeEgress{}, &ctrs)

	s.buf = make([]models.Alert, 0, persistBufferCap+1)
	for i := 0; i < persistBufferCap; i++ {
		s.buf = append(s.buf, testAlert(fmt.Sprintf("SYM%d", i)))
	}

	s.accept(sinkItem{alert: testAlert("NEWEST")})

	if got := ctrs.alertsShed.Load(); got != 1 {
		t.Errorf("shed = %d, want 1", got)
	}
	if len(s.buf) != persistBufferCap {
		t.Errorf("buffer = %d, want capped at %d", len(s.buf), persistBufferCap)
	}
	if s.buf[0].StockSymbol != "SYM1" {
		t.Errorf("oldest survivor = %s, want SYM1 (SYM0 shed)", s.buf[0].StockSymbol)
	}
	if s.buf[len(s.buf)-1].StockSymbol != "NEWEST" {
		t.Errorf("newest record was lost")
	}
}

func TestSinkBroadcastFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{err: errors.New("channel closed")}
	var ctrs counters
	s := newSink(store, broadcaster, &fakeEgress{}, &ctrs)

	s.accept(sinkItem{alert: testAlert("TCS")})

	if len(s.buf) != 1 {
		t.Errorf("buffer = %d, want the record kept for persistence", len(s.buf))
	}
}

func TestSinkCountsDroppedNotifications(t *testing.T) {
	store := &fakeStore{}
	egress := &fakeEgress{full: true}
	var ctrs counters
	s := newSink(store, &fakeBroadcaster{}, egress, &ctrs)

	s.accept(sinkItem{alert: testAlert("TCS")})
	s.accept(sinkItem{alert: testAlert("INFY")})

	if got := ctrs.notifDropped.Load(); got != 2 {
		t.Errorf("dropped notifications = %d, want 2", got)
	}
}

func TestSinkFanout(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	egress := &fakeEgress{}
	var ctrs counters
	s := newSink(store, broadcaster, egress, &ctrs)

	alert := testAlert("TCS")
	settings := defaultSettings("alice", models.AlgoModeBoth)
	s.accept(sinkItem{alert: alert, settings: settings})

	if len(broadcaster.events) != 1 {
		t.Fatalf("broadcast events = %d, want 1", len(broadcaster.events))
	}
	event := broadcaster.events[0]
	if event.Type != "ALERT_NEW" {
		t.Errorf("event type = %s, want ALERT_NEW", event.Type)
	}
	if event.Data.Timestamp != testEpoch.Format(time.RFC3339) {
		t.Errorf("event timestamp = %s, want RFC3339 %s", event.Data.Timestamp, testEpoch.Format(time.RFC3339))
	}
	if len(egress.messages) != 1 || egress.messages[0] != alert.Message {
		t.Errorf("egress messages = %v", egress.messages)
	}
}
