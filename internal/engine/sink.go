package engine

import (
	"context"
	"sync"
	"time"

	"github.com/stormalert/stormalertapi/internal/models"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
)

// sinkItem pairs an alert with the settings snapshot it was evaluated
// under, so the notification lane routes by the prefs in force at emit
// time.
type sinkItem struct {
	alert    models.Alert
	settings models.UserSettings
}

// sink owns the persistence buffer and the two fan-out lanes. Records
// arrive from the pipeline over a channel; the buffer is flushed as one
// bulk insert every flushInterval or at flushBatchSize, whichever comes
// first. A failed flush keeps the batch for the next tick; past
// persistBufferCap the oldest records are shed.
type sink struct {
	store       Store
	broadcaster Broadcaster
	egress      Egress
	ctrs        *counters

	in  chan sinkItem
	buf []models.Alert
}

func newSink(store Store, broadcaster Broadcaster, egress Egress, ctrs *counters) *sink {
	return &sink{
		store:       store,
		broadcaster: broadcaster,
		egress:      egress,
		ctrs:        ctrs,
		in:          make(chan sinkItem, sinkQueueCapacity),
	}
}

// submit hands one emitted alert to the sink task.
func (s *sink) submit(alert models.Alert, settings models.UserSettings) {
	s.in <- sinkItem{alert: alert, settings: settings}
}

// close signals the sink that no more alerts will arrive. The sink
// flushes once more and exits.
func (s *sink) close() {
	close(s.in)
}

func (s *sink) run(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-s.in:
			if !ok {
				s.flush()
				return
			}
			s.accept(item)
		case <-ticker.C:
			s.flush()
		}
	}
}

// accept buffers one record for persistence and pushes it down the
// broadcast and notification lanes. Both lanes are fire-and-forget:
// a broadcast failure is logged, a full egress queue is a counted drop,
// and neither ever blocks the sink.
func (s *sink) accept(item sinkItem) {
	s.buf = append(s.buf, item.alert)
	if over := len(s.buf) - persistBufferCap; over > 0 {
		s.buf = s.buf[over:]
		s.ctrs.alertsShed.Add(int64(over))
	}
	s.ctrs.bufferDepth.Store(int64(len(s.buf)))

	if err := s.broadcaster.Broadcast(newAlertEvent(item.alert)); err != nil {
		zaplogger.Error("alert broadcast failed", zaplogger.Fields{
			"user_id": item.alert.UserID,
			"symbol":  item.alert.StockSymbol,
			"error":   err.Error(),
		})
	}

	if !s.egress.Enqueue(item.settings, item.alert.Message) {
		s.ctrs.notifDropped.Add(1)
	}

	if len(s.buf) >= flushBatchSize {
		s.flush()
	}
}

// flush bulk-inserts the buffered records. On failure the batch is kept
// for the next flush tick rather than lost.
func (s *sink) flush() {
	if len(s.buf) == 0 {
		return
	}

	batch := s.buf
	s.buf = nil

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.BulkInsertAlerts(ctx, batch); err != nil {
		s.ctrs.flushFailures.Add(1)
		zaplogger.Error("alert flush failed", zaplogger.Fields{
			"records": len(batch),
			"error":   err.Error(),
		})

		// re-buffer, shedding oldest past the cap
		s.buf = batch
		if over := len(s.buf) - persistBufferCap; over > 0 {
			s.buf = s.buf[over:]
			s.ctrs.alertsShed.Add(int64(over))
		}
		s.ctrs.bufferDepth.Store(int64(len(s.buf)))
		return
	}

	s.ctrs.bufferDepth.Store(0)
	zaplogger.Debug("alerts flushed", zaplogger.Fields{"records": len(batch)})
}
