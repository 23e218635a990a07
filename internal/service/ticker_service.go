// Package service contains the service layer for the StormAlert API
package service

import (
	"fmt"
	"sync"
	"time"

	kiteticker "github.com/nsvirk/gokiteticker"
	"github.com/stormalert/stormalertapi/internal/engine"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
)

const tickerReconnectMaxRetries = 10

// TickerService is the upstream tick source adapter. It owns the Kite
// websocket client, keeps its subscription in step with the engine's
// watched token union, and forwards every tick into the engine's
// ingress queue from the websocket delivery goroutine.
type TickerService struct {
	engine *engine.Engine

	mu         sync.Mutex
	ticker     *kiteticker.Ticker
	isRunning  bool
	subscribed map[uint32]struct{}
}

// NewTickerService creates a new TickerService feeding the given engine
func NewTickerService(eng *engine.Engine) *TickerService {
	return &TickerService{
		engine:     eng,
		subscribed: make(map[uint32]struct{}),
	}
}

// Start connects the upstream ticker and subscribes the engine's
// current token union.
func (s *TickerService) Start(userID, enctoken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.stopLocked()
		time.Sleep(2 * time.Second)
	}

	tokens := s.engine.SubscribedTokens()
	if len(tokens) == 0 {
		return fmt.Errorf("no instruments to subscribe")
	}

	if err := s.initializeTicker(userID, enctoken); err != nil {
		return err
	}

	if err := s.ticker.Subscribe(tokens); err != nil {
		return err
	}
	if err := s.ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
		return err
	}

	s.subscribed = make(map[uint32]struct{}, len(tokens))
	for _, token := range tokens {
		s.subscribed[token] = struct{}{}
	}

	zaplogger.Info("ticker started", zaplogger.Fields{"tokens": len(tokens)})
	return nil
}

// Stop disconnects the upstream ticker. The engine keeps running in a
// degraded state producing no ticks.
func (s *TickerService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return fmt.Errorf("ticker is not running")
	}
	s.stopLocked()
	zaplogger.Info("ticker stopped")
	return nil
}

func (s *TickerService) stopLocked() {
	if s.ticker == nil {
		return
	}
	tokens := make([]uint32, 0, len(s.subscribed))
	for token := range s.subscribed {
		tokens = append(tokens, token)
	}
	if len(tokens) > 0 {
		s.ticker.Unsubscribe(tokens)
	}
	s.ticker.Close()
	s.ticker.Stop()
	s.ticker = nil
	s.subscribed = make(map[uint32]struct{})
	s.isRunning = false
}

// Restart stops the adapter, swaps credentials and re-establishes the
// subscription for the engine's current token union.
func (s *TickerService) Restart(userID, enctoken string) error {
	return s.Start(userID, enctoken)
}

// Status returns whether the upstream connection is up
func (s *TickerService) Status() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SyncSubscriptions diffs the engine's token union against the current
// upstream subscription and applies the difference. Called after every
// cache refresh.
func (s *TickerService) SyncSubscriptions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning || s.ticker == nil {
		return nil
	}

	wanted := s.engine.SubscribedTokens()
	wantedSet := make(map[uint32]struct{}, len(wanted))
	var added []uint32
	for _, token := range wanted {
		wantedSet[token] = struct{}{}
		if _, ok := s.subscribed[token]; !ok {
			added = append(added, token)
		}
	}
	var removed []uint32
	for token := range s.subscribed {
		if _, ok := wantedSet[token]; !ok {
			removed = append(removed, token)
		}
	}

	if len(added) > 0 {
		if err := s.ticker.Subscribe(added); err != nil {
			return fmt.Errorf("subscribe %d tokens: %v", len(added), err)
		}
		if err := s.ticker.SetMode(kiteticker.ModeFull, added); err != nil {
			return fmt.Errorf("set mode for %d tokens: %v", len(added), err)
		}
	}
	if len(removed) > 0 {
		s.ticker.Unsubscribe(removed)
	}

	s.subscribed = wantedSet

	if len(added) > 0 || len(removed) > 0 {
		zaplogger.Info("ticker subscriptions synced", zaplogger.Fields{
			"added":   len(added),
			"removed": len(removed),
			"total":   len(wantedSet),
		})
	}
	return nil
}

// initializeTicker connects the websocket and waits for the connection
func (s *TickerService) initializeTicker(userID, enctoken string) error {
	s.ticker = kiteticker.New(userID, enctoken)
	s.ticker.SetReconnectMaxRetries(tickerReconnectMaxRetries)
	s.setupTickerCallbacks()

	go s.ticker.Serve()

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.isRunning {
				return nil
			}
		case <-timeout:
			return fmt.Errorf("timeout waiting for ticker connection")
		}
	}
}

// setupTickerCallbacks sets up the ticker callbacks
func (s *TickerService) setupTickerCallbacks() {
	s.ticker.OnTick(func(tick kiteticker.Tick) {
		// runs on the websocket delivery goroutine; Enqueue never blocks
		s.engine.Enqueue([]engine.Tick{{
			InstrumentToken: tick.InstrumentToken,
			LastPrice:       tick.LastPrice,
			Timestamp:       tick.Timestamp.Time,
		}})
	})

	s.ticker.OnConnect(func() {
		zaplogger.Info("ticker connected")
		s.isRunning = true
	})

	s.ticker.OnError(func(err error) {
		zaplogger.Error("ticker error", zaplogger.Fields{"error": err.Error()})
	})

	s.ticker.OnClose(func(code int, reason string) {
		zaplogger.Warn("ticker closed", zaplogger.Fields{"code": code, "reason": reason})
		s.isRunning = false
	})

	s.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		zaplogger.Info("ticker reconnecting", zaplogger.Fields{"attempt": attempt, "delay": delay.String()})
	})

	s.ticker.OnNoReconnect(func(attempt int) {
		zaplogger.Error("ticker gave up reconnecting", zaplogger.Fields{"attempts": attempt})
		s.isRunning = false
	})
}
