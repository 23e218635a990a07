// Package service contains the service layer for the StormAlert API
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stormalert/stormalertapi/internal/engine"
)

// AlertsRedisChannel is the pub/sub channel the socket fabric consumes
var AlertsRedisChannel = "CH:API:ALERTS:DATA"

const broadcastTimeout = 2 * time.Second

// BroadcastService pushes alert events to the client broadcast fabric
// via a Redis channel. Per-subscriber delivery is the fabric's problem;
// a publish failure here is reported to the caller and goes no further.
type BroadcastService struct {
	redisClient *redis.Client
}

// NewBroadcastService creates a new BroadcastService
func NewBroadcastService(redisClient *redis.Client) *BroadcastService {
	return &BroadcastService{redisClient: redisClient}
}

// Broadcast publishes one event to the alerts channel
func (s *BroadcastService) Broadcast(event engine.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	return s.redisClient.Publish(ctx, AlertsRedisChannel, payload).Err()
}
