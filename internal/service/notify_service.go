// Package service contains the service layer for the StormAlert API
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stormalert/stormalertapi/internal/config"
	"github.com/stormalert/stormalertapi/internal/models"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
)

// NotifyQueueKey is the Redis list the delivery workers drain
var NotifyQueueKey = "notifications"

const (
	notifyQueueCapacity = 1024
	notifyPushTimeout   = 5 * time.Second
	telegramTimeout     = 10 * time.Second
)

// NotifyTask is one outbound delivery task. The user's notification
// prefs ride along so the delivery workers know which channels fire.
type NotifyTask struct {
	Settings models.UserSettings `json:"settings"`
	Message  string              `json:"message"`
}

// NotifyService is the notification egress: a bounded queue drained by
// a single worker that hands tasks to the durable Redis queue. When the
// queue push fails and the user has Telegram enabled, the worker sends
// directly as a fallback. Enqueue never blocks the alert sink; a full
// queue is a dropped task.
type NotifyService struct {
	redisClient *redis.Client
	botToken    string
	httpClient  *http.Client
	tasks       chan NotifyTask
}

// NewNotifyService creates a new NotifyService
func NewNotifyService(redisClient *redis.Client, cfg *config.Config) *NotifyService {
	return &NotifyService{
		redisClient: redisClient,
		botToken:    cfg.TelegramBotToken,
		httpClient:  &http.Client{Timeout: telegramTimeout},
		tasks:       make(chan NotifyTask, notifyQueueCapacity),
	}
}

// Enqueue hands one rendered message to the egress worker. Returns
// false when the queue is full and the task was dropped.
func (s *NotifyService) Enqueue(settings models.UserSettings, message string) bool {
	select {
	case s.tasks <- NotifyTask{Settings: settings, Message: message}:
		return true
	default:
		return false
	}
}

// Start launches the delivery worker
func (s *NotifyService) Start(ctx context.Context) {
	go s.worker(ctx)
}

func (s *NotifyService) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			s.deliver(ctx, task)
		}
	}
}

// deliver pushes one task onto the durable queue
func (s *NotifyService) deliver(ctx context.Context, task NotifyTask) {
	payload, err := json.Marshal(task)
	if err != nil {
		zaplogger.Error("notify task marshal failed", zaplogger.Fields{"error": err.Error()})
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, notifyPushTimeout)
	defer cancel()

	if err := s.redisClient.RPush(pushCtx, NotifyQueueKey, payload).Err(); err != nil {
		zaplogger.Error("notify enqueue failed", zaplogger.Fields{
			"user_id": task.Settings.UserID,
			"error":   err.Error(),
		})
		// fall back to direct Telegram delivery when possible
		if task.Settings.TelegramEnabled && task.Settings.TelegramChatID != "" && s.botToken != "" {
			if err := s.sendTelegram(ctx, task.Settings.TelegramChatID, task.Message); err != nil {
				zaplogger.Error("telegram fallback failed", zaplogger.Fields{
					"user_id": task.Settings.UserID,
					"error":   err.Error(),
				})
			}
		}
	}
}

// sendTelegram posts one message via the Telegram Bot API
func (s *NotifyService) sendTelegram(ctx context.Context, chatID, message string) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    chatID,
		"text":       message,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	return nil
}
