// Package service contains the service layer for the StormAlert API
package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stormalert/stormalertapi/internal/config"
	"github.com/stormalert/stormalertapi/internal/engine"
	"github.com/stormalert/stormalertapi/internal/repository"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
)

const (
	alertRetentionPeriod = 30 * 24 * time.Hour
	storeJobTimeout      = 5 * time.Second
)

// CronService owns the periodic work around the engine: cache refresh,
// alert retention, the session token watchdog and the startup sequence.
// Every job logs and continues on failure; none may abort the engine.
type CronService struct {
	cfg            *config.Config
	c              *cron.Cron
	engine         *engine.Engine
	store          *repository.Store
	sessionService *SessionService
	tickerService  *TickerService
}

// NewCronService creates a new CronService
func NewCronService(cfg *config.Config, eng *engine.Engine, store *repository.Store, sessionService *SessionService, tickerService *TickerService) *CronService {
	return &CronService{
		cfg:            cfg,
		c:              cron.New(),
		engine:         eng,
		store:          store,
		sessionService: sessionService,
		tickerService:  tickerService,
	}
}

// Start registers and starts all jobs
func (cs *CronService) Start() {
	zaplogger.Info("Initializing CronService")

	// ------------------------------------------------------------
	// SCHEDULED jobs
	// ------------------------------------------------------------
	cs.addScheduledJob("Engine Cache REFRESH Job", cs.cacheRefreshJob, "@every 1m")
	cs.addScheduledJob("Alerts RETENTION Job", cs.retentionJob, "@every 24h")
	cs.addScheduledJob("Session WATCHDOG Job", cs.sessionWatchdogJob, "@every 1m")

	// ------------------------------------------------------------
	// STARTUP jobs
	// ------------------------------------------------------------
	cs.addStartupJob("Engine Cache REFRESH Job", cs.cacheRefreshJob, 1*time.Second)
	cs.addStartupJob("Ticker START Job", cs.tickerStartJob, 5*time.Second)

	cs.c.Start()
}

// Stop stops the cron scheduler
func (cs *CronService) Stop() {
	cs.c.Stop()
}

// addStartupJob adds a startup job to the cron service
func (cs *CronService) addStartupJob(name string, job func(), delay time.Duration) {
	go func() {
		time.Sleep(delay)
		zaplogger.Info("STARTED STARTUP job", zaplogger.Fields{
			"job": name,
		})
		job()
		zaplogger.Info("COMPLETED STARTUP job", zaplogger.Fields{
			"job": name,
		})
	}()
	zaplogger.Info("QUEUED STARTUP job", zaplogger.Fields{
		"job": name,
	})
}

func (cs *CronService) addScheduledJob(name string, job func(), schedule string) {
	_, err := cs.c.AddFunc(schedule, job)
	if err != nil {
		zaplogger.Error("FAILED TO QUEUE SCHEDULED JOB", zaplogger.Fields{
			"job":   name,
			"error": err.Error(),
		})
		return
	}
	zaplogger.Info("QUEUED SCHEDULED job", zaplogger.Fields{
		"job":      name,
		"schedule": schedule,
	})
}

// cacheRefreshJob reloads the engine caches and syncs the upstream
// subscription to the new token union
func (cs *CronService) cacheRefreshJob() {
	jobName := "Engine Cache REFRESH Job"

	if err := cs.engine.RefreshCaches(context.Background()); err != nil {
		zaplogger.Error(jobName, zaplogger.Fields{
			"step":  "RefreshCaches",
			"error": err.Error(),
		})
		return
	}

	if err := cs.tickerService.SyncSubscriptions(); err != nil {
		zaplogger.Error(jobName, zaplogger.Fields{
			"step":  "SyncSubscriptions",
			"error": err.Error(),
		})
	}
}

// retentionJob deletes alerts older than the retention period
func (cs *CronService) retentionJob() {
	jobName := "Alerts RETENTION Job"

	ctx, cancel := context.WithTimeout(context.Background(), storeJobTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-alertRetentionPeriod)
	deleted, err := cs.store.DeleteAlertsOlderThan(ctx, cutoff)
	if err != nil {
		zaplogger.Error(jobName, zaplogger.Fields{
			"error": err.Error(),
		})
		return
	}
	if deleted > 0 {
		zaplogger.Info(jobName, zaplogger.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		})
	}
}

// sessionWatchdogJob stops the ticker once the stored token passes its
// expiry bound. The engine stays up, degraded, until a new token is
// handed in through the restart endpoint or the next startup login.
func (cs *CronService) sessionWatchdogJob() {
	jobName := "Session WATCHDOG Job"

	if cs.cfg.KiteUserID == "" {
		return
	}

	session, err := cs.sessionService.GetSession(cs.cfg.KiteUserID)
	if err != nil {
		return
	}

	if session.Expired(time.Now()) && cs.tickerService.Status() {
		zaplogger.Warn(jobName, zaplogger.Fields{
			"step":       "TokenExpired",
			"expires_at": session.ExpiresAt.Format(time.RFC3339),
		})
		if err := cs.tickerService.Stop(); err != nil {
			zaplogger.Error(jobName, zaplogger.Fields{
				"step":  "TickerStop",
				"error": err.Error(),
			})
		}
	}
}

// tickerStartJob logs in upstream and starts the tick stream
func (cs *CronService) tickerStartJob() {
	jobName := "Ticker START Job"

	userId := cs.cfg.KiteUserID
	password := cs.cfg.KitePassword
	totpSecret := cs.cfg.KiteTotpSecret

	if userId == "" || password == "" || totpSecret == "" {
		// fatal at startup in production mode, handled by config;
		// in dev the engine runs without an upstream feed
		zaplogger.Warn(jobName, zaplogger.Fields{
			"step": "SkippedNoCredentials",
		})
		return
	}

	totpValue, err := cs.sessionService.GenerateTOTP(totpSecret)
	if err != nil {
		zaplogger.Error(jobName, zaplogger.Fields{
			"step":  "GenerateTOTP",
			"error": err.Error(),
		})
		return
	}

	sessionData, err := cs.sessionService.GenerateSession(userId, password, totpValue)
	if err != nil {
		zaplogger.Error(jobName, zaplogger.Fields{
			"step":    "GenerateSession",
			"user_id": userId,
			"error":   err.Error(),
		})
		return
	}
	zaplogger.Info(jobName, zaplogger.Fields{
		"step":       "GenerateSession",
		"user_id":    sessionData.UserId,
		"login_time": sessionData.LoginTime,
		"expires_at": sessionData.ExpiresAt.Format(time.RFC3339),
	})

	if err := cs.tickerService.Start(sessionData.UserId, sessionData.Enctoken); err != nil {
		zaplogger.Error(jobName, zaplogger.Fields{
			"step":  "TickerStart",
			"error": err.Error(),
		})
		return
	}
	zaplogger.Info(jobName, zaplogger.Fields{
		"step": "TickerStart",
	})
}
