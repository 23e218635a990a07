// Package main is the entry point for the StormAlert API
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/stormalert/stormalertapi/internal/api"
	"github.com/stormalert/stormalertapi/internal/api/middleware"
	"github.com/stormalert/stormalertapi/internal/config"
	"github.com/stormalert/stormalertapi/internal/engine"
	"github.com/stormalert/stormalertapi/internal/metrics"
	"github.com/stormalert/stormalertapi/internal/repository"
	"github.com/stormalert/stormalertapi/internal/service"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env in dev; production injects its environment
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Get()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Print the configuration
	fmt.Println(cfg.String())

	// Connect to Postgres
	db, err := repository.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	// Connect Redis
	redisClient, err := repository.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// Init logger
	err = zaplogger.InitLogger(db)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Setup logger
	defer zaplogger.Sync()
	zaplogger.SetLogLevel(cfg.ServerLogLevel)

	// startUpMessage
	zaplogger.Info(cfg.APIName + " - " + cfg.APIVersion + " initialized")
	zaplogger.Info("Postgres initialized")
	zaplogger.Info("Redis initialized")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Build the engine and its collaborators
	store := repository.NewStore(db)
	broadcastService := service.NewBroadcastService(redisClient)
	notifyService := service.NewNotifyService(redisClient, cfg)
	notifyService.Start(rootCtx)

	eng := engine.New(store, broadcastService, notifyService)
	eng.Start(rootCtx)
	zaplogger.Info("Engine initialized")

	sessionService := service.NewSessionService(db)
	tickerService := service.NewTickerService(eng)

	// Create a new Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Setup middleware
	middleware.SetupLoggerMiddleware(e)

	// Setup routes
	api.SetupRoutes(e, api.Deps{
		DB:             db,
		RedisClient:    redisClient,
		Engine:         eng,
		TickerService:  tickerService,
		SessionService: sessionService,
		Metrics:        metrics.New(eng),
	})

	// Setup and start cron jobs
	cronService := service.NewCronService(cfg, eng, store, sessionService, tickerService)
	cronService.Start()

	// Start the server
	go startServer(e, cfg)

	// Block until a shutdown signal, then drain the pipeline
	waitForShutdown(e, eng, tickerService, cronService, rootCancel)
}

// startServer starts the Echo server on the specified port
func startServer(e *echo.Echo, cfg *config.Config) {
	port := cfg.ServerPort
	if port == "" {
		port = "3007"
	}
	zaplogger.Info("SERVER STARTED ON PORT " + port)
	if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
		zaplogger.Fatal("server failed", zaplogger.Fields{"error": err.Error()})
	}
}

// waitForShutdown stops intake, drains in-flight ticks, flushes the
// sink and closes the server within the shutdown deadline
func waitForShutdown(e *echo.Echo, eng *engine.Engine, tickerService *service.TickerService, cronService *service.CronService, rootCancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zaplogger.Info("SHUTDOWN SIGNAL RECEIVED", zaplogger.Fields{"signal": sig.String()})

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	cronService.Stop()
	if tickerService.Status() {
		if err := tickerService.Stop(); err != nil {
			zaplogger.Warn("ticker stop on shutdown", zaplogger.Fields{"error": err.Error()})
		}
	}

	if err := eng.Shutdown(ctx); err != nil {
		zaplogger.Warn("engine shutdown incomplete", zaplogger.Fields{"error": err.Error()})
	}
	rootCancel()

	if err := e.Shutdown(ctx); err != nil {
		zaplogger.Warn("server shutdown", zaplogger.Fields{"error": err.Error()})
	}
	zaplogger.Info("SHUTDOWN COMPLETE")
}
