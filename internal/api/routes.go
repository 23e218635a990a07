// Package api contains the API routes for the StormAlert API
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/stormalert/stormalertapi/internal/api/handlers"
	"github.com/stormalert/stormalertapi/internal/api/middleware"
	"github.com/stormalert/stormalertapi/internal/config"
	"github.com/stormalert/stormalertapi/internal/engine"
	"github.com/stormalert/stormalertapi/internal/metrics"
	"github.com/stormalert/stormalertapi/internal/service"
	"github.com/stormalert/stormalertapi/pkg/utils/response"
)

// Deps are the constructed collaborators the routes are wired to
type Deps struct {
	DB             *gorm.DB
	RedisClient    *redis.Client
	Engine         *engine.Engine
	TickerService  *service.TickerService
	SessionService *service.SessionService
	Metrics        *metrics.Metrics
}

// SetupRoutes configures the routes for the API
func SetupRoutes(e *echo.Echo, deps Deps) {

	// Health and metrics (unprotected, outside the /api group)
	e.GET("/health", healthRoute(deps.DB, deps.RedisClient, deps.TickerService))
	e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))

	// Create a group for all API routes
	api := e.Group("/api")

	// Index route
	api.GET("/", indexRoute)

	// Session routes (unprotected)
	sessionHandler := handlers.NewSessionHandler(deps.SessionService)
	sessionGroup := api.Group("/session")
	sessionGroup.GET("/login", sessionHandler.GenerateSession)
	sessionGroup.GET("/totp", sessionHandler.GenerateTOTP)
	sessionGroup.GET("/valid", sessionHandler.CheckSessionValid)
	sessionGroup.DELETE("", sessionHandler.DeleteSession)

	// Engine routes (protected)
	engineHandler := handlers.NewEngineHandler(deps.Engine, deps.TickerService, deps.SessionService)
	engineGroup := api.Group("/engine")
	engineGroup.Use(middleware.AuthMiddleware(deps.SessionService))
	engineGroup.GET("/status", engineHandler.GetStatus)
	engineGroup.GET("/tokens", engineHandler.GetTokens)
	engineGroup.POST("/restart", engineHandler.Restart)
	engineGroup.GET("/stop", engineHandler.Stop)

	// Alert activity routes (protected)
	alertHandler := handlers.NewAlertHandler(deps.DB)
	alertGroup := api.Group("/alerts")
	alertGroup.Use(middleware.AuthMiddleware(deps.SessionService))
	alertGroup.GET("", alertHandler.GetAlerts)

	// Log routes (protected)
	logHandler := handlers.NewLogHandler(deps.DB)
	logGroup := api.Group("/logs")
	logGroup.Use(middleware.AuthMiddleware(deps.SessionService))
	logGroup.GET("", logHandler.GetLogs)
}

// indexRoute sets up the index route for the API
func indexRoute(c echo.Context) error {
	cfg, err := config.Get()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	message := fmt.Sprintf("%s %s", cfg.APIName, cfg.APIVersion)
	return response.SuccessResponse(c, message)
}

// healthRoute reports dependency reachability and the ticker state
func healthRoute(db *gorm.DB, redisClient *redis.Client, tickerService *service.TickerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		postgresOK := false
		if sqlDB, err := db.DB(); err == nil {
			postgresOK = sqlDB.PingContext(ctx) == nil
		}
		redisOK := redisClient.Ping(ctx).Err() == nil
		tickerRunning := tickerService.Status()

		status := "ok"
		httpCode := http.StatusOK
		if !postgresOK || !redisOK {
			status = "unhealthy"
			httpCode = http.StatusServiceUnavailable
		} else if !tickerRunning {
			status = "degraded"
		}

		return c.JSON(httpCode, map[string]interface{}{
			"status":         status,
			"postgres_ok":    postgresOK,
			"redis_ok":       redisOK,
			"ticker_running": tickerRunning,
		})
	}
}
