package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/stormalert/stormalertapi/internal/engine"
	"github.com/stormalert/stormalertapi/internal/service"
	"github.com/stormalert/stormalertapi/pkg/utils/response"
)

// EngineHandler is the handler for the engine control API
type EngineHandler struct {
	engine         *engine.Engine
	tickerService  *service.TickerService
	sessionService *service.SessionService
}

// NewEngineHandler creates a new handler for the engine control API
func NewEngineHandler(eng *engine.Engine, tickerService *service.TickerService, sessionService *service.SessionService) *EngineHandler {
	return &EngineHandler{
		engine:         eng,
		tickerService:  tickerService,
		sessionService: sessionService,
	}
}

// engineStatusData is the response payload for the status route
type engineStatusData struct {
	TickerRunning bool         `json:"ticker_running"`
	Counters      engine.Stats `json:"counters"`
}

// GetStatus returns the ticker connection state and engine counters
func (h *EngineHandler) GetStatus(c echo.Context) error {
	return response.SuccessResponse(c, engineStatusData{
		TickerRunning: h.tickerService.Status(),
		Counters:      h.engine.Stats(),
	})
}

// GetTokens returns the instrument token union the engine watches
func (h *EngineHandler) GetTokens(c echo.Context) error {
	return response.SuccessResponse(c, h.engine.SubscribedTokens())
}

// Restart exchanges credentials for a fresh session and restarts the
// tick stream with the engine's current token union
func (h *EngineHandler) Restart(c echo.Context) error {
	userid := c.FormValue("user_id")
	password := c.FormValue("password")
	totpValue := c.FormValue("totp_value")
	totpSecret := c.FormValue("totp_secret")

	if userid == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "`user_id` is required")
	}
	if password == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "`password` is required")
	}
	if totpValue == "" && totpSecret == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "Either `totp_value` or `totp_secret` is required")
	}

	if totpSecret != "" {
		totpValueGenerated, err := h.sessionService.GenerateTOTP(totpSecret)
		if err != nil {
			return response.ErrorResponse(c, http.StatusUnauthorized, "AuthenticationException", err.Error())
		}
		totpValue = totpValueGenerated
	}

	sessionData, err := h.sessionService.GenerateSession(userid, password, totpValue)
	if err != nil {
		return response.ErrorResponse(c, http.StatusUnauthorized, "AuthenticationException", err.Error())
	}

	if err := h.tickerService.Restart(sessionData.UserId, sessionData.Enctoken); err != nil {
		return response.ErrorResponse(c, http.StatusInternalServerError, "ServerException", err.Error())
	}

	return response.SuccessResponse(c, engineStatusData{
		TickerRunning: h.tickerService.Status(),
		Counters:      h.engine.Stats(),
	})
}

// Stop disconnects the tick stream; the engine keeps running degraded
func (h *EngineHandler) Stop(c echo.Context) error {
	if err := h.tickerService.Stop(); err != nil {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", err.Error())
	}
	return response.SuccessResponse(c, "ticker stopped")
}
