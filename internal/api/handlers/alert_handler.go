package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/stormalert/stormalertapi/internal/repository"
	"github.com/stormalert/stormalertapi/pkg/utils/response"
	"gorm.io/gorm"
)

// AlertHandler is the handler for the alerts activity API
type AlertHandler struct {
	repo *repository.AlertRepository
}

// NewAlertHandler creates a new handler for the alerts activity API
func NewAlertHandler(db *gorm.DB) *AlertHandler {
	return &AlertHandler{repo: repository.NewAlertRepository(db)}
}

// GetAlerts returns a user's recent alerts, newest first. Optional
// `min_change` filters on the stored change magnitude and `limit` caps
// the row count.
func (h *AlertHandler) GetAlerts(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "`user_id` is required")
	}

	var minChange float64
	if raw := c.QueryParam("min_change"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "`min_change` must be a non-negative number")
		}
		minChange = parsed
	}

	var limit int
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "`limit` must be a positive integer")
		}
		limit = parsed
	}

	alerts, err := h.repo.GetRecentAlerts(c.Request().Context(), userID, minChange, limit)
	if err != nil {
		return response.ErrorResponse(c, http.StatusInternalServerError, "ServerException", err.Error())
	}

	return response.SuccessResponse(c, map[string]interface{}{
		"rows":   len(alerts),
		"alerts": alerts,
	})
}
