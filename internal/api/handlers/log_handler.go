package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/stormalert/stormalertapi/pkg/utils/response"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
	"gorm.io/gorm"
)

// LogHandler serves recent application log rows from the database sink
type LogHandler struct {
	db *gorm.DB
}

// NewLogHandler creates a new handler for the logs API
func NewLogHandler(db *gorm.DB) *LogHandler {
	return &LogHandler{db: db}
}

// GetLogs returns recent log entries, newest first. Optional `level`
// filters on the log level and `limit` caps the row count at 500.
func (h *LogHandler) GetLogs(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return response.ErrorResponse(c, http.StatusBadRequest, "InputException", "`limit` must be a positive integer")
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	query := h.db.WithContext(c.Request().Context()).Model(&zaplogger.LogModel{})
	if level := c.QueryParam("level"); level != "" {
		query = query.Where("level = ?", strings.ToUpper(level))
	}

	var logs []zaplogger.LogModel
	if err := query.Order("timestamp DESC").Limit(limit).Find(&logs).Error; err != nil {
		return response.ErrorResponse(c, http.StatusInternalServerError, "ServerException", err.Error())
	}

	return response.SuccessResponse(c, map[string]interface{}{
		"rows": len(logs),
		"logs": logs,
	})
}
