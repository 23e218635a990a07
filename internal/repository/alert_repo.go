// Package repository contains the repository layer for the StormAlert API
package repository

import (
	"context"
	"time"

	"github.com/stormalert/stormalertapi/internal/models"
	"gorm.io/gorm"
)

// AlertRepository persists and queries alert logs
type AlertRepository struct {
	DB *gorm.DB
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{DB: db}
}

// BulkInsertAlerts inserts a batch of alerts in a single statement
func (r *AlertRepository) BulkInsertAlerts(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).CreateInBatches(alerts, len(alerts)).Error
}

// DeleteAlertsOlderThan deletes alerts with a timestamp before cutoff
// and returns the deleted row count
func (r *AlertRepository) DeleteAlertsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.Alert{})
	return result.RowsAffected, result.Error
}

// GetRecentAlerts returns a user's alerts, newest first. minChange
// filters on the stored change magnitude, which is non-negative for
// both DIP and SPIKE alerts.
func (r *AlertRepository) GetRecentAlerts(ctx context.Context, userID string, minChange float64, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := r.DB.WithContext(ctx).Where("user_id = ?", userID)
	if minChange > 0 {
		query = query.Where("change_percent >= ?", minChange)
	}

	var alerts []models.Alert
	err := query.Order("timestamp DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}
