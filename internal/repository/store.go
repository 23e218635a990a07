// Package repository contains the repository layer for the StormAlert API
package repository

import (
	"context"
	"time"

	"github.com/stormalert/stormalertapi/internal/models"
	"gorm.io/gorm"
)

// Store aggregates the repositories behind the persistence surface the
// alert engine consumes.
type Store struct {
	alerts   *AlertRepository
	settings *SettingsRepository
	stocks   *StockRepository
}

// NewStore creates a Store over one database connection
func NewStore(db *gorm.DB) *Store {
	return &Store{
		alerts:   NewAlertRepository(db),
		settings: NewSettingsRepository(db),
		stocks:   NewStockRepository(db),
	}
}

// LoadAllSettings returns every user's settings row
func (s *Store) LoadAllSettings(ctx context.Context) ([]models.UserSettings, error) {
	return s.settings.GetAllSettings(ctx)
}

// LoadActiveStocks returns every active watchlist row
func (s *Store) LoadActiveStocks(ctx context.Context) ([]models.WatchedStock, error) {
	return s.stocks.GetActiveStocks(ctx)
}

// BulkInsertAlerts appends a batch of alert logs
func (s *Store) BulkInsertAlerts(ctx context.Context, alerts []models.Alert) error {
	return s.alerts.BulkInsertAlerts(ctx, alerts)
}

// DeleteAlertsOlderThan applies the retention policy
func (s *Store) DeleteAlertsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.alerts.DeleteAlertsOlderThan(ctx, cutoff)
}
