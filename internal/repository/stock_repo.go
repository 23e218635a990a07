// Package repository contains the repository layer for the StormAlert API
package repository

import (
	"context"

	"github.com/stormalert/stormalertapi/internal/models"
	"gorm.io/gorm"
)

// StockRepository reads watchlist rows
type StockRepository struct {
	DB *gorm.DB
}

// NewStockRepository creates a new StockRepository
func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{DB: db}
}

// GetActiveStocks returns every active watchlist row with a resolved
// instrument token
func (r *StockRepository) GetActiveStocks(ctx context.Context) ([]models.WatchedStock, error) {
	var stocks []models.WatchedStock
	err := r.DB.WithContext(ctx).
		Where("active = ? AND instrument_token <> 0", true).
		Find(&stocks).Error
	return stocks, err
}
