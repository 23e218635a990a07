// Package models contains the models for the StormAlert API
package models

import "time"

// StocksTableName is the name of the table for watched stocks
const StocksTableName = "stocks"

// WatchedStock is one watchlist row. Active rows drive the subscription
// table and the upstream token subscription set.
type WatchedStock struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	UserID          string    `gorm:"index;uniqueIndex:idx_user_symbol,priority:1" json:"user_id"`
	Symbol          string    `gorm:"uniqueIndex:idx_user_symbol,priority:2" json:"symbol"`
	Exchange        string    `gorm:"default:NSE" json:"exchange"`
	InstrumentToken uint32    `gorm:"index" json:"instrument_token"`
	Active          bool      `gorm:"index;default:true" json:"active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName specifies the table name for the WatchedStock model
func (WatchedStock) TableName() string {
	return StocksTableName
}
