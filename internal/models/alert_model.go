// Package models contains the models for the StormAlert API
package models

import "time"

// AlertsTableName is the name of the table for alert logs
const AlertsTableName = "alerts"

// AlertType is the direction of a triggered alert
type AlertType string

const (
	AlertTypeDip   AlertType = "DIP"
	AlertTypeSpike AlertType = "SPIKE"
)

// Alert is one triggered alert, appended in batches and retained 30 days.
// ChangePercent is always a non-negative magnitude, for DIP and SPIKE alike.
type Alert struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	UserID        string    `gorm:"index" json:"user_id"`
	StockSymbol   string    `json:"stock_symbol"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"change_percent"`
	AlertType     AlertType `json:"alert_type"`
	Message       string    `json:"message"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
}

// TableName specifies the table name for the Alert model
func (Alert) TableName() string {
	return AlertsTableName
}
