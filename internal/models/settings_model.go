// Package models contains the models for the StormAlert API
package models

import "time"

// SettingsTableName is the name of the table for user settings
const SettingsTableName = "settings"

// AlgoMode selects which windowing algorithm evaluates a user's ticks
type AlgoMode string

const (
	AlgoModeTrailing AlgoMode = "trailing"
	AlgoModeRolling  AlgoMode = "rolling"
	AlgoModeBoth     AlgoMode = "both"
)

// UsesTrailing reports whether the trailing algorithm applies for this mode
func (m AlgoMode) UsesTrailing() bool {
	return m == AlgoModeTrailing || m == AlgoModeBoth
}

// UsesRolling reports whether the rolling-window algorithm applies for this mode
func (m AlgoMode) UsesRolling() bool {
	return m == AlgoModeRolling || m == AlgoModeBoth
}

// UserSettings is the per-user alerting configuration.
// Read-mostly; the engine holds an atomically swapped snapshot of all rows.
type UserSettings struct {
	UserID           string    `gorm:"primaryKey" json:"user_id"`
	TimeframeMinutes int       `gorm:"default:10" json:"timeframe_minutes"`
	DipThreshold     float64   `gorm:"default:1.0" json:"dip_threshold"`
	RiseThreshold    float64   `gorm:"default:1.0" json:"rise_threshold"`
	CooldownMinutes  int       `gorm:"default:15" json:"cooldown_minutes"`
	AlgoMode         AlgoMode  `gorm:"default:both" json:"algo_mode"`
	EmailEnabled     bool      `json:"email_enabled"`
	EmailAddress     string    `json:"email_address"`
	WhatsappEnabled  bool      `json:"whatsapp_enabled"`
	WhatsappNumber   string    `json:"whatsapp_number"`
	TelegramEnabled  bool      `json:"telegram_enabled"`
	TelegramChatID   string    `json:"telegram_chat_id"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName specifies the table name for the UserSettings model
func (UserSettings) TableName() string {
	return SettingsTableName
}

// Window returns the rolling-window length for this user
func (s UserSettings) Window() time.Duration {
	return time.Duration(s.TimeframeMinutes) * time.Minute
}

// Cooldown returns the minimum interval between alerts for one key
func (s UserSettings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}
