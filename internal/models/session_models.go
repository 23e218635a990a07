// Package models contains the models for the StormAlert API
package models

import (
	"time"
)

// SessionsTableName is the name of the table for upstream sessions
const SessionsTableName = "sessions"

// SessionModel is the stored upstream (Kite) session for the system user.
// ExpiresAt is an operational bound: the upstream payload carries no
// expiry, so the session service stamps end of the login day, UTC.
type SessionModel struct {
	UserId         string    `gorm:"primaryKey;index:idx_uid_hpw,priority:1" json:"user_id"`
	UserName       string    `json:"user_name"`
	UserShortname  string    `json:"user_shortname"`
	AvatarUrl      string    `json:"avatar_url"`
	PublicToken    string    `json:"public_token"`
	KfSession      string    `json:"kf_session"`
	Enctoken       string    `gorm:"index" json:"enctoken"`
	LoginTime      string    `json:"login_time"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	HashedPassword string    `gorm:"index:idx_uid_hpw,priority:2" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName specifies the table name for the SessionModel
func (SessionModel) TableName() string {
	return SessionsTableName
}

// Expired reports whether the session token has passed its expiry bound
func (s SessionModel) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
