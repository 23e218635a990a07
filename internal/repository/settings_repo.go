// Package repository contains the repository layer for the StormAlert API
package repository

import (
	"context"

	"github.com/stormalert/stormalertapi/internal/models"
	"gorm.io/gorm"
)

// SettingsRepository reads user alerting configuration
type SettingsRepository struct {
	DB *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{DB: db}
}

// GetAllSettings returns every user's settings row
func (r *SettingsRepository) GetAllSettings(ctx context.Context) ([]models.UserSettings, error) {
	var settings []models.UserSettings
	err := r.DB.WithContext(ctx).Find(&settings).Error
	return settings, err
}

// GetSettingsByUserId returns one user's settings
func (r *SettingsRepository) GetSettingsByUserId(ctx context.Context, userID string) (*models.UserSettings, error) {
	var settings models.UserSettings
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
