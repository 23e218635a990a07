// Package repository contains the repository layer for the StormAlert API
package repository

import (
	"fmt"

	"github.com/stormalert/stormalertapi/internal/config"
	"github.com/stormalert/stormalertapi/internal/models"
	"github.com/stormalert/stormalertapi/pkg/utils/zaplogger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SchemaName is the schema holding all engine tables
var SchemaName = "api"

// ConnectPostgres connects to a Postgres database and returns a GORM database object
func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	zaplogger.Info(config.SingleLine)
	zaplogger.Info("Initializing Postgres")

	// Set up GORM logger
	var logLevel logger.LogLevel
	switch cfg.PostgresLogLevel {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	postgresDSN := cfg.PostgresDsn + " search_path=" + SchemaName + ",public"
	db, err := gorm.Open(postgres.Open(postgresDSN), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %v", err)
	}

	zaplogger.Info("  * connected")

	createSchemaSql := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", SchemaName)
	if err := db.Exec(createSchemaSql).Error; err != nil {
		return nil, fmt.Errorf("failed to create schema %s: %v", SchemaName, err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %v", err)
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	tables := []struct {
		name  string
		model interface{}
	}{
		{models.SessionsTableName, &models.SessionModel{}},
		{models.SettingsTableName, &models.UserSettings{}},
		{models.StocksTableName, &models.WatchedStock{}},
		{models.AlertsTableName, &models.Alert{}},
	}

	zaplogger.Info("  * migrating tables")
	for _, table := range tables {
		err := db.Table(SchemaName + "." + table.name).AutoMigrate(table.model)
		if err != nil {
			return fmt.Errorf("failed to auto migrate table: %s, err:%v", table.name, err)
		}
		zaplogger.Info("    - \"" + SchemaName + "." + table.name + "\"")
	}

	return nil
}
