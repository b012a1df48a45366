// Package database opens the Postgres connection and migrates the schema.
package database

import (
	"fmt"

	"labcrm/internal/config"
	"labcrm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Models lists every table owned by the application, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Customer{},
		&models.Lead{},
		&models.Quotation{},
		&models.Contract{},
		&models.Study{},
		&models.Notification{},
		&models.Activity{},
		&models.AutomationRule{},
		&models.AutomationAction{},
		&models.AutomationExecution{},
		&models.AutomationPendingAction{},
	}
}

// Open connects to Postgres with pool settings and, when tracing is on, the otel gorm plugin.
func Open(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.Log.Level == "debug" {
		logLevel = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			log.Warnf("enable gorm tracing: %v", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
