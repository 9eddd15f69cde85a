package main

import (
	"errors"

	"chmsapp/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// openDB connects to Postgres and, unless disabled, runs the schema
// bootstrap. Contacts migrate first so the users FK can be applied safely.
func openDB(cfg *Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("DB_DSN is not set; this service requires a Postgres DSN in DB_DSN")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		// Migrate models individually so a failure on one doesn't block others.
		if err := db.AutoMigrate(&models.Contact{}); err != nil {
			log.Warn("migration warning (contacts)", zap.Error(err))
		}
		if err := db.AutoMigrate(&models.User{}); err != nil {
			log.Warn("migration warning (users)", zap.Error(err))
		}
	}
	return db, nil
}
