package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"smartpot-app-go/pkg/logger"
)

// NewSQLite opens a single-file store for local runs. SQLite serializes
// writers, so the pool is held to one connection.
func NewSQLite(path string, log logger.Logger) (*gorm.DB, error) {
	log = logger.OrNop(log).Component("db")

	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	log.Info("db: connected", "driver", "sqlite", "path", path)
	return gormDB, nil
}
