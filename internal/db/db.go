package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/harithzain/simlab/internal/scenario"
)

// Connect opens the MySQL pool and migrates the scenario schema.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return gdb, nil
}

// Migrate applies the schema for every scenario table.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&scenario.Session{},
		&scenario.Turn{},
		&scenario.Checkpoint{},
		&scenario.Snippet{},
		&scenario.Capsule{},
		&scenario.Job{},
	)
}
