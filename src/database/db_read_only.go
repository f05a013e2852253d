package database

import (
	"fmt"

	"tradeengine/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReadOnlyDB serves the API read paths (order search, ledger history, positions).
// The database user for this connection should have SELECT-only permissions.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB initializes the read-only database connection.
// It does not run any migrations and should only be used for reading data.
func InitReadOnlyDB() error {
	config := GetConfig()
	db, err := gorm.Open(postgres.Open(config.DatabaseURLReadOnly),
		&gorm.Config{
			PrepareStmt:    true,
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to read-only database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	var dbName, schema string
	if err := db.
		Raw("SELECT current_database(), current_schema()").
		Row().
		Scan(&dbName, &schema); err != nil {
		return fmt.Errorf("failed to query current db/schema on ReadOnlyDB: %w", err)
	}

	logrus.WithFields(map[string]interface{}{"dbName": dbName, "schema": schema}).Info("[ReadOnlyDB] connected")

	// The replica must already carry the write-side schema.
	var count int64
	if err := db.Model(&model.Order{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access orders on ReadOnlyDB: %w", err)
	}

	logrus.WithFields(map[string]interface{}{"orders": count}).Info("[ReadOnlyDB] orders table reachable")

	ReadOnlyDB = db

	return nil
}

// Reader returns the read-only connection when configured, the main one otherwise.
func Reader() *gorm.DB {
	if ReadOnlyDB != nil {
		return ReadOnlyDB
	}
	return MainDB
}
