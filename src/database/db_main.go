package database

import (
	"fmt"
	"time"

	"tradeengine/src/database/migrations"
	"tradeengine/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// Models lists every table owned by the write-side schema.
func Models() []interface{} {
	return []interface{}{
		&model.Account{},
		&model.Order{},
		&model.OrderLog{},
		&model.Position{},
		&model.Transaction{},
		&model.CreditLedgerEntry{},
		&model.TradeTask{},
		&model.Cart{},
		&model.CartItem{},
		&model.Exception{},
		&migrations.DataMigration{},
	}
}

// InitMainDB initializes the main (read/write) database connection and runs migrations.
// This should be called once at application startup (e.g. in main()).
func InitMainDB() error {
	config := GetConfig()
	db, err := gorm.Open(postgres.Open(config.DatabaseURLMain),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to main database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from MainDB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return err
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

// Migrate runs schema and data migrations on db.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}

	return nil
}
