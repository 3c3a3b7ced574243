package database

import (
	"fmt"

	"github.com/whalesalpha/custody-api/internal/database/migrations"
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// sqlite allows one writer at a time; WAL keeps readers moving while
	// the ledger serializes balance mutations.
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// Run migrations
	if err := migrations.AddExecutionLifecycle(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddPayoutLockups(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Account{},
		&types.Call{},
		&types.FeeTier{},
		&types.IdempotencyRecord{},
		&types.InteractionState{},
		&types.Notification{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
