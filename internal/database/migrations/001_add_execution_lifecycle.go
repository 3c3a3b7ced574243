package migrations

import (
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

// AddExecutionLifecycle creates the executions table and the indexes the
// worker's batch claim and the ledger's reservation sum depend on.
func AddExecutionLifecycle(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Execution{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Batch claim scans QUEUED executions by call
		`CREATE INDEX IF NOT EXISTS idx_executions_status_call
		 ON executions(status, call_id)`,

		// Reservation sums group by account over non-terminal statuses
		`CREATE INDEX IF NOT EXISTS idx_executions_account_status
		 ON executions(account_id, status)`,

		// Time-ordered listings
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at
		 ON executions(created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
