package migrations

import (
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

// AddPayoutLockups creates the payouts table and backfills the lockup
// and transaction-reference columns on deployments that predate them.
// Columns are added nullable so the migration can run during a rolling
// upgrade.
func AddPayoutLockups(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Payout{}); err != nil {
		return err
	}

	// AutoMigrate covers fresh installs; older tables get the columns
	// added idempotently.
	additive := []string{
		"lockup_days", "fee_percent", "tx_ref", "reason",
	}
	for _, col := range additive {
		if db.Migrator().HasColumn(&types.Payout{}, col) {
			continue
		}
		if err := db.Migrator().AddColumn(&types.Payout{}, col); err != nil {
			return err
		}
	}

	indexes := []string{
		// Reminder worker scans by status
		`CREATE INDEX IF NOT EXISTS idx_payouts_status
		 ON payouts(status)`,

		// Account payout history
		`CREATE INDEX IF NOT EXISTS idx_payouts_account_created
		 ON payouts(account_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
