package settlement

import (
	"errors"
	"time"

	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// UpsertFeeTier writes one lockup/fee row, updating the percent when the
// lockup already exists. The condition is an explicit SQL clause: a
// struct condition would drop the zero-valued lockup_days of the
// immediate tier and match an arbitrary row instead.
func (d *Database) UpsertFeeTier(lockupDays int, feePercent float64) error {
	tier := types.FeeTier{LockupDays: lockupDays}
	return d.db.Where("lockup_days = ?", lockupDays).
		Assign(map[string]interface{}{
			"fee_percent": feePercent,
			"updated_at":  time.Now(),
		}).
		FirstOrCreate(&tier).Error
}

// ListFeeTiers returns the schedule ascending by lockup duration.
func (d *Database) ListFeeTiers() ([]types.FeeTier, error) {
	var tiers []types.FeeTier
	if err := d.db.Order("lockup_days ASC").Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

// GetFeeTier fetches the tier for an exact lockup duration.
func (d *Database) GetFeeTier(lockupDays int) (*types.FeeTier, error) {
	var tier types.FeeTier
	if err := d.db.Where("lockup_days = ?", lockupDays).First(&tier).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownTier
		}
		return nil, err
	}
	return &tier, nil
}

func (d *Database) CreatePayout(payout *types.Payout) error {
	return d.db.Create(payout).Error
}

func (d *Database) GetPayout(payoutID string) (*types.Payout, error) {
	var payout types.Payout
	if err := d.db.Where("payout_id = ?", payoutID).First(&payout).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &payout, nil
}

func (d *Database) ListAccountPayouts(accountID string) ([]types.Payout, error) {
	var payouts []types.Payout
	if err := d.db.Where("account_id = ?", accountID).
		Order("created_at DESC").Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// ClaimForSending transitions a payout into APPROVED with a
// compare-and-set on its current status, so two concurrent approvals
// (or a reminder racing an operator) never send the same payout twice.
// Returns false when the payout was no longer in fromStatus.
func (d *Database) ClaimForSending(payoutID, fromStatus string) (bool, error) {
	result := d.db.Model(&types.Payout{}).
		Where("payout_id = ? AND status = ?", payoutID, fromStatus).
		Updates(map[string]interface{}{
			"status":     types.PayoutStatusApproved,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSent records the completed transfer.
func (d *Database) MarkSent(payoutID, txRef string) error {
	return d.db.Model(&types.Payout{}).
		Where("payout_id = ?", payoutID).
		Updates(map[string]interface{}{
			"status":     types.PayoutStatusSent,
			"tx_ref":     txRef,
			"updated_at": time.Now(),
		}).Error
}

// MarkRejected terminates a payout with a reason.
func (d *Database) MarkRejected(payoutID, reason string) error {
	return d.db.Model(&types.Payout{}).
		Where("payout_id = ?", payoutID).
		Updates(map[string]interface{}{
			"status":     types.PayoutStatusRejected,
			"reason":     reason,
			"updated_at": time.Now(),
		}).Error
}

// RejectRequested transitions REQUESTED -> REJECTED with a
// compare-and-set, so a reject can never race an approval that already
// claimed the payout for sending.
func (d *Database) RejectRequested(payoutID, reason string) (bool, error) {
	result := d.db.Model(&types.Payout{}).
		Where("payout_id = ? AND status = ?", payoutID, types.PayoutStatusRequested).
		Updates(map[string]interface{}{
			"status":     types.PayoutStatusRejected,
			"reason":     reason,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetRequestedBefore returns payouts still awaiting approval that were
// requested before the cutoff, oldest first.
func (d *Database) GetRequestedBefore(cutoff time.Time) ([]types.Payout, error) {
	var payouts []types.Payout
	if err := d.db.Where("status = ? AND created_at < ?", types.PayoutStatusRequested, cutoff).
		Order("created_at ASC").Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}
