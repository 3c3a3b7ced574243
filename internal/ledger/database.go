package ledger

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

func (d *Database) GetAccount(accountID string) (*types.Account, error) {
	var account types.Account
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) CreateAccount(account *types.Account) error {
	return d.db.Create(account).Error
}

func (d *Database) UpdateAccount(account *types.Account) error {
	return d.db.Save(account).Error
}

// ListAutomatedAccounts returns every account with automation enabled.
// The registry filters on available balance afterwards.
func (d *Database) ListAutomatedAccounts() ([]types.Account, error) {
	var accounts []types.Account
	if err := d.db.Where("automation_on = ?", true).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// reservedExpr sums the advisory holds of an account's queued
// executions. Once the worker fills an execution the stake has become a
// real debit and must not be counted again.
const reservedExpr = `SELECT COALESCE(SUM(stake), 0) FROM executions
	WHERE account_id = ? AND status = ? AND deleted_at IS NULL`

// Reserved returns the total stake held by QUEUED executions.
func (d *Database) Reserved(accountID string) (int64, error) {
	var reserved int64
	err := d.db.Raw(reservedExpr, accountID, types.ExecutionStatusQueued).Scan(&reserved).Error
	return reserved, err
}

// Credit increases the balance unconditionally in a single statement.
func (d *Database) Credit(accountID string, amount int64) error {
	result := d.db.Model(&types.Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Debit decreases the balance only when it covers the amount. The check
// and the mutation are one statement so concurrent debits cannot both
// pass the same balance.
func (d *Database) Debit(accountID string, amount int64) error {
	result := d.db.Model(&types.Account{}).
		Where("account_id = ? AND balance >= ?", accountID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := d.GetAccount(accountID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	return nil
}

// DebitAvailable decreases the balance only when the amount fits in
// balance minus reserved stakes. The reservation subquery is evaluated
// inside the same UPDATE, which sqlite executes under its single-writer
// lock, so a concurrent reservation and a concurrent debit can never
// both pass the availability check.
func (d *Database) DebitAvailable(accountID string, amount int64) error {
	result := d.db.Exec(`UPDATE accounts
		SET balance = balance - ?, updated_at = ?
		WHERE account_id = ?
		AND balance - (`+reservedExpr+`) >= ?`,
		amount, time.Now(), accountID,
		accountID, types.ExecutionStatusQueued, amount)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := d.GetAccount(accountID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	return nil
}
