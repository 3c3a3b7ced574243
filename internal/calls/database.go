package calls

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

func (d *Database) GetCall(callID string) (*types.Call, error) {
	var call types.Call
	if err := d.db.Where("call_id = ?", callID).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &call, nil
}

func (d *Database) UpdateCall(call *types.Call) error {
	return d.db.Save(call).Error
}

func (d *Database) ListOpenCalls() ([]types.Call, error) {
	var calls []types.Call
	if err := d.db.Where("status = ?", types.CallStatusOpen).
		Order("created_at DESC").Find(&calls).Error; err != nil {
		return nil, err
	}
	return calls, nil
}

// CreateCallWithIdempotency creates a new call and idempotency record in a transaction
func (d *Database) CreateCallWithIdempotency(call *types.Call, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(call).Error; err != nil {
		tx.Rollback()
		return err
	}

	record := types.IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     call.CallID,
		ResourceType:   "call",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *Database) CreateExecution(execution *types.Execution) error {
	return d.db.Create(execution).Error
}

func (d *Database) GetAccountExecutions(accountID string) ([]types.Execution, error) {
	var executions []types.Execution
	if err := d.db.Where("account_id = ?", accountID).
		Order("created_at DESC").Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}
