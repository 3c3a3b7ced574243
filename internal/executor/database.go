package executor

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

// GetQueuedBatch selects a bounded batch of QUEUED executions whose
// parent call is still OPEN, oldest first.
func (d *Database) GetQueuedBatch(limit int) ([]types.Execution, error) {
	var executions []types.Execution
	err := d.db.
		Joins("JOIN calls ON calls.call_id = executions.call_id AND calls.deleted_at IS NULL").
		Where("executions.status = ? AND calls.status = ?",
			types.ExecutionStatusQueued, types.CallStatusOpen).
		Order("executions.created_at ASC").
		Limit(limit).
		Find(&executions).Error
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// Claim transitions QUEUED -> CLAIMED with a compare-and-set on status,
// so a second worker instance (or a retried cycle) can never process the
// same execution twice. Returns false when the execution was no longer
// QUEUED.
func (d *Database) Claim(executionID string) (bool, error) {
	result := d.db.Model(&types.Execution{}).
		Where("execution_id = ? AND status = ?", executionID, types.ExecutionStatusQueued).
		Updates(map[string]interface{}{
			"status":     types.ExecutionStatusClaimed,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkOpen records a confirmed fill: the swap's transaction reference,
// the quantity of target asset acquired, and the opened position.
func (d *Database) MarkOpen(executionID, txRef string, tokenQuantity uint64) error {
	now := time.Now()
	return d.db.Model(&types.Execution{}).
		Where("execution_id = ?", executionID).
		Updates(map[string]interface{}{
			"status":         types.ExecutionStatusOpen,
			"tx_ref":         txRef,
			"token_quantity": tokenQuantity,
			"filled_at":      now,
			"updated_at":     now,
		}).Error
}

// MarkError terminates an execution with a reason.
func (d *Database) MarkError(executionID, reason string) error {
	return d.db.Model(&types.Execution{}).
		Where("execution_id = ?", executionID).
		Updates(map[string]interface{}{
			"status":      types.ExecutionStatusError,
			"fail_reason": reason,
			"updated_at":  time.Now(),
		}).Error
}

// GetCall fetches the parent call of an execution.
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

// GetExecution fetches one execution by ID.
func (d *Database) GetExecution(executionID string) (*types.Execution, error) {
	var execution types.Execution
	if err := d.db.Where("execution_id = ?", executionID).First(&execution).Error; err != nil {
		return nil, err
	}
	return &execution, nil
}
