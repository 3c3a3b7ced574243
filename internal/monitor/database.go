package monitor

import (
	"errors"
	"fmt"
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

func (d *Database) GetOpenExecutions() ([]types.Execution, error) {
	var executions []types.Execution
	if err := d.db.Where("status = ?", types.ExecutionStatusOpen).
		Order("filled_at ASC").Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}

func (d *Database) GetOpenExecutionsByCall(callID string) ([]types.Execution, error) {
	var executions []types.Execution
	if err := d.db.Where("call_id = ? AND status = ?", callID, types.ExecutionStatusOpen).
		Order("id ASC").Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
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

// ClaimForClose transitions OPEN -> CLOSING with a compare-and-set on
// status, so the scan loop and a synchronous force-close can never sell
// the same position twice. Returns false when the position was no
// longer OPEN.
func (d *Database) ClaimForClose(executionID string) (bool, error) {
	result := d.db.Model(&types.Execution{}).
		Where("execution_id = ? AND status = ?", executionID, types.ExecutionStatusOpen).
		Updates(map[string]interface{}{
			"status":     types.ExecutionStatusClosing,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Reopen releases a close claim after a failed sell so the next scan
// cycle retries the position.
func (d *Database) Reopen(executionID string) error {
	result := d.db.Model(&types.Execution{}).
		Where("execution_id = ? AND status = ?", executionID, types.ExecutionStatusClosing).
		Updates(map[string]interface{}{
			"status":     types.ExecutionStatusOpen,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("execution %s was not closing", executionID)
	}
	return nil
}

// MarkClosed records the realized outcome of a closed position. The
// update only lands on the CLOSING row claimed by the caller.
func (d *Database) MarkClosed(executionID, closeTxRef string, proceeds, pnl int64, pnlPercent float64) error {
	now := time.Now()
	result := d.db.Model(&types.Execution{}).
		Where("execution_id = ? AND status = ?", executionID, types.ExecutionStatusClosing).
		Updates(map[string]interface{}{
			"status":       types.ExecutionStatusClosed,
			"close_tx_ref": closeTxRef,
			"proceeds":     proceeds,
			"pnl":          pnl,
			"pnl_percent":  pnlPercent,
			"closed_at":    now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("execution %s was not closing", executionID)
	}
	return nil
}
