// Package session keeps per-account interaction state for multi-step
// flows in the store instead of process memory, so pending input
// survives restarts and multiple API instances.
package session

import (
	"errors"
	"time"

	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

// ErrNoState is returned when an account has no live interaction state.
var ErrNoState = errors.New("no pending interaction state")

const defaultTTL = 15 * time.Minute

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Set replaces the account's interaction state. One state per account;
// starting a new flow abandons the previous one.
func (s *Service) Set(accountID, state, payload string) error {
	var record types.InteractionState
	return s.db.Where(types.InteractionState{AccountID: accountID}).
		Assign(map[string]interface{}{
			"state":      state,
			"payload":    payload,
			"expires_at": time.Now().Add(defaultTTL),
		}).
		FirstOrCreate(&record).Error
}

// Get returns the live state for an account, expiring stale entries.
func (s *Service) Get(accountID, state string) (string, error) {
	var record types.InteractionState
	err := s.db.Where("account_id = ? AND state = ?", accountID, state).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoState
		}
		return "", err
	}
	if time.Now().After(record.ExpiresAt) {
		_ = s.Clear(accountID)
		return "", ErrNoState
	}
	return record.Payload, nil
}

// Clear removes the account's interaction state once the flow finishes.
func (s *Service) Clear(accountID string) error {
	return s.db.Unscoped().
		Where("account_id = ?", accountID).
		Delete(&types.InteractionState{}).Error
}
