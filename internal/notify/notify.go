// Package notify delivers best-effort status messages to accounts.
// Delivery failure never rolls back a ledger mutation; callers ignore
// the outcome entirely.
package notify

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

// Notifier is the outbound message boundary. Implementations swallow
// their own errors.
type Notifier interface {
	Notify(accountID, kind, message string)
}

// StoreNotifier appends notifications to the store for the messaging
// front-end to drain, and logs them. Errors are logged and dropped.
type StoreNotifier struct {
	db *gorm.DB
}

func NewStoreNotifier(db *gorm.DB) *StoreNotifier {
	return &StoreNotifier{db: db}
}

func (n *StoreNotifier) Notify(accountID, kind, message string) {
	notification := types.Notification{
		AccountID: accountID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := n.db.Create(&notification).Error; err != nil {
		log.Warn().
			Err(err).
			Str("account_id", accountID).
			Str("kind", kind).
			Msg("failed to record notification")
		return
	}
	log.Info().
		Str("account_id", accountID).
		Str("kind", kind).
		Str("message", message).
		Msg("notification queued")
}

// NopNotifier discards everything. Used by tests and by deployments
// where the front-end polls execution state directly.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, string) {}
