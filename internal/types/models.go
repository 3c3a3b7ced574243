package types

import (
	"time"

	"gorm.io/gorm"
)

// LamportsPerSOL is the number of minor units in one SOL. All balances,
// stakes, and payout amounts in the system are integer lamports.
const LamportsPerSOL int64 = 1_000_000_000

// Account lifecycle statuses and tiers.
const (
	RiskTierLow    = "low"
	RiskTierMedium = "medium"
	RiskTierHigh   = "high"
)

// Call statuses.
const (
	CallStatusOpen   = "OPEN"
	CallStatusClosed = "CLOSED"
)

// Execution statuses. A stake is an advisory reservation while QUEUED;
// the worker converts it into a real debit when it claims and fills the
// execution, opening the position directly.
const (
	ExecutionStatusQueued  = "QUEUED"
	ExecutionStatusClaimed = "CLAIMED"
	ExecutionStatusOpen    = "OPEN"
	ExecutionStatusClosing = "CLOSING"
	ExecutionStatusClosed  = "CLOSED"
	ExecutionStatusError   = "ERROR"
)

// Payout statuses.
const (
	PayoutStatusRequested = "REQUESTED"
	PayoutStatusApproved  = "APPROVED"
	PayoutStatusSent      = "SENT"
	PayoutStatusRejected  = "REJECTED"
)

// Account is a custodial user account. Balance is only ever mutated
// through the ledger's atomic operations.
type Account struct {
	gorm.Model    `json:"-"`
	AccountID     string    `gorm:"uniqueIndex" json:"account_id"`
	Username      string    `json:"username"`
	Balance       int64     `json:"balance"` // lamports
	AutomationOn  bool      `json:"automation_on"`
	RiskTier      string    `json:"risk_tier"` // low, medium, high
	PayoutAddress string    `json:"payout_address"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Call is an operator-issued trade opportunity. Immutable once created
// except for its status.
type Call struct {
	gorm.Model  `json:"-"`
	CallID      string    `gorm:"uniqueIndex" json:"call_id"`
	CreatedBy   string    `json:"created_by"`
	Asset       string    `json:"asset"` // target token mint
	Label       string    `json:"label"`
	Notes       string    `json:"notes"`
	Status      string    `json:"status"` // OPEN, CLOSED
	ForceClosed bool      `json:"force_closed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Execution is one account's participation in one call.
type Execution struct {
	gorm.Model    `json:"-"`
	ExecutionID   string     `gorm:"uniqueIndex" json:"execution_id"`
	CallID        string     `gorm:"index" json:"call_id"`
	AccountID     string     `gorm:"index" json:"account_id"`
	Stake         int64      `json:"stake"` // lamports reserved, then spent
	Status        string     `gorm:"index" json:"status"`
	FailReason    string     `json:"fail_reason,omitempty"`
	TxRef         string     `json:"tx_ref,omitempty"`
	CloseTxRef    string     `json:"close_tx_ref,omitempty"`
	TokenQuantity uint64     `json:"token_quantity"` // destination asset acquired, minor units
	Proceeds      int64      `json:"proceeds"`       // lamports realized on close
	PnL           int64      `gorm:"column:pnl" json:"pnl"`
	PnLPercent    float64    `gorm:"column:pnl_percent" json:"pnl_percent"`
	FilledAt      *time.Time `json:"filled_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Payout is a withdrawal request settled under a lockup/fee schedule.
type Payout struct {
	gorm.Model `json:"-"`
	PayoutID   string    `gorm:"uniqueIndex" json:"payout_id"`
	AccountID  string    `gorm:"index" json:"account_id"`
	Gross      int64     `json:"gross"` // lamports requested
	LockupDays int       `json:"lockup_days"`
	FeePercent float64   `json:"fee_percent"`
	Fee        int64     `json:"fee"`
	Net        int64     `json:"net"`
	TxRef      string    `json:"tx_ref,omitempty"`
	Status     string    `gorm:"index" json:"status"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FeeTier maps a lockup duration to the fee percent applied to a
// withdrawal choosing that tier. Tiers are listed ascending by lockup.
type FeeTier struct {
	gorm.Model `json:"-"`
	LockupDays int     `gorm:"uniqueIndex" json:"lockup_days"`
	FeePercent float64 `json:"fee_percent"`
}

// InteractionState holds per-account conversational state for multi-step
// flows. Stored rather than kept in process memory so it survives
// restarts and multiple instances.
type InteractionState struct {
	gorm.Model `json:"-"`
	AccountID  string    `gorm:"uniqueIndex" json:"account_id"`
	State      string    `json:"state"`
	Payload    string    `json:"payload"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IdempotencyRecord pins a client-supplied key to the resource it
// created so retried requests return the original resource.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Notification is a best-effort outbound message to an account.
// Delivery failures never affect ledger state.
type Notification struct {
	gorm.Model `json:"-"`
	AccountID  string    `gorm:"index" json:"account_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
