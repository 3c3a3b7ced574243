package types

import "time"

// BalanceResponse reports an account's funds split into the raw balance,
// the portion reserved by queued executions, and what remains available
// for new stakes or withdrawals.
type BalanceResponse struct {
	AccountID     string `json:"account_id"`
	Balance       int64  `json:"balance"`
	Reserved      int64  `json:"reserved"`
	Available     int64  `json:"available"`
	AutomationOn  bool   `json:"automation_on"`
	RiskTier      string `json:"risk_tier"`
	PayoutAddress string `json:"payout_address,omitempty"`
}

// PayoutReceipt is returned to the requester once a withdrawal has been
// accepted (and, when no approval gate is configured, sent).
type PayoutReceipt struct {
	PayoutID   string    `json:"payout_id"`
	AccountID  string    `json:"account_id"`
	Gross      int64     `json:"gross"`
	LockupDays int       `json:"lockup_days"`
	FeePercent float64   `json:"fee_percent"`
	Fee        int64     `json:"fee"`
	Net        int64     `json:"net"`
	Status     string    `json:"status"`
	TxRef      string    `json:"tx_ref,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BroadcastResponse summarises a call fan-out.
type BroadcastResponse struct {
	CallID         string    `json:"call_id"`
	QueuedAccounts int       `json:"queued_accounts"`
	TotalStake     int64     `json:"total_stake"`
	Timestamp      time.Time `json:"timestamp"`
}
