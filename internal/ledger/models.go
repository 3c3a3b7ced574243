package ledger

import "errors"

var (
	// ErrAccountNotFound is returned when a balance operation targets an
	// unknown account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds is returned when a debit would exceed the
	// account's balance, or its available balance for reservation-aware
	// debits. The caller surfaces the reserved amount to the requester.
	ErrInsufficientFunds = errors.New("insufficient available balance: reserved funds in open positions")

	// ErrInvalidAmount rejects zero or negative amounts before any
	// statement runs.
	ErrInvalidAmount = errors.New("amount must be positive")
)
