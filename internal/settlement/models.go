package settlement

import "errors"

var (
	// ErrUnknownTier is returned when a withdrawal names a lockup
	// duration that has no configured fee tier.
	ErrUnknownTier = errors.New("no fee tier for requested lockup")

	// ErrNoPayoutAddress is returned when the account has not set a
	// destination address for payouts.
	ErrNoPayoutAddress = errors.New("no payout address on file")

	// ErrPayoutNotFound is returned for an unknown payout ID.
	ErrPayoutNotFound = errors.New("payout not found")

	// ErrPayoutNotPending is returned when approve or reject targets a
	// payout that already left the REQUESTED state.
	ErrPayoutNotPending = errors.New("payout is not pending approval")
)
