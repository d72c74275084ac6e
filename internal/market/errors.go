package market

import "errors"

// Validation errors surfaced directly to the caller. They are deterministic
// given current state; retrying without a state change will not succeed.
// Store-level sentinels (ErrNotFound, ErrMarketClosed, ErrAlreadyResolved)
// are passed through from the store package.
var (
	// ErrInvalidAmount is returned for a non-positive trade amount.
	ErrInvalidAmount = errors.New("market: trade amount must be positive")

	// ErrInvalidSide is returned for a side other than "yes" or "no".
	ErrInvalidSide = errors.New("market: side must be yes or no")

	// ErrNotResolved is returned when redeeming before resolution.
	ErrNotResolved = errors.New("market: market not resolved yet")

	// ErrNothingToRedeem is returned when the user has no unredeemed
	// positions for the task.
	ErrNothingToRedeem = errors.New("market: no positions to redeem")
)
