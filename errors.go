package prizepay

import "errors"

var (
	// ErrInvalidInput rejects a payout before anything is persisted.
	ErrInvalidInput = errors.New("invalid payout input")

	// ErrInsufficientBalance means the treasury cannot cover the amount, the fee and what is in flight.
	ErrInsufficientBalance = errors.New("insufficient treasury balance")

	// ErrBalanceUnavailable means affordability could not be established, so the gate stays closed.
	ErrBalanceUnavailable = errors.New("treasury balance unavailable")

	// ErrDrainInProgress is returned when a worker pass is already draining the queue.
	ErrDrainInProgress = errors.New("payout drain already in progress")
)
