package domain

import "errors"

// Sentinel errors for the trading core. Callers discriminate with errors.Is;
// everything else wraps one of these with context via fmt.Errorf("...: %w").
var (
	// Ledger rejections.
	ErrInsufficientFunds   = errors.New("insufficient available cash")
	ErrDailyBudgetExceeded = errors.New("daily budget exceeded")

	// Risk gate rejections. Terminal for the signal, never retried.
	ErrStrategyNotEligible = errors.New("strategy not eligible for trading")
	ErrPriceOutOfBand      = errors.New("signal price outside acceptable band")
	ErrInsufficientEdge    = errors.New("signal edge below bot minimum")
	ErrSizeTooSmall        = errors.New("sized amount below minimum tradable unit")

	// Execution failures.
	ErrPlacementFailed = errors.New("venue rejected or unreachable during placement")

	// ErrVenueTransient marks a retryable venue failure (network, 429, 5xx).
	// Retried within the tick up to a bound, then deferred to the next tick.
	ErrVenueTransient = errors.New("transient venue error")

	// ErrConcurrentModification is surfaced after the bounded optimistic-lock
	// retry is exhausted. The next scheduled tick picks the work up again.
	ErrConcurrentModification = errors.New("concurrent modification of strategy record")

	// ErrResolutionUnavailable means the market has not resolved yet.
	// Expected during sweeps, not a failure.
	ErrResolutionUnavailable = errors.New("market resolution not yet available")

	// ErrInvalidTransition rejects an order status change not in the
	// lifecycle table. Terminal orders are immutable.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrUnauthorized rejects a breaker resume from anyone who is neither
	// the strategy owner nor an admin.
	ErrUnauthorized = errors.New("caller not allowed to resume strategy")

	ErrNotFound = errors.New("record not found")
)
