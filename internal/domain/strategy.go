package domain

import (
	"fmt"
	"time"
)

// dayFormat tags DailySpent with the UTC day it belongs to, so the counter
// can be reset lazily on the first reservation after a day boundary.
const dayFormat = "2006-01-02"

// CapitalPools is the single tagged ledger value behind a strategy's capital.
// Equity is always derived from the three sub-balances, never stored, which
// makes the conservation invariant checkable in one place.
type CapitalPools struct {
	Available float64 // spendable cash
	Locked    float64 // reserved against pending orders
	Cooldown  float64 // settled proceeds maturing before redeployment
}

// Equity is the sum of all three pools.
func (p CapitalPools) Equity() float64 {
	return p.Available + p.Locked + p.Cooldown
}

// Valid reports whether all sub-balances are non-negative. A tiny epsilon
// absorbs float64 rounding from repeated reserve/release cycles.
func (p CapitalPools) Valid() bool {
	const eps = 1e-9
	return p.Available >= -eps && p.Locked >= -eps && p.Cooldown >= -eps
}

// Strategy is one (user, bot) subscription with its own capital and risk
// limits. The capital fields are only ever written through the pool
// transition methods below, committed with a version-guarded update.
type Strategy struct {
	ID     string
	UserID string
	BotID  string

	Active        bool
	PausedByUser  bool
	BreakerPaused bool
	ShadowMode    bool // compute decisions, never place real orders

	Pools          CapitalPools
	InitialCapital float64
	PeakEquity     float64 // high-water mark, monotonically non-decreasing

	MaxOrderSize         float64
	DailyBudget          float64 // 0 = unlimited
	SlippageTolerancePct float64

	DailySpent        float64
	SpentDay          string // UTC day (YYYY-MM-DD) DailySpent belongs to
	ConsecutiveLosses int

	CooldownMaturesAt *time.Time
	LastSyncAt        *time.Time
	CreatedAt         time.Time

	// Version guards optimistic-concurrency writes. Incremented by the
	// store on every successful conditional update.
	Version int64
}

// Equity returns the strategy's current equity.
func (s Strategy) Equity() float64 {
	return s.Pools.Equity()
}

// DrawdownPct returns (peak − equity) / peak, clamped at 0.
func (s Strategy) DrawdownPct() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	dd := (s.PeakEquity - s.Equity()) / s.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Eligible reports whether the strategy may trade at all.
func (s Strategy) Eligible() bool {
	return s.Active && !s.PausedByUser && !s.BreakerPaused
}

// resetDailySpent applies the lazy UTC-day reset before any spend-counter
// write. Idempotent within a day.
func (s *Strategy) resetDailySpent(now time.Time) {
	day := now.UTC().Format(dayFormat)
	if s.SpentDay != day {
		s.DailySpent = 0
		s.SpentDay = day
	}
}

// raisePeak updates the equity high-water mark. Called on every committed
// pool transition so PeakEquity never lags a recomputation.
func (s *Strategy) raisePeak() {
	if eq := s.Equity(); eq > s.PeakEquity {
		s.PeakEquity = eq
	}
}

// Reserve moves amount from available cash into locked capital and charges
// the daily budget, as one transition. Returns the updated strategy.
func (s Strategy) Reserve(amount float64, now time.Time) (Strategy, error) {
	if amount <= 0 {
		return s, fmt.Errorf("reserve %.4f: amount must be positive", amount)
	}
	if amount > s.Pools.Available {
		return s, fmt.Errorf("reserve %.4f with %.4f available: %w", amount, s.Pools.Available, ErrInsufficientFunds)
	}

	s.resetDailySpent(now)
	if s.DailyBudget > 0 && s.DailySpent+amount > s.DailyBudget {
		return s, fmt.Errorf("reserve %.4f with %.4f/%.4f spent today: %w",
			amount, s.DailySpent, s.DailyBudget, ErrDailyBudgetExceeded)
	}

	s.Pools.Available -= amount
	s.Pools.Locked += amount
	s.DailySpent += amount
	s.raisePeak()
	return s, nil
}

// Release undoes a reservation: locked capital back to available cash.
// The daily-spent charge is refunded only when the reservation was made on
// the same UTC day.
func (s Strategy) Release(amount float64, reservedAt, now time.Time) (Strategy, error) {
	if amount <= 0 {
		return s, nil
	}
	if amount > s.Pools.Locked+1e-9 {
		return s, fmt.Errorf("release %.4f with %.4f locked: %w", amount, s.Pools.Locked, ErrInsufficientFunds)
	}

	s.Pools.Locked -= amount
	s.Pools.Available += amount

	if reservedAt.UTC().Format(dayFormat) == now.UTC().Format(dayFormat) {
		s.resetDailySpent(now)
		s.DailySpent -= amount
		if s.DailySpent < 0 {
			s.DailySpent = 0
		}
	}
	s.raisePeak()
	return s, nil
}

// Settle removes a matured reservation from locked capital and parks the
// redemption proceeds in the cooldown pool. Proceeds may be zero (total
// loss) or exceed the reservation (win). Funds mature at maturesAt.
func (s Strategy) Settle(reserved, proceeds float64, maturesAt time.Time) (Strategy, error) {
	if reserved < 0 || proceeds < 0 {
		return s, fmt.Errorf("settle reserved=%.4f proceeds=%.4f: negative amount", reserved, proceeds)
	}
	if reserved > s.Pools.Locked+1e-9 {
		return s, fmt.Errorf("settle %.4f with %.4f locked: %w", reserved, s.Pools.Locked, ErrInsufficientFunds)
	}

	s.Pools.Locked -= reserved
	s.Pools.Cooldown += proceeds
	if proceeds > 0 {
		t := maturesAt
		s.CooldownMaturesAt = &t
	}
	s.raisePeak()
	return s, nil
}

// MatureCooldown promotes cooldown capital to available cash once the
// maturation deadline has passed. Safe to call every tick; reports whether
// anything changed.
func (s Strategy) MatureCooldown(now time.Time) (Strategy, bool) {
	if s.Pools.Cooldown <= 0 {
		return s, false
	}
	if s.CooldownMaturesAt != nil && now.Before(*s.CooldownMaturesAt) {
		return s, false
	}

	s.Pools.Available += s.Pools.Cooldown
	s.Pools.Cooldown = 0
	s.CooldownMaturesAt = nil
	s.raisePeak()
	return s, true
}
