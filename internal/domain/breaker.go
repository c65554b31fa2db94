package domain

import "fmt"

// BreakerPolicy holds the thresholds for the per-strategy circuit breaker.
// A strategy trips from ACTIVE to CIRCUIT_BROKEN when either the loss
// streak or the drawdown ceiling is breached; only an explicit resume by
// the owner or an admin moves it back.
type BreakerPolicy struct {
	MaxConsecutiveLosses int
	MaxDrawdownPct       float64 // e.g. 0.20 for 20%
}

// ShouldTrip evaluates the breaker conditions against the strategy's
// counters and equity. Returns the trip reason when a threshold is hit.
func (p BreakerPolicy) ShouldTrip(s Strategy) (string, bool) {
	if p.MaxConsecutiveLosses > 0 && s.ConsecutiveLosses >= p.MaxConsecutiveLosses {
		return fmt.Sprintf("%d consecutive losses", s.ConsecutiveLosses), true
	}
	if p.MaxDrawdownPct > 0 && s.DrawdownPct() > p.MaxDrawdownPct {
		return fmt.Sprintf("drawdown %.1f%% over %.1f%% ceiling", s.DrawdownPct()*100, p.MaxDrawdownPct*100), true
	}
	return "", false
}

// MarketResolution is the venue's terminal verdict for a market.
type MarketResolution struct {
	MarketID       string
	Resolved       bool
	Voided         bool
	WinningOutcome string
}

// OutcomeFor maps a resolution onto one order: VOID if the market voided,
// WON if the order backed the winning outcome, LOST otherwise.
func (r MarketResolution) OutcomeFor(o Order) OrderOutcome {
	if r.Voided {
		return OutcomeVoid
	}
	if o.OutcomeID == r.WinningOutcome {
		return OutcomeWon
	}
	return OutcomeLost
}
