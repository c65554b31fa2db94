package riskgate

// Admission controller: decides whether a signal may consume capital.
// Pure: the gate never mutates anything; the caller reserves capital only
// after an admit. Checks run in a fixed order and the first failure wins,
// so rejection reasons are stable and auditable.

import (
	"math"
	"time"

	"github.com/jcortes/mirrorbot/internal/domain"
)

// fallbackMinOrder is the minimal tradable unit when the bot does not
// configure one.
const fallbackMinOrder = 1.0

// Decision is the gate's verdict on one signal.
type Decision struct {
	Admitted bool
	// Amount is the sized notional to reserve and place. Zero on reject.
	Amount float64
	// Reason is the sentinel rejection error. Nil on admit.
	Reason error
}

// Gate evaluates candidate trades against strategy risk limits and bot
// parameters.
type Gate struct {
	now func() time.Time
}

// New creates a risk gate.
func New() *Gate {
	return &Gate{now: time.Now}
}

// Evaluate runs the admission checks in order:
//
//  1. strategy eligibility (active, not paused, breaker closed)
//  2. signal price inside the bot's acceptable band
//  3. signal edge meets the bot's minimum
//  4. sizing: min(bot sizing rule, max order size, available cash),
//     floored at the minimal tradable unit
//  5. projected daily spend within the daily budget
func (g *Gate) Evaluate(st domain.Strategy, bot domain.BotConfig, sig domain.Signal) Decision {
	if !st.Eligible() {
		return reject(domain.ErrStrategyNotEligible)
	}

	if sig.Price < bot.PriceBandLo || sig.Price > bot.PriceBandHi {
		return reject(domain.ErrPriceOutOfBand)
	}

	if sig.Edge < bot.MinEdge {
		return reject(domain.ErrInsufficientEdge)
	}

	amount := g.size(st, bot, sig)
	minUnit := bot.MinOrderSize
	if minUnit <= 0 {
		minUnit = fallbackMinOrder
	}
	if amount < minUnit {
		return reject(domain.ErrSizeTooSmall)
	}

	if st.DailyBudget > 0 && g.projectedSpent(st)+amount > st.DailyBudget {
		return reject(domain.ErrDailyBudgetExceeded)
	}

	return Decision{Admitted: true, Amount: amount}
}

// size applies the sizing caps: the bot's sizing rule (fraction of equity,
// capped at the signal's suggested size), the strategy's max order size,
// and the cash actually available.
func (g *Gate) size(st domain.Strategy, bot domain.BotConfig, sig domain.Signal) float64 {
	amount := sig.Size
	if bot.SizingFraction > 0 {
		amount = math.Min(amount, bot.SizingFraction*st.Equity())
	}
	if st.MaxOrderSize > 0 {
		amount = math.Min(amount, st.MaxOrderSize)
	}
	return math.Min(amount, st.Pools.Available)
}

// projectedSpent is today's spend as the ledger would see it: zero if the
// counter belongs to a previous UTC day.
func (g *Gate) projectedSpent(st domain.Strategy) float64 {
	if st.SpentDay != g.now().UTC().Format("2006-01-02") {
		return 0
	}
	return st.DailySpent
}

func reject(reason error) Decision {
	return Decision{Reason: reason}
}
