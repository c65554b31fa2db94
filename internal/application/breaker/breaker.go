package breaker

// Circuit breaker evaluator. Consumes realized PnL events, maintains the
// per-strategy loss streak, and trips the breaker when the streak or the
// drawdown ceiling is breached. A tripped strategy stays paused until an
// explicit resume by its owner or an admin; nothing here un-trips
// automatically.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcortes/mirrorbot/internal/application/ledger"
	"github.com/jcortes/mirrorbot/internal/domain"
)

// Caller identifies who is asking for a breaker resume.
type Caller struct {
	UserID string
	Admin  bool
}

// Evaluator applies the breaker policy after every redemption.
type Evaluator struct {
	ledger *ledger.Ledger
	policy domain.BreakerPolicy
}

// New creates an evaluator with the given policy.
func New(led *ledger.Ledger, policy domain.BreakerPolicy) *Evaluator {
	return &Evaluator{ledger: led, policy: policy}
}

// OnRealizedPnL updates the strategy's loss streak from one redemption and
// trips the breaker if a threshold is hit. WON resets the streak, LOST
// extends it, VOID leaves it alone. The counter update and the trip commit
// as one versioned write.
func (e *Evaluator) OnRealizedPnL(ctx context.Context, pnl domain.RealizedPnL) error {
	var tripReason string

	st, err := e.ledger.Mutate(ctx, pnl.StrategyID, func(st domain.Strategy) (domain.Strategy, error) {
		switch pnl.Outcome {
		case domain.OutcomeWon:
			st.ConsecutiveLosses = 0
		case domain.OutcomeLost:
			st.ConsecutiveLosses++
		}

		tripReason = ""
		if reason, trip := e.policy.ShouldTrip(st); trip && !st.BreakerPaused {
			st.BreakerPaused = true
			tripReason = reason
		}
		return st, nil
	})
	if err != nil {
		return fmt.Errorf("breaker.OnRealizedPnL %s: %w", pnl.StrategyID, err)
	}

	if tripReason != "" {
		slog.Warn("breaker: strategy paused",
			"strategy", st.ID,
			"reason", tripReason,
			"losses", st.ConsecutiveLosses,
			"drawdown", fmt.Sprintf("%.1f%%", st.DrawdownPct()*100),
		)
	}
	return nil
}

// Resume clears a tripped breaker. Only the strategy owner or an admin may
// resume; the loss streak restarts from zero so the very next loss cannot
// re-trip on stale history.
func (e *Evaluator) Resume(ctx context.Context, strategyID string, caller Caller) error {
	_, err := e.ledger.Mutate(ctx, strategyID, func(st domain.Strategy) (domain.Strategy, error) {
		if !caller.Admin && caller.UserID != st.UserID {
			return st, fmt.Errorf("strategy %s, caller %s: %w", strategyID, caller.UserID, domain.ErrUnauthorized)
		}
		if !st.BreakerPaused {
			return st, nil
		}
		st.BreakerPaused = false
		st.ConsecutiveLosses = 0
		return st, nil
	})
	if err != nil {
		return fmt.Errorf("breaker.Resume %s: %w", strategyID, err)
	}

	slog.Info("breaker: strategy resumed", "strategy", strategyID, "by", caller.UserID, "admin", caller.Admin)
	return nil
}
