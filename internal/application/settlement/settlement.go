package settlement

// Resolution and redemption pipeline. Resolve caches market resolutions
// from the venue; Redeem converts settleable orders of resolved markets
// into ledger settlements. Redemption is idempotent: the terminal-state
// guard on the order row decides exactly one winner, so overlapping ticks
// and crash-replays cannot double-credit a strategy.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcortes/mirrorbot/internal/application/ledger"
	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/ports"
)

// PnLSink receives realized PnL events as redemptions land. The circuit
// breaker evaluator sits behind this.
type PnLSink func(ctx context.Context, pnl domain.RealizedPnL) error

// Settler runs the resolve and redeem sweeps.
type Settler struct {
	store  ports.Store
	venue  ports.VenueClient
	ledger *ledger.Ledger
	onPnL  PnLSink
	now    func() time.Time
}

// New creates a settler. onPnL may be nil when no breaker is wired.
func New(store ports.Store, venue ports.VenueClient, led *ledger.Ledger, onPnL PnLSink) *Settler {
	return &Settler{
		store:  store,
		venue:  venue,
		ledger: led,
		onPnL:  onPnL,
		now:    time.Now,
	}
}

// Resolve polls the venue for every market that has settleable orders but
// no cached resolution yet, and caches the ones that resolved. Markets the
// venue still reports open are skipped until a later sweep.
func (s *Settler) Resolve(ctx context.Context) (resolved int, err error) {
	markets, err := s.store.ListUnresolvedMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("settlement.Resolve: list markets: %w", err)
	}

	for _, marketID := range markets {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		res, err := s.venue.GetMarketResolution(ctx, marketID)
		if err != nil {
			slog.Warn("settle: resolution fetch failed", "market", marketID, "err", err)
			continue
		}
		if !res.Resolved {
			continue
		}

		if err := s.store.UpsertResolution(ctx, res); err != nil {
			return resolved, fmt.Errorf("settlement.Resolve: cache %s: %w", marketID, err)
		}
		resolved++
		slog.Info("settle: market resolved",
			"market", marketID,
			"winner", res.WinningOutcome,
			"voided", res.Voided,
		)
	}
	return resolved, nil
}

// Redeem sweeps settleable orders whose markets have resolved and settles
// each one: flip the order to REDEEMED, move the filled reservation out of
// locked capital with the proceeds into cooldown, give back any unfilled
// remainder, and report the realized PnL.
func (s *Settler) Redeem(ctx context.Context, limit int) (redeemed int, err error) {
	orders, err := s.store.ListSettleableOrders(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("settlement.Redeem: list orders: %w", err)
	}

	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			return redeemed, err
		}

		ok, err := s.redeemOne(ctx, o)
		if err != nil {
			slog.Warn("settle: redeem failed", "order", o.ID, "err", err)
			continue
		}
		if ok {
			redeemed++
		}
	}
	return redeemed, nil
}

func (s *Settler) redeemOne(ctx context.Context, o domain.Order) (bool, error) {
	res, err := s.store.GetResolution(ctx, o.MarketID)
	if errors.Is(err, domain.ErrResolutionUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	outcome := res.OutcomeFor(o)
	proceeds := o.ProceedsFor(outcome)
	now := s.now().UTC()

	// The status guard is the idempotence point: losing it means another
	// sweep already settled this order.
	won, err := s.store.MarkOrderRedeemed(ctx, o.ID, outcome, now)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	// One ledger write settles the filled notional and gives back the
	// unfilled remainder of a partial fill. If it cannot be committed, the
	// order is put back in its prior status so the next sweep retries;
	// otherwise the reservation would be stuck in locked forever.
	st, err := s.ledger.Redeem(ctx, o.StrategyID, o.ExecutedSize, proceeds, o.UnfilledSize(), o.PlacedAt)
	if err != nil {
		if ok, revErr := s.store.RevertOrderRedemption(ctx, o.ID, o.Status); revErr != nil {
			slog.Error("settle: redemption revert failed", "order", o.ID, "err", revErr)
		} else if !ok {
			slog.Error("settle: redemption revert lost the guard", "order", o.ID)
		}
		return false, fmt.Errorf("redeem ledger: %w", err)
	}

	pnl := domain.RealizedPnL{
		StrategyID: o.StrategyID,
		OrderID:    o.ID,
		Outcome:    outcome,
		PnL:        proceeds - o.ExecutedSize,
		At:         now,
	}

	slog.Info("settle: order redeemed",
		"order", o.ID,
		"strategy", o.StrategyID,
		"outcome", string(outcome),
		"pnl", fmt.Sprintf("$%.2f", pnl.PnL),
	)

	if err := s.store.UpsertDailySummary(ctx, domain.DailySummary{
		StrategyID:  o.StrategyID,
		Date:        now,
		Redemptions: 1,
		RealizedPnL: pnl.PnL,
		Equity:      st.Pools.Equity(),
	}); err != nil {
		slog.Warn("settle: summary write failed", "strategy", o.StrategyID, "err", err)
	}

	if s.onPnL != nil {
		if err := s.onPnL(ctx, pnl); err != nil {
			slog.Warn("settle: pnl sink failed", "order", o.ID, "err", err)
		}
	}
	return true, nil
}
