package execution

// Order execution pipeline: drives a signal through the risk gate, the
// ledger reservation, and venue placement. The reservation is committed
// before the venue call and compensated (released) if placement fails, so
// capital is never locked against an order that does not exist.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcortes/mirrorbot/internal/application/ledger"
	"github.com/jcortes/mirrorbot/internal/application/riskgate"
	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/ports"
)

const (
	defaultMinSyncAge = 30 * time.Second

	// releaseAttempts bounds the in-place retry of the compensating
	// release after a failed placement. No order row exists at that point,
	// so no sweep would ever re-drive the release.
	releaseAttempts = 3
)

// Config tunes the execution pipeline.
type Config struct {
	// MinSyncAge keeps SyncStatus from polling the venue for orders that
	// were placed moments ago.
	MinSyncAge time.Duration
}

// Pipeline turns admitted signals into venue orders and reconciles venue
// state back into local order records.
type Pipeline struct {
	store  ports.Store
	venue  ports.VenueClient
	ledger *ledger.Ledger
	gate   *riskgate.Gate
	cfg    Config
	now    func() time.Time
}

// New creates an execution pipeline.
func New(store ports.Store, venue ports.VenueClient, led *ledger.Ledger, gate *riskgate.Gate, cfg Config) *Pipeline {
	if cfg.MinSyncAge <= 0 {
		cfg.MinSyncAge = defaultMinSyncAge
	}
	return &Pipeline{
		store:  store,
		venue:  venue,
		ledger: led,
		gate:   gate,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Execute drives one signal for one strategy: gate, reserve, place, record.
// Gate rejections are returned as the taxonomy sentinel and are terminal for
// the signal, the caller logs them and never retries them. A signal the
// strategy already ordered against is a silent no-op, which makes replays
// from overlapping ticks safe.
func (p *Pipeline) Execute(ctx context.Context, st domain.Strategy, sig domain.Signal) (domain.Order, error) {
	exists, err := p.store.OrderExistsForSignal(ctx, st.ID, sig.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution.Execute: duplicate check: %w", err)
	}
	if exists {
		slog.Debug("exec: signal already executed", "strategy", st.ID, "signal", sig.ID)
		return domain.Order{}, nil
	}

	bot, err := p.store.GetBotConfig(ctx, st.BotID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution.Execute: bot config: %w", err)
	}

	decision := p.gate.Evaluate(st, bot, sig)
	if !decision.Admitted {
		slog.Info("exec: signal rejected",
			"strategy", st.ID,
			"market", sig.MarketID,
			"reason", decision.Reason.Error(),
		)
		return domain.Order{}, decision.Reason
	}

	if st.ShadowMode {
		return domain.Order{}, p.recordShadowDecision(ctx, st, sig, decision.Amount)
	}

	reservedAt := p.now().UTC()
	reserved, err := p.ledger.Reserve(ctx, st.ID, decision.Amount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("execution.Execute: reserve: %w", err)
	}

	// Limit price carries the strategy's slippage cushion; the venue will
	// match at or better.
	limitPrice := sig.Price * (1 + st.SlippageTolerancePct/100)
	if limitPrice > 0.99 {
		limitPrice = 0.99
	}

	placed, err := p.venue.PlaceOrder(ctx, ports.PlaceOrderRequest{
		MarketID:  sig.MarketID,
		OutcomeID: sig.OutcomeID,
		Side:      sig.Side,
		Price:     limitPrice,
		Size:      decision.Amount,
	})
	if err != nil {
		// Compensate: the reservation must not outlive the failed placement.
		var relErr error
		for attempt := 0; attempt < releaseAttempts; attempt++ {
			if _, relErr = p.ledger.Release(ctx, st.ID, decision.Amount, reservedAt); relErr == nil {
				break
			}
		}
		if relErr != nil {
			slog.Error("exec: compensating release failed, reservation needs manual release",
				"strategy", st.ID, "amount", decision.Amount, "err", relErr)
		}
		return domain.Order{}, fmt.Errorf("execution.Execute: %w: %w", err, domain.ErrPlacementFailed)
	}

	order := domain.Order{
		ID:           uuid.New().String(),
		StrategyID:   st.ID,
		SignalID:     sig.ID,
		MarketID:     sig.MarketID,
		OutcomeID:    sig.OutcomeID,
		Side:         sig.Side,
		SignalPrice:  sig.Price,
		SignalSize:   decision.Amount,
		VenueOrderID: placed.VenueOrderID,
		Status:       domain.StatusPending,
		PlacedAt:     reservedAt,
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("execution.Execute: save order: %w", err)
	}

	if err := p.store.UpsertDailySummary(ctx, domain.DailySummary{
		StrategyID:   st.ID,
		Date:         reservedAt,
		OrdersPlaced: 1,
		Equity:       reserved.Pools.Equity(),
	}); err != nil {
		slog.Warn("exec: summary write failed", "strategy", st.ID, "err", err)
	}

	slog.Info("exec: order placed",
		"strategy", st.ID,
		"market", sig.MarketID,
		"side", sig.Side,
		"price", fmt.Sprintf("%.2f", sig.Price),
		"size", fmt.Sprintf("$%.2f", decision.Amount),
		"venue_id", placed.VenueOrderID,
	)
	return order, nil
}

// ExecuteBatch fans each bot's pending signals out to every eligible
// strategy subscribed to that bot. A signal is marked consumed only when no
// strategy's attempt was deferred on a transient failure; deferred signals
// stay pending and the per-signal duplicate guard keeps the strategies that
// already succeeded from double-placing on the retry tick.
func (p *Pipeline) ExecuteBatch(ctx context.Context, strategies []domain.Strategy, limit int) (placed int, err error) {
	byBot := make(map[string][]domain.Strategy)
	for _, st := range strategies {
		byBot[st.BotID] = append(byBot[st.BotID], st)
	}

	for botID, subs := range byBot {
		sigs, err := p.store.ListPendingSignals(ctx, botID, limit)
		if err != nil {
			return placed, fmt.Errorf("execution.ExecuteBatch: signals for bot %s: %w", botID, err)
		}

		for _, sig := range sigs {
			deferred := false
			for i, st := range subs {
				order, execErr := p.Execute(ctx, st, sig)
				switch {
				case execErr == nil:
					if order.ID != "" {
						placed++
						// Re-read so this strategy's later signals see the
						// updated pools and counters.
						fresh, err := p.store.GetStrategy(ctx, st.ID)
						if err != nil {
							return placed, fmt.Errorf("execution.ExecuteBatch: reload strategy %s: %w", st.ID, err)
						}
						subs[i] = fresh
					}
				case errors.Is(execErr, domain.ErrVenueTransient),
					errors.Is(execErr, domain.ErrConcurrentModification):
					deferred = true
					slog.Warn("exec: deferring signal", "signal", sig.ID, "strategy", st.ID, "err", execErr)
				default:
					// Gate rejection or terminal failure: logged in Execute,
					// nothing to retry for this strategy.
				}
			}

			if deferred {
				continue
			}
			if err := p.store.MarkSignalConsumed(ctx, sig.ID); err != nil {
				slog.Warn("exec: error marking signal consumed", "signal", sig.ID, "err", err)
			}
		}
	}
	return placed, nil
}

func (p *Pipeline) recordShadowDecision(ctx context.Context, st domain.Strategy, sig domain.Signal, amount float64) error {
	d := domain.ShadowDecision{
		ID:          uuid.New().String(),
		StrategyID:  st.ID,
		MarketID:    sig.MarketID,
		OutcomeID:   sig.OutcomeID,
		Side:        sig.Side,
		SignalPrice: sig.Price,
		SizedAmount: amount,
		CreatedAt:   p.now().UTC(),
	}
	if err := p.store.InsertShadowDecision(ctx, d); err != nil {
		return fmt.Errorf("execution: save shadow decision: %w", err)
	}
	slog.Info("exec: shadow decision recorded",
		"strategy", st.ID, "market", sig.MarketID, "size", fmt.Sprintf("$%.2f", amount))
	return nil
}
