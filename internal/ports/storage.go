package ports

import (
	"context"
	"time"

	"github.com/jcortes/mirrorbot/internal/domain"
)

// Store persists engine state in a durable relational store. Implementations
// must make UpdateStrategy a version-guarded conditional write so overlapping
// ticks cannot both commit against a stale snapshot.
type Store interface {
	// Strategies
	InsertStrategy(ctx context.Context, s domain.Strategy) error
	GetStrategy(ctx context.Context, id string) (domain.Strategy, error)
	ListEligibleStrategies(ctx context.Context, limit int) ([]domain.Strategy, error)
	ListStrategies(ctx context.Context) ([]domain.Strategy, error)

	// UpdateStrategy commits s only if the stored version still equals
	// s.Version, incrementing it on success. Returns
	// domain.ErrConcurrentModification when the guard misses.
	UpdateStrategy(ctx context.Context, s domain.Strategy) error

	// TouchStrategySync stamps the strategy's last sync time without
	// touching the version column.
	TouchStrategySync(ctx context.Context, strategyID string, t time.Time) error

	// Orders
	InsertOrder(ctx context.Context, o domain.Order) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListOpenOrders(ctx context.Context, olderThan time.Time) ([]domain.Order, error)
	ListSettleableOrders(ctx context.Context, limit int) ([]domain.Order, error)
	ListOrdersByStrategy(ctx context.Context, strategyID string) ([]domain.Order, error)

	// OrderExistsForSignal reports whether the strategy already holds an
	// order for the signal, the duplicate guard for overlapping ticks.
	OrderExistsForSignal(ctx context.Context, strategyID, signalID string) (bool, error)

	// UpdateOrderSync writes executed price/size and status, guarded on the
	// order still being non-terminal. A guard miss is a no-op, not an error,
	// so duplicate syncs of an already-terminal order are harmless.
	UpdateOrderSync(ctx context.Context, o domain.Order) (bool, error)

	// MarkOrderRedeemed is the idempotence guard for redemption: the write
	// only lands if the order is still FILLED or PARTIALLY_FILLED. Reports
	// whether this call won the transition.
	MarkOrderRedeemed(ctx context.Context, orderID string, outcome domain.OrderOutcome, redeemedAt time.Time) (bool, error)

	// RevertOrderRedemption undoes MarkOrderRedeemed after the ledger
	// commit failed, guarded on the order still being REDEEMED, so the
	// next sweep retries the capital movement.
	RevertOrderRedemption(ctx context.Context, orderID string, to domain.OrderStatus) (bool, error)

	// RevertOrderSync restores prev's row after the release that belongs
	// with a sync could not be committed, guarded on the status the failed
	// sync wrote.
	RevertOrderSync(ctx context.Context, prev domain.Order, from domain.OrderStatus) (bool, error)

	// Signals (written by the external signal generator, consumed here)
	InsertSignal(ctx context.Context, sig domain.Signal) error
	ListPendingSignals(ctx context.Context, botID string, limit int) ([]domain.Signal, error)
	MarkSignalConsumed(ctx context.Context, signalID string) error

	// Bot catalog (read-only to the engine)
	GetBotConfig(ctx context.Context, botID string) (domain.BotConfig, error)
	UpsertBotConfig(ctx context.Context, b domain.BotConfig) error

	// Market resolutions cached from the venue
	UpsertResolution(ctx context.Context, r domain.MarketResolution) error
	GetResolution(ctx context.Context, marketID string) (domain.MarketResolution, error)
	ListUnresolvedMarkets(ctx context.Context) ([]string, error)

	// Shadow-mode audit trail
	InsertShadowDecision(ctx context.Context, d domain.ShadowDecision) error
	ListShadowDecisions(ctx context.Context, strategyID string) ([]domain.ShadowDecision, error)

	// Daily summaries
	UpsertDailySummary(ctx context.Context, d domain.DailySummary) error
	ListDailySummaries(ctx context.Context, strategyID string) ([]domain.DailySummary, error)

	Close() error
}
