package storage

// catalog.go: signals, bot parameters, cached resolutions, shadow
// decisions, and daily summaries.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jcortes/mirrorbot/internal/domain"
)

// ─── Signals ─────────────────────────────────────────────────────────────────

// InsertSignal stores a trade signal awaiting execution. Signals are
// produced by the external signal generator and consumed here.
func (s *SQLiteStore) InsertSignal(ctx context.Context, sig domain.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, bot_id, market_id, outcome_id, side, price, size, edge, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		sig.ID, sig.BotID, sig.MarketID, sig.OutcomeID, sig.Side,
		sig.Price, sig.Size, sig.Edge, sig.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertSignal %s: %w", sig.ID, err)
	}
	return nil
}

// ListPendingSignals returns unconsumed signals for a bot, oldest first.
func (s *SQLiteStore) ListPendingSignals(ctx context.Context, botID string, limit int) ([]domain.Signal, error) {
	q := `SELECT id, bot_id, market_id, outcome_id, side, price, size, edge, created_at
	      FROM signals WHERE bot_id=? AND consumed_at IS NULL
	      ORDER BY created_at ASC`
	args := []any{botID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPendingSignals %s: %w", botID, err)
	}
	defer rows.Close()

	var sigs []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		if err := rows.Scan(&sig.ID, &sig.BotID, &sig.MarketID, &sig.OutcomeID,
			&sig.Side, &sig.Price, &sig.Size, &sig.Edge, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.ListPendingSignals: scan: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// MarkSignalConsumed stamps the signal so it is never executed twice.
func (s *SQLiteStore) MarkSignalConsumed(ctx context.Context, signalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET consumed_at=? WHERE id=? AND consumed_at IS NULL`,
		time.Now().UTC(), signalID)
	if err != nil {
		return fmt.Errorf("storage.MarkSignalConsumed %s: %w", signalID, err)
	}
	return nil
}

// ─── Bot catalog ─────────────────────────────────────────────────────────────

// GetBotConfig loads the trading parameters for a bot.
func (s *SQLiteStore) GetBotConfig(ctx context.Context, botID string) (domain.BotConfig, error) {
	var b domain.BotConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sizing_fraction, min_edge, price_band_lo, price_band_hi, min_order_size
		FROM bots WHERE id=?`, botID).Scan(
		&b.BotID, &b.SizingFraction, &b.MinEdge, &b.PriceBandLo, &b.PriceBandHi, &b.MinOrderSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("storage.GetBotConfig %s: %w", botID, domain.ErrNotFound)
	}
	if err != nil {
		return b, fmt.Errorf("storage.GetBotConfig %s: %w", botID, err)
	}
	return b, nil
}

// UpsertBotConfig writes bot parameters. The engine treats these as
// read-only; this exists for provisioning and tests.
func (s *SQLiteStore) UpsertBotConfig(ctx context.Context, b domain.BotConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (id, sizing_fraction, min_edge, price_band_lo, price_band_hi, min_order_size)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
		    sizing_fraction=excluded.sizing_fraction,
		    min_edge=excluded.min_edge,
		    price_band_lo=excluded.price_band_lo,
		    price_band_hi=excluded.price_band_hi,
		    min_order_size=excluded.min_order_size`,
		b.BotID, b.SizingFraction, b.MinEdge, b.PriceBandLo, b.PriceBandHi, b.MinOrderSize,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertBotConfig %s: %w", b.BotID, err)
	}
	return nil
}

// ─── Resolutions ─────────────────────────────────────────────────────────────

// UpsertResolution caches a venue market resolution.
func (s *SQLiteStore) UpsertResolution(ctx context.Context, r domain.MarketResolution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolutions (market_id, resolved, voided, winning_outcome, resolved_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(market_id) DO UPDATE SET
		    resolved=excluded.resolved,
		    voided=excluded.voided,
		    winning_outcome=excluded.winning_outcome,
		    resolved_at=excluded.resolved_at`,
		r.MarketID, boolToInt(r.Resolved), boolToInt(r.Voided), r.WinningOutcome, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertResolution %s: %w", r.MarketID, err)
	}
	return nil
}

// GetResolution returns the cached resolution for a market.
// domain.ErrResolutionUnavailable when no resolved row exists yet.
func (s *SQLiteStore) GetResolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	var r domain.MarketResolution
	var resolved, voided int
	err := s.db.QueryRowContext(ctx, `
		SELECT market_id, resolved, voided, winning_outcome
		FROM resolutions WHERE market_id=?`, marketID).Scan(
		&r.MarketID, &resolved, &voided, &r.WinningOutcome,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("storage.GetResolution %s: %w", marketID, domain.ErrResolutionUnavailable)
	}
	if err != nil {
		return r, fmt.Errorf("storage.GetResolution %s: %w", marketID, err)
	}
	r.Resolved = resolved != 0
	r.Voided = voided != 0
	if !r.Resolved {
		return r, fmt.Errorf("storage.GetResolution %s: %w", marketID, domain.ErrResolutionUnavailable)
	}
	return r, nil
}

// ─── Shadow decisions ────────────────────────────────────────────────────────

// InsertShadowDecision records a shadow-mode admit for audit.
func (s *SQLiteStore) InsertShadowDecision(ctx context.Context, d domain.ShadowDecision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shadow_decisions (id, strategy_id, market_id, outcome_id, side, signal_price, sized_amount, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.StrategyID, d.MarketID, d.OutcomeID, d.Side,
		d.SignalPrice, d.SizedAmount, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertShadowDecision %s: %w", d.ID, err)
	}
	return nil
}

// ListShadowDecisions returns a strategy's shadow decisions, oldest first.
func (s *SQLiteStore) ListShadowDecisions(ctx context.Context, strategyID string) ([]domain.ShadowDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_id, market_id, outcome_id, side, signal_price, sized_amount, created_at
		FROM shadow_decisions WHERE strategy_id=? ORDER BY created_at ASC`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListShadowDecisions %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []domain.ShadowDecision
	for rows.Next() {
		var d domain.ShadowDecision
		if err := rows.Scan(&d.ID, &d.StrategyID, &d.MarketID, &d.OutcomeID,
			&d.Side, &d.SignalPrice, &d.SizedAmount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.ListShadowDecisions: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ─── Daily summaries ─────────────────────────────────────────────────────────

// UpsertDailySummary accumulates the per-strategy daily snapshot. Counters
// add up across sweeps within a day; equity is overwritten with the latest.
func (s *SQLiteStore) UpsertDailySummary(ctx context.Context, d domain.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (strategy_id, date, orders_placed, redemptions, realized_pnl, equity)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(strategy_id, date) DO UPDATE SET
		    orders_placed=orders_placed+excluded.orders_placed,
		    redemptions=redemptions+excluded.redemptions,
		    realized_pnl=realized_pnl+excluded.realized_pnl,
		    equity=excluded.equity`,
		d.StrategyID, d.Date.UTC().Format("2006-01-02"),
		d.OrdersPlaced, d.Redemptions, d.RealizedPnL, d.Equity,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertDailySummary %s: %w", d.StrategyID, err)
	}
	return nil
}

// ListDailySummaries returns a strategy's daily snapshots ordered by date.
func (s *SQLiteStore) ListDailySummaries(ctx context.Context, strategyID string) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy_id, date, orders_placed, redemptions, realized_pnl, equity
		FROM daily_summaries WHERE strategy_id=? ORDER BY date ASC`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListDailySummaries %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var d domain.DailySummary
		var dateStr string
		if err := rows.Scan(&d.StrategyID, &dateStr, &d.OrdersPlaced,
			&d.Redemptions, &d.RealizedPnL, &d.Equity); err != nil {
			return nil, fmt.Errorf("storage.ListDailySummaries: scan: %w", err)
		}
		d.Date, _ = time.Parse("2006-01-02", dateStr)
		out = append(out, d)
	}
	return out, rows.Err()
}
