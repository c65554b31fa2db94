package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jcortes/mirrorbot/internal/domain"
)

const orderColumns = `id, strategy_id, signal_id, market_id, outcome_id, side,
	signal_price, signal_size, executed_price, executed_size,
	venue_order_id, status, outcome, placed_at, filled_at, redeemed_at`

// InsertOrder creates the local order record after venue placement.
func (s *SQLiteStore) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.StrategyID, o.SignalID, o.MarketID, o.OutcomeID, o.Side,
		o.SignalPrice, o.SignalSize, o.ExecutedPrice, o.ExecutedSize,
		o.VenueOrderID, string(o.Status), string(o.Outcome),
		o.PlacedAt.UTC(), nullTime(o.FilledAt), nullTime(o.RedeemedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertOrder %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder loads one order by local ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("storage.GetOrder %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return o, fmt.Errorf("storage.GetOrder %s: %w", id, err)
	}
	return o, nil
}

// OrderExistsForSignal reports whether a strategy already placed an order
// for a signal. It backs the execution pipeline's duplicate guard when a
// tick overlaps a slow predecessor.
func (s *SQLiteStore) OrderExistsForSignal(ctx context.Context, strategyID, signalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM orders WHERE strategy_id=? AND signal_id=?`,
		strategyID, signalID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage.OrderExistsForSignal %s/%s: %w", strategyID, signalID, err)
	}
	return n > 0, nil
}

// ListOpenOrders returns PENDING and PARTIALLY_FILLED orders placed before
// olderThan. The age floor keeps the sync pipeline from polling the venue
// for orders it just placed.
func (s *SQLiteStore) ListOpenOrders(ctx context.Context, olderThan time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('PENDING','PARTIALLY_FILLED') AND placed_at <= ?
		ORDER BY placed_at ASC`, olderThan.UTC())
}

// ListSettleableOrders returns FILLED and PARTIALLY_FILLED orders, the only
// states redemption can act on.
func (s *SQLiteStore) ListSettleableOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders
	      WHERE status IN ('FILLED','PARTIALLY_FILLED')
	      ORDER BY placed_at ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryOrders(ctx, q, args...)
}

// ListOrdersByStrategy returns all orders for a strategy, oldest first.
func (s *SQLiteStore) ListOrdersByStrategy(ctx context.Context, strategyID string) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE strategy_id=? ORDER BY placed_at ASC`, strategyID)
}

// ListUnresolvedMarkets returns the distinct market IDs referenced by
// settleable orders that have no resolved resolution row yet.
func (s *SQLiteStore) ListUnresolvedMarkets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT o.market_id FROM orders o
		LEFT JOIN resolutions r ON r.market_id = o.market_id AND r.resolved = 1
		WHERE o.status IN ('FILLED','PARTIALLY_FILLED') AND r.market_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListUnresolvedMarkets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage.ListUnresolvedMarkets: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateOrderSync writes the venue's view of the order: executed price and
// size, status, fill time, and the possibly shrunk reservation. Guarded on
// the row still being non-terminal; returns false when the guard misses,
// which makes duplicate syncs of an already-terminal order no-ops.
func (s *SQLiteStore) UpdateOrderSync(ctx context.Context, o domain.Order) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET executed_price=?, executed_size=?, signal_size=?, status=?, filled_at=?
		WHERE id=? AND status IN ('PENDING','PARTIALLY_FILLED')`,
		o.ExecutedPrice, o.ExecutedSize, o.SignalSize, string(o.Status), nullTime(o.FilledAt), o.ID,
	)
	if err != nil {
		return false, fmt.Errorf("storage.UpdateOrderSync %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.UpdateOrderSync %s: rows affected: %w", o.ID, err)
	}
	return n > 0, nil
}

// MarkOrderRedeemed flips a FILLED/PARTIALLY_FILLED order to REDEEMED and
// stamps the outcome. The status guard is the redemption idempotence check:
// exactly one caller wins, every later call reports false.
func (s *SQLiteStore) MarkOrderRedeemed(ctx context.Context, orderID string, outcome domain.OrderOutcome, redeemedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status='REDEEMED', outcome=?, redeemed_at=?
		WHERE id=? AND status IN ('FILLED','PARTIALLY_FILLED')`,
		string(outcome), redeemedAt.UTC(), orderID,
	)
	if err != nil {
		return false, fmt.Errorf("storage.MarkOrderRedeemed %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.MarkOrderRedeemed %s: rows affected: %w", orderID, err)
	}
	return n > 0, nil
}

// RevertOrderRedemption puts a REDEEMED order back into its prior
// settleable status after the ledger commit failed, so the next sweep
// retries it. The status guard keeps it from undoing a redemption another
// sweep completed in the meantime.
func (s *SQLiteStore) RevertOrderRedemption(ctx context.Context, orderID string, to domain.OrderStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status=?, outcome='', redeemed_at=NULL
		WHERE id=? AND status='REDEEMED'`,
		string(to), orderID,
	)
	if err != nil {
		return false, fmt.Errorf("storage.RevertOrderRedemption %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.RevertOrderRedemption %s: rows affected: %w", orderID, err)
	}
	return n > 0, nil
}

// RevertOrderSync restores an order's pre-sync row after the capital
// release that belongs with the sync failed, putting it back in front of
// the next sweep. Guarded on the status the failed sync wrote.
func (s *SQLiteStore) RevertOrderSync(ctx context.Context, prev domain.Order, from domain.OrderStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET executed_price=?, executed_size=?, signal_size=?, status=?, filled_at=?
		WHERE id=? AND status=?`,
		prev.ExecutedPrice, prev.ExecutedSize, prev.SignalSize, string(prev.Status), nullTime(prev.FilledAt),
		prev.ID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("storage.RevertOrderSync %s: %w", prev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.RevertOrderSync %s: rows affected: %w", prev.ID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) queryOrders(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryOrders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryOrders: scan: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(r rowScanner) (domain.Order, error) {
	var o domain.Order
	var status, outcome string
	var filledAt, redeemedAt sql.NullString

	err := r.Scan(
		&o.ID, &o.StrategyID, &o.SignalID, &o.MarketID, &o.OutcomeID, &o.Side,
		&o.SignalPrice, &o.SignalSize, &o.ExecutedPrice, &o.ExecutedSize,
		&o.VenueOrderID, &status, &outcome,
		&o.PlacedAt, &filledAt, &redeemedAt,
	)
	if err != nil {
		return o, err
	}

	o.Status = domain.OrderStatus(status)
	o.Outcome = domain.OrderOutcome(outcome)
	o.FilledAt = scanNullTime(filledAt)
	o.RedeemedAt = scanNullTime(redeemedAt)
	return o, nil
}
