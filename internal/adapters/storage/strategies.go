package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jcortes/mirrorbot/internal/domain"
)

const strategyColumns = `id, user_id, bot_id, active, paused_by_user, breaker_paused, shadow_mode,
	available, locked, cooldown, initial_capital, peak_equity,
	max_order_size, daily_budget, slippage_tolerance_pct,
	daily_spent, spent_day, consecutive_losses,
	cooldown_matures_at, last_sync_at, created_at, version`

// InsertStrategy creates a new strategy row at version 0.
func (s *SQLiteStore) InsertStrategy(ctx context.Context, st domain.Strategy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategies (`+strategyColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		st.ID, st.UserID, st.BotID,
		boolToInt(st.Active), boolToInt(st.PausedByUser), boolToInt(st.BreakerPaused), boolToInt(st.ShadowMode),
		st.Pools.Available, st.Pools.Locked, st.Pools.Cooldown,
		st.InitialCapital, st.PeakEquity,
		st.MaxOrderSize, st.DailyBudget, st.SlippageTolerancePct,
		st.DailySpent, st.SpentDay, st.ConsecutiveLosses,
		nullTime(st.CooldownMaturesAt), nullTime(st.LastSyncAt), st.CreatedAt.UTC(), st.Version,
	)
	if err != nil {
		return fmt.Errorf("storage.InsertStrategy %s: %w", st.ID, err)
	}
	return nil
}

// GetStrategy loads one strategy by ID.
func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (domain.Strategy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE id=?`, id)
	st, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("storage.GetStrategy %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return st, fmt.Errorf("storage.GetStrategy %s: %w", id, err)
	}
	return st, nil
}

// ListEligibleStrategies returns strategies that may trade this tick:
// active, not paused by the user, breaker closed.
func (s *SQLiteStore) ListEligibleStrategies(ctx context.Context, limit int) ([]domain.Strategy, error) {
	q := `SELECT ` + strategyColumns + ` FROM strategies
	      WHERE active=1 AND paused_by_user=0 AND breaker_paused=0
	      ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryStrategies(ctx, q, args...)
}

// ListStrategies returns every strategy, eligible or not.
func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]domain.Strategy, error) {
	return s.queryStrategies(ctx,
		`SELECT `+strategyColumns+` FROM strategies ORDER BY created_at ASC`)
}

// UpdateStrategy is the compare-and-set write behind every ledger
// transition: the row is only written if the version has not moved since
// the caller's read. On success the stored version is bumped by one.
func (s *SQLiteStore) UpdateStrategy(ctx context.Context, st domain.Strategy) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET
		    active=?, paused_by_user=?, breaker_paused=?, shadow_mode=?,
		    available=?, locked=?, cooldown=?,
		    initial_capital=?, peak_equity=?,
		    max_order_size=?, daily_budget=?, slippage_tolerance_pct=?,
		    daily_spent=?, spent_day=?, consecutive_losses=?,
		    cooldown_matures_at=?, last_sync_at=?, version=version+1
		WHERE id=? AND version=?`,
		boolToInt(st.Active), boolToInt(st.PausedByUser), boolToInt(st.BreakerPaused), boolToInt(st.ShadowMode),
		st.Pools.Available, st.Pools.Locked, st.Pools.Cooldown,
		st.InitialCapital, st.PeakEquity,
		st.MaxOrderSize, st.DailyBudget, st.SlippageTolerancePct,
		st.DailySpent, st.SpentDay, st.ConsecutiveLosses,
		nullTime(st.CooldownMaturesAt), nullTime(st.LastSyncAt),
		st.ID, st.Version,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateStrategy %s: %w", st.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.UpdateStrategy %s: rows affected: %w", st.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("storage.UpdateStrategy %s at v%d: %w", st.ID, st.Version, domain.ErrConcurrentModification)
	}
	return nil
}

// TouchStrategySync stamps the strategy's last sync time. Metadata only:
// the version column is left alone so the stamp cannot fail a concurrent
// capital write.
func (s *SQLiteStore) TouchStrategySync(ctx context.Context, strategyID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE strategies SET last_sync_at=? WHERE id=?`, t.UTC(), strategyID)
	if err != nil {
		return fmt.Errorf("storage.TouchStrategySync %s: %w", strategyID, err)
	}
	return nil
}

func (s *SQLiteStore) queryStrategies(ctx context.Context, q string, args ...any) ([]domain.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryStrategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryStrategies: scan: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(r rowScanner) (domain.Strategy, error) {
	var st domain.Strategy
	var active, pausedUser, breakerPaused, shadow int
	var cooldownAt, lastSync sql.NullString

	err := r.Scan(
		&st.ID, &st.UserID, &st.BotID,
		&active, &pausedUser, &breakerPaused, &shadow,
		&st.Pools.Available, &st.Pools.Locked, &st.Pools.Cooldown,
		&st.InitialCapital, &st.PeakEquity,
		&st.MaxOrderSize, &st.DailyBudget, &st.SlippageTolerancePct,
		&st.DailySpent, &st.SpentDay, &st.ConsecutiveLosses,
		&cooldownAt, &lastSync, &st.CreatedAt, &st.Version,
	)
	if err != nil {
		return st, err
	}

	st.Active = active != 0
	st.PausedByUser = pausedUser != 0
	st.BreakerPaused = breakerPaused != 0
	st.ShadowMode = shadow != 0
	st.CooldownMaturesAt = scanNullTime(cooldownAt)
	st.LastSyncAt = scanNullTime(lastSync)
	return st, nil
}
