package ledger

// Capital ledger service: atomic, invariant-preserving transitions over a
// strategy's capital pools. Every mutation is read → pure domain transition
// → version-guarded write, retried a bounded number of times on conflict.
// There are no locks; overlapping ticks race on the version column and the
// loser re-reads.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/ports"
)

const (
	defaultCASRetries = 3
	defaultCooldown   = 30 * time.Minute
)

// Config tunes the ledger service.
type Config struct {
	// CASRetries bounds how often a conflicting write is retried before
	// domain.ErrConcurrentModification is surfaced.
	CASRetries int

	// CooldownPeriod is how long settled proceeds mature before they can
	// be redeployed.
	CooldownPeriod time.Duration
}

// Ledger is the sole writer of strategy capital fields.
type Ledger struct {
	store ports.Store
	cfg   Config
	now   func() time.Time
}

// New creates a ledger service over the given store.
func New(store ports.Store, cfg Config) *Ledger {
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = defaultCASRetries
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = defaultCooldown
	}
	return &Ledger{store: store, cfg: cfg, now: time.Now}
}

// Mutate runs fn against a fresh read of the strategy and commits the
// result with a compare-and-set write. On a version conflict the whole
// read-transition-write cycle is retried up to the configured bound; the
// last conflict is surfaced as domain.ErrConcurrentModification.
//
// fn must be pure: no side effects, safe to call more than once.
func (l *Ledger) Mutate(ctx context.Context, strategyID string, fn func(domain.Strategy) (domain.Strategy, error)) (domain.Strategy, error) {
	var lastErr error
	for attempt := 0; attempt < l.cfg.CASRetries; attempt++ {
		st, err := l.store.GetStrategy(ctx, strategyID)
		if err != nil {
			return domain.Strategy{}, err
		}

		next, err := fn(st)
		if err != nil {
			return domain.Strategy{}, err
		}

		if !next.Pools.Valid() {
			return domain.Strategy{}, fmt.Errorf("ledger.Mutate %s: pools went negative: %+v", strategyID, next.Pools)
		}

		err = l.store.UpdateStrategy(ctx, next)
		if err == nil {
			next.Version++
			return next, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return domain.Strategy{}, err
		}

		lastErr = err
		slog.Debug("ledger: version conflict, retrying",
			"strategy", strategyID, "attempt", attempt+1)
	}
	return domain.Strategy{}, fmt.Errorf("ledger.Mutate %s: retries exhausted: %w", strategyID, lastErr)
}

// Reserve moves amount from available cash into locked capital and charges
// the daily budget, as one committed transition.
func (l *Ledger) Reserve(ctx context.Context, strategyID string, amount float64) (domain.Strategy, error) {
	now := l.now()
	return l.Mutate(ctx, strategyID, func(st domain.Strategy) (domain.Strategy, error) {
		return st.Reserve(amount, now)
	})
}

// Release returns an order's unfilled reservation to available cash.
// Used on CANCELLED/EXPIRED and as the compensating action after a failed
// placement. The daily-spent charge is undone only within the same UTC day.
func (l *Ledger) Release(ctx context.Context, strategyID string, amount float64, reservedAt time.Time) (domain.Strategy, error) {
	now := l.now()
	return l.Mutate(ctx, strategyID, func(st domain.Strategy) (domain.Strategy, error) {
		return st.Release(amount, reservedAt, now)
	})
}

// Redeem commits a redemption as one transition: the filled reservation
// leaves locked capital with the proceeds parked in the cooldown pool, and
// any unfilled remainder of a partial fill returns to available cash. A
// single version-guarded write, so a redemption can never land half-applied.
func (l *Ledger) Redeem(ctx context.Context, strategyID string, filled, proceeds, remainder float64, reservedAt time.Time) (domain.Strategy, error) {
	now := l.now()
	maturesAt := now.Add(l.cfg.CooldownPeriod)
	return l.Mutate(ctx, strategyID, func(st domain.Strategy) (domain.Strategy, error) {
		next, err := st.Settle(filled, proceeds, maturesAt)
		if err != nil {
			return domain.Strategy{}, err
		}
		if remainder > 0 {
			next, err = next.Release(remainder, reservedAt, now)
		}
		return next, err
	})
}

// MatureCooldown promotes matured cooldown capital to available cash.
// Idempotent: a strategy with nothing to mature is left untouched without
// a write.
func (l *Ledger) MatureCooldown(ctx context.Context, strategyID string) (bool, error) {
	now := l.now()

	st, err := l.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return false, err
	}
	if _, changed := st.MatureCooldown(now); !changed {
		return false, nil
	}

	_, err = l.Mutate(ctx, strategyID, func(st domain.Strategy) (domain.Strategy, error) {
		next, _ := st.MatureCooldown(now)
		return next, nil
	})
	if err != nil {
		return false, err
	}

	slog.Info("ledger: cooldown matured", "strategy", strategyID)
	return true, nil
}
