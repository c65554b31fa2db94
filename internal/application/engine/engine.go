package engine

// Tick entry points for the scheduler driver. Every tick authenticates the
// caller with the shared trust token, does a bounded batch of work, and
// returns; overlap with the previous tick of the same job is tolerated
// because every underlying operation is re-entrant (versioned ledger
// writes, terminal-state order guards, per-signal duplicate checks).

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/jcortes/mirrorbot/internal/application/execution"
	"github.com/jcortes/mirrorbot/internal/application/ledger"
	"github.com/jcortes/mirrorbot/internal/application/settlement"
	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/ports"
)

// ErrBadTrustToken rejects a tick whose caller does not hold the scheduler
// trust token.
var ErrBadTrustToken = errors.New("scheduler trust token mismatch")

// Config tunes the tick engine.
type Config struct {
	// TrustToken authenticates tick callers. Compared in constant time.
	TrustToken string

	// BatchLimit caps strategies per execute tick and orders per redeem
	// tick. 0 means unbounded.
	BatchLimit int

	// Workers bounds per-bot parallelism in the execute tick. <=0 uses
	// runtime.NumCPU().
	Workers int
}

// Engine drives the four pipelines from scheduler ticks.
type Engine struct {
	store   ports.Store
	exec    *execution.Pipeline
	settler *settlement.Settler
	ledger  *ledger.Ledger
	cfg     Config
}

// New assembles the tick engine.
func New(store ports.Store, exec *execution.Pipeline, settler *settlement.Settler, led *ledger.Ledger, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Engine{store: store, exec: exec, settler: settler, ledger: led, cfg: cfg}
}

func (e *Engine) authorize(token string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(e.cfg.TrustToken)) != 1 {
		return ErrBadTrustToken
	}
	return nil
}

// ExecuteTick matures cooldown capital and drives pending signals through
// the execution pipeline for every eligible strategy. Bots are processed in
// parallel up to the worker bound; strategies of one bot stay sequential
// because they contend on the same signal rows.
func (e *Engine) ExecuteTick(ctx context.Context, token string) (placed int, err error) {
	if err := e.authorize(token); err != nil {
		return 0, err
	}

	strategies, err := e.store.ListEligibleStrategies(ctx, e.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("engine.ExecuteTick: list strategies: %w", err)
	}
	if len(strategies) == 0 {
		return 0, nil
	}

	e.matureCooldowns(ctx, strategies)

	// Re-read after maturation so sizing sees the promoted capital.
	strategies, err = e.store.ListEligibleStrategies(ctx, e.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("engine.ExecuteTick: reload strategies: %w", err)
	}

	byBot := make(map[string][]domain.Strategy)
	for _, st := range strategies {
		byBot[st.BotID] = append(byBot[st.BotID], st)
	}

	workCh := make(chan []domain.Strategy, len(byBot))
	resultCh := make(chan int, len(byBot))

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range workCh {
				resultCh <- e.executeGroup(ctx, group)
			}
		}()
	}

	for _, group := range byBot {
		workCh <- group
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for n := range resultCh {
		placed += n
	}

	slog.Info("engine: execute tick done",
		"strategies", len(strategies),
		"bots", len(byBot),
		"placed", placed,
	)
	return placed, nil
}

// executeGroup runs one bot's strategies through the pipeline, swallowing
// panics so a poisoned strategy cannot take the whole tick down.
func (e *Engine) executeGroup(ctx context.Context, group []domain.Strategy) (placed int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: panic in execute batch",
				"bot", group[0].BotID, "panic", fmt.Sprintf("%v", r))
		}
	}()

	placed, err := e.exec.ExecuteBatch(ctx, group, e.cfg.BatchLimit)
	if err != nil {
		slog.Warn("engine: execute batch failed", "bot", group[0].BotID, "err", err)
	}
	return placed
}

func (e *Engine) matureCooldowns(ctx context.Context, strategies []domain.Strategy) {
	for _, st := range strategies {
		if _, err := e.ledger.MatureCooldown(ctx, st.ID); err != nil {
			slog.Warn("engine: cooldown maturation failed", "strategy", st.ID, "err", err)
		}
	}
}

// SyncTick reconciles open orders against the venue.
func (e *Engine) SyncTick(ctx context.Context, token string) (int, error) {
	if err := e.authorize(token); err != nil {
		return 0, err
	}
	n, err := e.exec.SyncStatus(ctx)
	if err != nil {
		return n, fmt.Errorf("engine.SyncTick: %w", err)
	}
	slog.Info("engine: sync tick done", "synced", n)
	return n, nil
}

// ResolveTick caches fresh market resolutions from the venue.
func (e *Engine) ResolveTick(ctx context.Context, token string) (int, error) {
	if err := e.authorize(token); err != nil {
		return 0, err
	}
	n, err := e.settler.Resolve(ctx)
	if err != nil {
		return n, fmt.Errorf("engine.ResolveTick: %w", err)
	}
	slog.Info("engine: resolve tick done", "resolved", n)
	return n, nil
}

// RedeemTick settles orders of resolved markets.
func (e *Engine) RedeemTick(ctx context.Context, token string) (int, error) {
	if err := e.authorize(token); err != nil {
		return 0, err
	}
	n, err := e.settler.Redeem(ctx, e.cfg.BatchLimit)
	if err != nil {
		return n, fmt.Errorf("engine.RedeemTick: %w", err)
	}
	slog.Info("engine: redeem tick done", "redeemed", n)
	return n, nil
}
