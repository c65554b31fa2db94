package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcortes/mirrorbot/internal/adapters/storage"
	"github.com/jcortes/mirrorbot/internal/application/ledger"
	"github.com/jcortes/mirrorbot/internal/application/riskgate"
	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/ports"
)

// fakeVenue is a scripted stand-in for the order-matching venue.
type fakeVenue struct {
	placeErr error
	placed   []ports.PlaceOrderRequest
	statuses map[string]ports.OrderStatusReport
}

func (f *fakeVenue) PlaceOrder(_ context.Context, req ports.PlaceOrderRequest) (ports.PlacedOrder, error) {
	if f.placeErr != nil {
		return ports.PlacedOrder{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return ports.PlacedOrder{
		VenueOrderID: fmt.Sprintf("venue-%d", len(f.placed)),
		Status:       "OPEN",
	}, nil
}

func (f *fakeVenue) GetOrderStatus(_ context.Context, venueOrderID string) (ports.OrderStatusReport, error) {
	if r, ok := f.statuses[venueOrderID]; ok {
		return r, nil
	}
	return ports.OrderStatusReport{Status: "OPEN"}, nil
}

func (f *fakeVenue) CancelOrder(context.Context, string) error { return nil }

func (f *fakeVenue) GetMarketResolution(_ context.Context, marketID string) (domain.MarketResolution, error) {
	return domain.MarketResolution{MarketID: marketID}, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *storage.SQLiteStore, *fakeVenue) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	venue := &fakeVenue{statuses: map[string]ports.OrderStatusReport{}}
	led := ledger.New(store, ledger.Config{CASRetries: 3, CooldownPeriod: 30 * time.Minute})
	p := New(store, venue, led, riskgate.New(), Config{MinSyncAge: 30 * time.Second})
	return p, store, venue
}

func seedWorld(t *testing.T, store *storage.SQLiteStore, strategyID string, available float64) (domain.Strategy, domain.Signal) {
	t.Helper()
	ctx := context.Background()

	st := domain.Strategy{
		ID:             strategyID,
		UserID:         "u1",
		BotID:          "b1",
		Active:         true,
		Pools:          domain.CapitalPools{Available: available},
		InitialCapital: available,
		PeakEquity:     available,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.InsertStrategy(ctx, st))

	require.NoError(t, store.UpsertBotConfig(ctx, domain.BotConfig{
		BotID:       "b1",
		MinEdge:     0.02,
		PriceBandLo: 0.05,
		PriceBandHi: 0.95,
	}))

	sig := domain.Signal{
		ID:        "sig1",
		BotID:     "b1",
		MarketID:  "m1",
		OutcomeID: "yes",
		Side:      "BUY",
		Price:     0.40,
		Size:      40,
		Edge:      0.05,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.InsertSignal(ctx, sig))
	return st, sig
}

func TestExecuteBatch_PlacesOrderAndConsumesSignal(t *testing.T) {
	p, store, venue := newTestPipeline(t)
	st, sig := seedWorld(t, store, "s1", 100)
	ctx := context.Background()

	placed, err := p.ExecuteBatch(ctx, []domain.Strategy{st}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, placed)
	require.Len(t, venue.placed, 1)
	assert.InDelta(t, 40.0, venue.placed[0].Size, 1e-9)

	// Capital moved into locked.
	got, err := store.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 60.0, got.Pools.Available, 1e-9)
	assert.InDelta(t, 40.0, got.Pools.Locked, 1e-9)

	// Order recorded as PENDING, keyed to the signal.
	orders, err := store.ListOrdersByStrategy(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusPending, orders[0].Status)
	assert.Equal(t, sig.ID, orders[0].SignalID)
	assert.Equal(t, "venue-1", orders[0].VenueOrderID)

	// Signal consumed.
	pending, err := store.ListPendingSignals(ctx, "b1", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExecuteBatch_FansOutToAllSubscribers(t *testing.T) {
	p, store, venue := newTestPipeline(t)
	st1, _ := seedWorld(t, store, "s1", 100)
	ctx := context.Background()

	st2 := st1
	st2.ID = "s2"
	st2.UserID = "u2"
	require.NoError(t, store.InsertStrategy(ctx, st2))

	placed, err := p.ExecuteBatch(ctx, []domain.Strategy{st1, st2}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, placed)
	assert.Len(t, venue.placed, 2)

	// One order per strategy, both against the same signal.
	for _, id := range []string{"s1", "s2"} {
		orders, err := store.ListOrdersByStrategy(ctx, id)
		require.NoError(t, err)
		require.Len(t, orders, 1, "strategy %s", id)
		assert.Equal(t, "sig1", orders[0].SignalID)
	}
}

func TestExecute_DuplicateSignalIsNoOp(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	st, sig := seedWorld(t, store, "s1", 100)
	ctx := context.Background()

	first, err := p.Execute(ctx, st, sig)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	// Replay from an overlapping tick: no second order, no second reserve.
	again, err := p.Execute(ctx, st, sig)
	require.NoError(t, err)
	assert.Empty(t, again.ID)

	orders, err := store.ListOrdersByStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	got, err := store.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 60.0, got.Pools.Available, 1e-9)
}

func TestExecute_PlacementFailureReleasesReservation(t *testing.T) {
	p, store, venue := newTestPipeline(t)
	st, sig := seedWorld(t, store, "s1", 100)
	venue.placeErr = errors.New("invalid order")
	ctx := context.Background()

	_, err := p.Execute(ctx, st, sig)
	assert.ErrorIs(t, err, domain.ErrPlacementFailed)

	// Compensating release: no capital stays locked, no order row.
	got, err := store.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got.Pools.Available, 1e-9)
	assert.InDelta(t, 0.0, got.Pools.Locked, 1e-9)
	assert.InDelta(t, 0.0, got.DailySpent, 1e-9)

	orders, err := store.ListOrdersByStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestExecuteBatch_TransientFailureDefersSignal(t *testing.T) {
	p, store, venue := newTestPipeline(t)
	st, _ := seedWorld(t, store, "s1", 100)
	venue.placeErr = fmt.Errorf("status 503: %w", domain.ErrVenueTransient)
	ctx := context.Background()

	placed, err := p.ExecuteBatch(ctx, []domain.Strategy{st}, 0)
	require.NoError(t, err)
	assert.Zero(t, placed)

	// Signal stays pending for the next tick.
	pending, err := store.ListPendingSignals(ctx, "b1", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestExecuteBatch_GateRejectionConsumesSignal(t *testing.T) {
	p, store, venue := newTestPipeline(t)
	st, _ := seedWorld(t, store, "s1", 100)
	ctx := context.Background()

	// Edge below the bot minimum: rejected, consumed, never retried.
	require.NoError(t, store.InsertSignal(ctx, domain.Signal{
		ID: "sig-weak", BotID: "b1", MarketID: "m2", OutcomeID: "yes",
		Side: "BUY", Price: 0.50, Size: 10, Edge: 0.001,
		CreatedAt: time.Now().UTC(),
	}))

	placed, err := p.ExecuteBatch(ctx, []domain.Strategy{st}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, placed)
	assert.Len(t, venue.placed, 1)

	pending, err := store.ListPendingSignals(ctx, "b1", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExecute_ShadowModeRecordsDecisionOnly(t *testing.T) {
	p, store, venue := newTestPipeline(t)
	st, sig := seedWorld(t, store, "s1", 100)
	ctx := context.Background()

	st.ShadowMode = true
	require.NoError(t, store.UpdateStrategy(ctx, st))
	st.Version++

	order, err := p.Execute(ctx, st, sig)
	require.NoError(t, err)
	assert.Empty(t, order.ID)
	assert.Empty(t, venue.placed)

	// No capital moved, no order row, one shadow decision.
	got, err := store.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got.Pools.Available, 1e-9)

	orders, err := store.ListOrdersByStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, orders)

	decisions, err := store.ListShadowDecisions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.InDelta(t, 40.0, decisions[0].SizedAmount, 1e-9)
}

func TestExecute_SlippageCapsLimitPrice(t *testing.T) {
	p, store, venue := newTestPipeline(t)
	st, sig := seedWorld(t, store, "s1", 100)
	ctx := context.Background()

	st.SlippageTolerancePct = 5
	require.NoError(t, store.UpdateStrategy(ctx, st))
	st.Version++

	_, err := p.Execute(ctx, st, sig)
	require.NoError(t, err)
	require.Len(t, venue.placed, 1)
	assert.InDelta(t, 0.42, venue.placed[0].Price, 1e-9)
}

// conflictingStore conflicts a scripted number of strategy writes after an
// optional run of successes, then heals and delegates.
type conflictingStore struct {
	ports.Store
	skip     int
	failures int
}

func (c *conflictingStore) UpdateStrategy(ctx context.Context, st domain.Strategy) error {
	if c.skip > 0 {
		c.skip--
	} else if c.failures > 0 {
		c.failures--
		return domain.ErrConcurrentModification
	}
	return c.Store.UpdateStrategy(ctx, st)
}

func newFlakyPipeline(t *testing.T) (*Pipeline, *storage.SQLiteStore, *conflictingStore, *fakeVenue) {
	t.Helper()
	base, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })

	flaky := &conflictingStore{Store: base}
	venue := &fakeVenue{statuses: map[string]ports.OrderStatusReport{}}
	led := ledger.New(flaky, ledger.Config{CASRetries: 3, CooldownPeriod: 30 * time.Minute})
	p := New(flaky, venue, led, riskgate.New(), Config{MinSyncAge: 30 * time.Second})
	return p, base, flaky, venue
}

func TestExecute_CompensatingReleaseRetriesInPlace(t *testing.T) {
	p, base, flaky, venue := newFlakyPipeline(t)
	st, sig := seedWorld(t, base, "s1", 100)
	venue.placeErr = fmt.Errorf("status 503: %w", domain.ErrVenueTransient)
	ctx := context.Background()

	// The reservation commits, placement fails, and the first release
	// attempt exhausts its conflict retries. No order row exists, so
	// nothing else would ever give the $40 back.
	flaky.skip = 1
	flaky.failures = 3
	_, err := p.Execute(ctx, st, sig)
	assert.ErrorIs(t, err, domain.ErrPlacementFailed)

	got, err := base.GetStrategy(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got.Pools.Available, 1e-9)
	assert.InDelta(t, 0.0, got.Pools.Locked, 1e-9)
	assert.InDelta(t, 0.0, got.DailySpent, 1e-9)
}
