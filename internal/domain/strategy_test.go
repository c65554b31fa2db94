package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStrategy(available float64) Strategy {
	return Strategy{
		ID:             "s1",
		UserID:         "u1",
		BotID:          "b1",
		Active:         true,
		Pools:          CapitalPools{Available: available},
		InitialCapital: available,
		PeakEquity:     available,
		DailyBudget:    0,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCapitalPools_Equity(t *testing.T) {
	p := CapitalPools{Available: 60, Locked: 25, Cooldown: 15}
	assert.InDelta(t, 100.0, p.Equity(), 1e-9)
	assert.True(t, p.Valid())

	p.Available = -1
	assert.False(t, p.Valid())
}

func TestStrategy_Reserve_MovesPoolsAndChargesBudget(t *testing.T) {
	st := newTestStrategy(100)
	st.DailyBudget = 50
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	st, err := st.Reserve(40, now)
	require.NoError(t, err)

	assert.InDelta(t, 60.0, st.Pools.Available, 1e-9)
	assert.InDelta(t, 40.0, st.Pools.Locked, 1e-9)
	assert.InDelta(t, 40.0, st.DailySpent, 1e-9)
	assert.Equal(t, "2026-03-10", st.SpentDay)
	assert.InDelta(t, 100.0, st.Equity(), 1e-9)
}

func TestStrategy_Reserve_InsufficientFunds(t *testing.T) {
	st := newTestStrategy(30)
	_, err := st.Reserve(31, time.Now())
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestStrategy_Reserve_DailyBudget(t *testing.T) {
	st := newTestStrategy(100)
	st.DailyBudget = 50
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	st, err := st.Reserve(40, now)
	require.NoError(t, err)

	// 40 spent of 50: a further 20 breaks the budget even with cash left.
	_, err = st.Reserve(20, now)
	assert.ErrorIs(t, err, ErrDailyBudgetExceeded)

	// 10 still fits.
	st, err = st.Reserve(10, now)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, st.DailySpent, 1e-9)
}

func TestStrategy_Reserve_LazyDailyReset(t *testing.T) {
	st := newTestStrategy(100)
	st.DailyBudget = 50

	day1 := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	st, err := st.Reserve(50, day1)
	require.NoError(t, err)

	_, err = st.Reserve(10, day1)
	require.ErrorIs(t, err, ErrDailyBudgetExceeded)

	// First reservation after the UTC midnight boundary resets the counter.
	day2 := time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC)
	st, err = st.Reserve(10, day2)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, st.DailySpent, 1e-9)
	assert.Equal(t, "2026-03-11", st.SpentDay)
}

func TestStrategy_Release_RefundsSameDayOnly(t *testing.T) {
	reservedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	st := newTestStrategy(100)
	st, err := st.Reserve(40, reservedAt)
	require.NoError(t, err)

	// Same day: daily spend refunded.
	sameDay, err := st.Release(40, reservedAt, reservedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, sameDay.Pools.Available, 1e-9)
	assert.InDelta(t, 0.0, sameDay.Pools.Locked, 1e-9)
	assert.InDelta(t, 0.0, sameDay.DailySpent, 1e-9)

	// Next day: pools move back but yesterday's spend stands.
	nextDay, err := st.Release(40, reservedAt, reservedAt.Add(24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, nextDay.Pools.Available, 1e-9)
	assert.InDelta(t, 40.0, nextDay.DailySpent, 1e-9)
}

func TestStrategy_Release_MoreThanLocked(t *testing.T) {
	st := newTestStrategy(100)
	st, err := st.Reserve(10, time.Now())
	require.NoError(t, err)

	_, err = st.Release(20, time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestStrategy_Settle_WinParksProceedsInCooldown(t *testing.T) {
	now := time.Now().UTC()
	maturesAt := now.Add(30 * time.Minute)

	st := newTestStrategy(100)
	st, err := st.Reserve(40, now)
	require.NoError(t, err)

	st, err = st.Settle(40, 55, maturesAt)
	require.NoError(t, err)

	assert.InDelta(t, 60.0, st.Pools.Available, 1e-9)
	assert.InDelta(t, 0.0, st.Pools.Locked, 1e-9)
	assert.InDelta(t, 55.0, st.Pools.Cooldown, 1e-9)
	assert.InDelta(t, 115.0, st.Equity(), 1e-9)
	require.NotNil(t, st.CooldownMaturesAt)
	assert.Equal(t, maturesAt, *st.CooldownMaturesAt)
	assert.InDelta(t, 115.0, st.PeakEquity, 1e-9)
}

func TestStrategy_Settle_TotalLoss(t *testing.T) {
	now := time.Now().UTC()

	st := newTestStrategy(100)
	st, err := st.Reserve(40, now)
	require.NoError(t, err)

	st, err = st.Settle(40, 0, now)
	require.NoError(t, err)

	assert.InDelta(t, 60.0, st.Equity(), 1e-9)
	assert.Nil(t, st.CooldownMaturesAt)
	// Peak keeps the high-water mark.
	assert.InDelta(t, 100.0, st.PeakEquity, 1e-9)
	assert.InDelta(t, 0.4, st.DrawdownPct(), 1e-9)
}

func TestStrategy_MatureCooldown(t *testing.T) {
	now := time.Now().UTC()
	maturesAt := now.Add(30 * time.Minute)

	st := newTestStrategy(100)
	st, err := st.Reserve(40, now)
	require.NoError(t, err)
	st, err = st.Settle(40, 55, maturesAt)
	require.NoError(t, err)

	// Too early: no change.
	_, changed := st.MatureCooldown(now.Add(10 * time.Minute))
	assert.False(t, changed)

	st, changed = st.MatureCooldown(maturesAt.Add(time.Second))
	require.True(t, changed)
	assert.InDelta(t, 115.0, st.Pools.Available, 1e-9)
	assert.InDelta(t, 0.0, st.Pools.Cooldown, 1e-9)
	assert.Nil(t, st.CooldownMaturesAt)

	// Nothing left: idempotent.
	_, changed = st.MatureCooldown(maturesAt.Add(time.Hour))
	assert.False(t, changed)
}

func TestStrategy_Eligible(t *testing.T) {
	st := newTestStrategy(100)
	assert.True(t, st.Eligible())

	paused := st
	paused.PausedByUser = true
	assert.False(t, paused.Eligible())

	broken := st
	broken.BreakerPaused = true
	assert.False(t, broken.Eligible())

	inactive := st
	inactive.Active = false
	assert.False(t, inactive.Eligible())
}
