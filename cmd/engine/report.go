package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/jcortes/mirrorbot/internal/adapters/storage"
	"github.com/jcortes/mirrorbot/internal/domain"
)

// runReport prints the operator's view: every strategy's capital pools and
// breaker state, recent redemptions, and the daily PnL breakdown.
func runReport(ctx context.Context, store *storage.SQLiteStore) {
	strategies, err := store.ListStrategies(ctx)
	if err != nil {
		slog.Error("report: failed to list strategies", "err", err)
		os.Exit(1)
	}
	if len(strategies) == 0 {
		fmt.Println("no strategies found")
		return
	}

	fmt.Printf("\n── STRATEGIES (%d) ──\n\n", len(strategies))
	st := tablewriter.NewWriter(os.Stdout)
	st.Header("ID", "Bot", "Available", "Locked", "Cooldown", "Equity", "DD%", "Spent today", "Losses", "State")
	for _, s := range strategies {
		st.Append(
			shortID(s.ID),
			s.BotID,
			fmt.Sprintf("$%.2f", s.Pools.Available),
			fmt.Sprintf("$%.2f", s.Pools.Locked),
			fmt.Sprintf("$%.2f", s.Pools.Cooldown),
			fmt.Sprintf("$%.2f", s.Pools.Equity()),
			fmt.Sprintf("%.1f", s.DrawdownPct()*100),
			fmt.Sprintf("$%.2f", s.DailySpent),
			fmt.Sprintf("%d", s.ConsecutiveLosses),
			strategyState(s),
		)
	}
	st.Render()

	fmt.Printf("\n── RECENT REDEMPTIONS ──\n\n")
	rt := tablewriter.NewWriter(os.Stdout)
	rt.Header("Order", "Strategy", "Market", "Outcome", "Filled", "Redeemed at")
	redemptions := 0
	for _, s := range strategies {
		orders, err := store.ListOrdersByStrategy(ctx, s.ID)
		if err != nil {
			slog.Warn("report: orders unavailable", "strategy", s.ID, "err", err)
			continue
		}
		for _, o := range orders {
			if o.Status != domain.StatusRedeemed || o.RedeemedAt == nil {
				continue
			}
			rt.Append(
				shortID(o.ID),
				shortID(o.StrategyID),
				o.MarketID,
				string(o.Outcome),
				fmt.Sprintf("$%.2f", o.ExecutedSize),
				o.RedeemedAt.Format("2006-01-02 15:04"),
			)
			redemptions++
		}
	}
	if redemptions > 0 {
		rt.Render()
	} else {
		fmt.Println("  (none)")
	}

	fmt.Printf("\n── SHADOW DECISIONS ──\n\n")
	sh := tablewriter.NewWriter(os.Stdout)
	sh.Header("Strategy", "Market", "Side", "Price", "Size", "When")
	shadows := 0
	for _, s := range strategies {
		if !s.ShadowMode {
			continue
		}
		decisions, err := store.ListShadowDecisions(ctx, s.ID)
		if err != nil {
			slog.Warn("report: shadow decisions unavailable", "strategy", s.ID, "err", err)
			continue
		}
		for _, d := range decisions {
			sh.Append(
				shortID(d.StrategyID),
				d.MarketID,
				d.Side,
				fmt.Sprintf("%.2f", d.SignalPrice),
				fmt.Sprintf("$%.2f", d.SizedAmount),
				d.CreatedAt.Format("2006-01-02 15:04"),
			)
			shadows++
		}
	}
	if shadows > 0 {
		sh.Render()
	} else {
		fmt.Println("  (none)")
	}

	fmt.Printf("\n── DAILY BREAKDOWN ──\n\n")
	printed := false
	for _, s := range strategies {
		daily, err := store.ListDailySummaries(ctx, s.ID)
		if err != nil || len(daily) == 0 {
			continue
		}
		if !printed {
			fmt.Printf("  %-10s %-12s %8s %8s %10s %10s\n",
				"Strategy", "Date", "Orders", "Redeems", "PnL", "Equity")
			printed = true
		}
		for _, d := range daily {
			fmt.Printf("  %-10s %-12s %8d %8d $%9.2f $%9.2f\n",
				shortID(d.StrategyID), d.Date.Format("2006-01-02"), d.OrdersPlaced, d.Redemptions, d.RealizedPnL, d.Equity)
		}
	}
	if !printed {
		fmt.Println("  (none)")
	}
	fmt.Println()
}

func strategyState(s domain.Strategy) string {
	switch {
	case s.BreakerPaused:
		return "CIRCUIT_BROKEN"
	case s.PausedByUser:
		return "PAUSED"
	case s.ShadowMode:
		return "SHADOW"
	case !s.Active:
		return "INACTIVE"
	default:
		return "ACTIVE"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
