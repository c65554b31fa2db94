package domain

import "time"

// Signal is an externally computed trade recommendation for a bot: buy a
// specific outcome at a suggested price and notional size. The engine never
// prices markets itself.
type Signal struct {
	ID        string
	BotID     string
	MarketID  string
	OutcomeID string
	Side      string // BUY / SELL
	Price     float64
	Size      float64 // suggested USDC notional
	Edge      float64 // model-estimated expected value vs. price
	CreatedAt time.Time
}

// BotConfig carries the per-bot trading parameters the risk gate consumes.
// Owned by the bot catalog, read-only to this engine.
type BotConfig struct {
	BotID string

	// SizingFraction caps an order at this fraction of strategy equity.
	SizingFraction float64

	// MinEdge is the minimum signal edge required to trade.
	MinEdge float64

	// Acceptable signal price band, inclusive.
	PriceBandLo float64
	PriceBandHi float64

	// MinOrderSize is the minimal tradable unit in USDC.
	MinOrderSize float64
}

// ShadowDecision records an admitted signal for a shadow-mode strategy.
// No order is placed and no capital moves; the row exists for audit and
// backtest comparison against the live book.
type ShadowDecision struct {
	ID          string
	StrategyID  string
	MarketID    string
	OutcomeID   string
	Side        string
	SignalPrice float64
	SizedAmount float64
	CreatedAt   time.Time
}

// DailySummary is the per-strategy daily snapshot written during the
// redemption sweep.
type DailySummary struct {
	StrategyID   string
	Date         time.Time
	OrdersPlaced int
	Redemptions  int
	RealizedPnL  float64
	Equity       float64
}
