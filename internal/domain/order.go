package domain

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle state of a placed order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusFilled          OrderStatus = "FILLED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRedeemed        OrderStatus = "REDEEMED"
)

// orderTransitions is the explicit lifecycle table. Any transition not
// listed here is rejected; terminal states have no entries at all.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusFilled, StatusPartiallyFilled, StatusCancelled, StatusExpired},
	StatusPartiallyFilled: {StatusFilled, StatusCancelled, StatusExpired, StatusRedeemed},
	StatusFilled:          {StatusRedeemed},
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusRedeemed:
		return true
	}
	return false
}

// CanTransition reports whether s → to is in the lifecycle table.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, t := range orderTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// OrderOutcome is set at redemption time.
type OrderOutcome string

const (
	OutcomeWon  OrderOutcome = "WON"
	OutcomeLost OrderOutcome = "LOST"
	OutcomeVoid OrderOutcome = "VOID"
)

// Order is one placed trade attempt. SignalSize is the notional reserved
// from the strategy's available cash at placement; ExecutedSize is the
// filled notional at cost, never exceeding the reservation.
type Order struct {
	ID         string // local uuid
	StrategyID string
	SignalID   string // idempotence key: one order per (strategy, signal)

	MarketID  string
	OutcomeID string
	Side      string // BUY / SELL

	SignalPrice float64
	SignalSize  float64 // USDC notional reserved

	ExecutedPrice float64 // 0 until first fill
	ExecutedSize  float64 // USDC notional filled so far

	VenueOrderID string
	Status       OrderStatus
	Outcome      OrderOutcome // set at redemption

	PlacedAt   time.Time
	FilledAt   *time.Time
	RedeemedAt *time.Time
}

// Transition moves the order to a new status, rejecting anything outside
// the lifecycle table.
func (o *Order) Transition(to OrderStatus) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.Status, to, ErrInvalidTransition)
	}
	o.Status = to
	return nil
}

// UnfilledSize is the part of the reservation not matched by the venue.
func (o Order) UnfilledSize() float64 {
	rem := o.SignalSize - o.ExecutedSize
	if rem < 0 {
		return 0
	}
	return rem
}

// Shares converts the filled notional into outcome shares at the executed
// price. Each share redeems at 1.00 when the order's outcome wins.
func (o Order) Shares() float64 {
	if o.ExecutedPrice <= 0 {
		return 0
	}
	return o.ExecutedSize / o.ExecutedPrice
}

// ProceedsFor computes the redemption value of the filled portion:
// full share notional for WON, the paid cost back for VOID, zero for LOST.
func (o Order) ProceedsFor(outcome OrderOutcome) float64 {
	switch outcome {
	case OutcomeWon:
		return o.Shares()
	case OutcomeVoid:
		return o.ExecutedSize
	default:
		return 0
	}
}

// RealizedPnL is emitted to the circuit breaker evaluator when an order is
// redeemed: proceeds minus the filled notional at cost.
type RealizedPnL struct {
	StrategyID string
	OrderID    string
	Outcome    OrderOutcome
	PnL        float64
	At         time.Time
}
