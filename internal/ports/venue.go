package ports

import (
	"context"

	"github.com/jcortes/mirrorbot/internal/domain"
)

// PlaceOrderRequest is sent to the order-matching venue.
type PlaceOrderRequest struct {
	MarketID  string
	OutcomeID string
	Side      string // BUY / SELL
	Price     float64
	Size      float64 // USDC notional
}

// PlacedOrder is the venue's acknowledgement of a placement.
type PlacedOrder struct {
	VenueOrderID string
	Status       string
}

// OrderStatusReport is the venue's current view of an order.
type OrderStatusReport struct {
	Status        string // OPEN | PARTIAL | MATCHED | CANCELLED | EXPIRED
	ExecutedPrice float64
	ExecutedSize  float64 // USDC notional matched so far
}

// VenueClient places, cancels, and monitors orders on the external
// order-matching venue, and reads market resolutions. Implementations wrap
// retryable failures in domain.ErrVenueTransient.
type VenueClient interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlacedOrder, error)
	GetOrderStatus(ctx context.Context, venueOrderID string) (OrderStatusReport, error)
	CancelOrder(ctx context.Context, venueOrderID string) error
	GetMarketResolution(ctx context.Context, marketID string) (domain.MarketResolution, error)
}
