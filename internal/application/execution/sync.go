package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcortes/mirrorbot/internal/domain"
)

// venueStatusMap translates the venue's status strings into the local
// lifecycle. OPEN is absent on purpose: an open order has nothing to sync.
var venueStatusMap = map[string]domain.OrderStatus{
	"PARTIAL":   domain.StatusPartiallyFilled,
	"MATCHED":   domain.StatusFilled,
	"CANCELLED": domain.StatusCancelled,
	"EXPIRED":   domain.StatusExpired,
}

// SyncStatus reconciles every open order old enough to be worth polling
// against the venue's view. Each order is handled independently; a venue
// failure on one order is logged and the sweep moves on.
func (p *Pipeline) SyncStatus(ctx context.Context) (synced int, err error) {
	cutoff := p.now().UTC().Add(-p.cfg.MinSyncAge)
	open, err := p.store.ListOpenOrders(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("execution.SyncStatus: list open: %w", err)
	}

	touched := make(map[string]struct{})
	for _, o := range open {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := p.syncOne(ctx, o); err != nil {
			slog.Warn("exec: sync failed", "order", o.ID, "venue_id", o.VenueOrderID, "err", err)
			continue
		}
		synced++
		touched[o.StrategyID] = struct{}{}
	}

	now := p.now().UTC()
	for id := range touched {
		if err := p.store.TouchStrategySync(ctx, id, now); err != nil {
			slog.Warn("exec: sync stamp failed", "strategy", id, "err", err)
		}
	}
	return synced, nil
}

func (p *Pipeline) syncOne(ctx context.Context, o domain.Order) error {
	report, err := p.venue.GetOrderStatus(ctx, o.VenueOrderID)
	if err != nil {
		return fmt.Errorf("venue status: %w", err)
	}

	next, ok := venueStatusMap[report.Status]
	if !ok {
		// OPEN or an unknown status: leave the order as it is.
		return nil
	}

	prev := o
	o.ExecutedPrice = report.ExecutedPrice
	o.ExecutedSize = report.ExecutedSize

	// A cancelled or expired order that already matched keeps its fill:
	// locally it stays PARTIALLY_FILLED so redemption can settle the filled
	// notional, and only the dead remainder is given back.
	release := 0.0
	if next == domain.StatusCancelled || next == domain.StatusExpired {
		release = o.UnfilledSize()
		if o.ExecutedSize > 0 {
			next = domain.StatusPartiallyFilled
			// Shrink the reservation to the fill so redemption does not
			// release the remainder a second time.
			o.SignalSize = o.ExecutedSize
		}
	}

	if next != o.Status {
		if err := o.Transition(next); err != nil {
			return err
		}
	}
	if (next == domain.StatusFilled || next == domain.StatusPartiallyFilled) && o.FilledAt == nil {
		t := p.now().UTC()
		o.FilledAt = &t
	}

	updated, err := p.store.UpdateOrderSync(ctx, o)
	if err != nil {
		return fmt.Errorf("save sync: %w", err)
	}
	if !updated {
		// Another sweep already moved the order past us.
		return nil
	}

	slog.Info("exec: order synced",
		"order", o.ID,
		"status", string(o.Status),
		"executed", fmt.Sprintf("$%.2f", o.ExecutedSize),
	)

	if release > 0 {
		if _, err := p.ledger.Release(ctx, o.StrategyID, release, o.PlacedAt); err != nil {
			// Put the row back so the next sweep retries; committing the
			// sync without the release would strand the reservation in
			// locked capital.
			if ok, revErr := p.store.RevertOrderSync(ctx, prev, o.Status); revErr != nil {
				slog.Error("exec: sync revert failed", "order", o.ID, "err", revErr)
			} else if !ok {
				slog.Error("exec: sync revert lost the guard", "order", o.ID)
			}
			return fmt.Errorf("release unfilled: %w", err)
		}
	}
	return nil
}
