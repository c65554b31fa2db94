package venue_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcortes/mirrorbot/internal/adapters/venue"
	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/ports"
)

func TestPlaceOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "m1", body["market_id"])
		assert.Equal(t, "BUY", body["side"])
		assert.InDelta(t, 0.42, body["price"].(float64), 1e-9)

		json.NewEncoder(w).Encode(map[string]string{
			"order_id": "v-123", "status": "OPEN",
		})
	}))
	defer srv.Close()

	c := venue.NewClient(srv.URL, "test-key")
	placed, err := c.PlaceOrder(context.Background(), ports.PlaceOrderRequest{
		MarketID: "m1", OutcomeID: "yes", Side: "BUY", Price: 0.42, Size: 40,
	})

	require.NoError(t, err)
	assert.Equal(t, "v-123", placed.VenueOrderID)
	assert.Equal(t, "OPEN", placed.Status)
}

func TestPlaceOrder_RejectionIsTerminal(t *testing.T) {
	calls := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"invalid price"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := venue.NewClient(srv.URL, "")
	_, err := c.PlaceOrder(context.Background(), ports.PlaceOrderRequest{MarketID: "m1"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrVenueTransient)
	// 4xx is not retried.
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGetOrderStatus_RetriesThenSucceeds(t *testing.T) {
	calls := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status": "partial", "executed_price": "0.40", "executed_size": "25.5",
		})
	}))
	defer srv.Close()

	c := venue.NewClient(srv.URL, "")
	report, err := c.GetOrderStatus(context.Background(), "v-123")

	require.NoError(t, err)
	assert.Equal(t, "PARTIAL", report.Status)
	assert.InDelta(t, 0.40, report.ExecutedPrice, 1e-9)
	assert.InDelta(t, 25.5, report.ExecutedSize, 1e-9)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGetOrderStatus_ExhaustedRetriesAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := venue.NewClient(srv.URL, "")
	_, err := c.GetOrderStatus(context.Background(), "v-123")

	assert.ErrorIs(t, err, domain.ErrVenueTransient)
}

func TestGetMarketResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/m1/resolution", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"resolved": true, "voided": false, "winning_outcome": "yes",
		})
	}))
	defer srv.Close()

	c := venue.NewClient(srv.URL, "")
	res, err := c.GetMarketResolution(context.Background(), "m1")

	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.False(t, res.Voided)
	assert.Equal(t, "yes", res.WinningOutcome)
	assert.Equal(t, "m1", res.MarketID)
}

func TestCancelOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/orders/v-123", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := venue.NewClient(srv.URL, "")
	assert.NoError(t, c.CancelOrder(context.Background(), "v-123"))
}

func TestGetOrderStatus_MalformedAmountIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"status": "partial", "executed_price": "0.40", "executed_size": "n/a",
		})
	}))
	defer srv.Close()

	c := venue.NewClient(srv.URL, "")
	_, err := c.GetOrderStatus(context.Background(), "v-123")

	// A garbled amount must never be recorded as a $0 fill.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "n/a")
}
