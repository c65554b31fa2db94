package venue

// client.go: HTTP client for the order-matching venue.
//
// Implements ports.VenueClient. All requests are rate-limited and retried
// with exponential backoff; failures that remain after the retry budget are
// wrapped in domain.ErrVenueTransient so pipelines can defer them to the
// next tick. 4xx responses are terminal venue rejections, never retried.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/ports"
)

const (
	// Order endpoints: 100/10s documented, run at 60%.
	ordersRatePerSec = 6
	// Read endpoints (status, resolutions): 500/10s → 30/s.
	readsRatePerSec = 30

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the venue HTTP client with rate limiting and retries.
type Client struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	orderLimiter *rate.Limiter
	readLimiter  *rate.Limiter
}

// NewClient creates a venue client for the given base URL. apiKey is sent
// as a bearer token on every request.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		orderLimiter: rate.NewLimiter(ordersRatePerSec, 5),
		readLimiter:  rate.NewLimiter(readsRatePerSec, 10),
	}
}

type placeOrderBody struct {
	MarketID  string  `json:"market_id"`
	OutcomeID string  `json:"outcome_id"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
}

type placeOrderResponse struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	ErrorMsg string `json:"error_msg"`
}

type orderStatusResponse struct {
	Status        string `json:"status"`
	ExecutedPrice string `json:"executed_price"`
	ExecutedSize  string `json:"executed_size"`
}

type resolutionResponse struct {
	Resolved       bool   `json:"resolved"`
	Voided         bool   `json:"voided"`
	WinningOutcome string `json:"winning_outcome"`
}

// PlaceOrder submits a limit order to the venue.
func (c *Client) PlaceOrder(ctx context.Context, req ports.PlaceOrderRequest) (ports.PlacedOrder, error) {
	body := placeOrderBody{
		MarketID:  req.MarketID,
		OutcomeID: req.OutcomeID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
	}

	var resp placeOrderResponse
	if err := c.post(ctx, c.orderLimiter, "/orders", body, &resp); err != nil {
		return ports.PlacedOrder{}, fmt.Errorf("venue.PlaceOrder: %w", err)
	}
	if resp.ErrorMsg != "" {
		return ports.PlacedOrder{}, fmt.Errorf("venue.PlaceOrder: rejected: %s", resp.ErrorMsg)
	}
	return ports.PlacedOrder{VenueOrderID: resp.OrderID, Status: resp.Status}, nil
}

// GetOrderStatus returns the venue's current view of an order.
func (c *Client) GetOrderStatus(ctx context.Context, venueOrderID string) (ports.OrderStatusReport, error) {
	var resp orderStatusResponse
	if err := c.get(ctx, c.readLimiter, "/orders/"+venueOrderID, &resp); err != nil {
		return ports.OrderStatusReport{}, fmt.Errorf("venue.GetOrderStatus %s: %w", venueOrderID, err)
	}
	price, err := parseAmount(resp.ExecutedPrice)
	if err != nil {
		return ports.OrderStatusReport{}, fmt.Errorf("venue.GetOrderStatus %s: executed price: %w", venueOrderID, err)
	}
	size, err := parseAmount(resp.ExecutedSize)
	if err != nil {
		return ports.OrderStatusReport{}, fmt.Errorf("venue.GetOrderStatus %s: executed size: %w", venueOrderID, err)
	}
	return ports.OrderStatusReport{
		Status:        strings.ToUpper(resp.Status),
		ExecutedPrice: price,
		ExecutedSize:  size,
	}, nil
}

// CancelOrder cancels a resting order by venue ID.
func (c *Client) CancelOrder(ctx context.Context, venueOrderID string) error {
	if err := c.do(ctx, c.orderLimiter, http.MethodDelete, "/orders/"+venueOrderID, nil, nil); err != nil {
		return fmt.Errorf("venue.CancelOrder %s: %w", venueOrderID, err)
	}
	return nil
}

// GetMarketResolution reads the market's terminal verdict, if any.
func (c *Client) GetMarketResolution(ctx context.Context, marketID string) (domain.MarketResolution, error) {
	var resp resolutionResponse
	if err := c.get(ctx, c.readLimiter, "/markets/"+marketID+"/resolution", &resp); err != nil {
		return domain.MarketResolution{}, fmt.Errorf("venue.GetMarketResolution %s: %w", marketID, err)
	}
	return domain.MarketResolution{
		MarketID:       marketID,
		Resolved:       resp.Resolved,
		Voided:         resp.Voided,
		WinningOutcome: resp.WinningOutcome,
	}, nil
}

func (c *Client) get(ctx context.Context, limiter *rate.Limiter, path string, out any) error {
	return c.do(ctx, limiter, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, limiter *rate.Limiter, path string, body, out any) error {
	return c.do(ctx, limiter, http.MethodPost, path, body, out)
}

// do executes one request with rate limiting, bounded retries, and
// exponential backoff. Network errors, 429s, and 5xx responses are
// retried, then surfaced as domain.ErrVenueTransient.
func (c *Client) do(ctx context.Context, limiter *rate.Limiter, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.send(ctx, method, path, body)
		if err != nil {
			lastErr = err
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("venue returned %d", resp.StatusCode)
			if resp.StatusCode == http.StatusTooManyRequests {
				slog.Warn("venue: rate limited", "path", path, "attempt", attempt+1)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("venue rejected %s %s: %d: %s", method, path, resp.StatusCode, string(msg))
		}

		if out == nil {
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%s %s after %d attempts: %v: %w", method, path, maxRetries+1, lastErr, domain.ErrVenueTransient)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}

// sleep waits with exponential backoff, respecting the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q: %w", s, err)
	}
	return f, nil
}
