package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"btc-feature-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultTickerURL  = "https://api.binance.com/api/v3/ticker/price"
	DefaultSymbol     = "BTCUSDT"
	DefaultPriceField = "price"

	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultBackoffMult  = 2.0
	DefaultRateInterval = 250 * time.Millisecond
)

// TickerClient fetches spot prices from an exchange HTTP ticker endpoint.
// Exchange specifics (URL, symbol, response field) are configuration, so
// any exchange exposing a JSON ticker can be polled without code changes.
type TickerClient struct {
	url        string
	symbol     string
	priceField string
	source     string

	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	now         func() time.Time
}

// ClientOption configures TickerClient.
type ClientOption func(*TickerClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *TickerClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *TickerClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *TickerClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *TickerClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *TickerClient) {
		c.client = client
	}
}

// WithPriceField sets the JSON field carrying the price.
func WithPriceField(field string) ClientOption {
	return func(c *TickerClient) {
		c.priceField = field
	}
}

// WithSource sets the source label stamped on observations.
func WithSource(source string) ClientOption {
	return func(c *TickerClient) {
		c.source = source
	}
}

// WithRateInterval sets the minimum interval between requests.
func WithRateInterval(d time.Duration) ClientOption {
	return func(c *TickerClient) {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithClock sets the clock used to stamp observation times.
func WithClock(now func() time.Time) ClientOption {
	return func(c *TickerClient) {
		c.now = now
	}
}

// NewTickerClient creates a ticker client for the given endpoint and symbol.
// Empty url or symbol fall back to the Binance spot ticker defaults.
func NewTickerClient(tickerURL, symbol string, opts ...ClientOption) *TickerClient {
	c := &TickerClient{
		url:         tickerURL,
		symbol:      symbol,
		priceField:  DefaultPriceField,
		source:      domain.SourceBinance,
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Every(DefaultRateInterval), 1),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		now:         time.Now,
	}
	if c.url == "" {
		c.url = DefaultTickerURL
	}
	if c.symbol == "" {
		c.symbol = DefaultSymbol
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPrice requests the current price and stamps it with the local
// observation time. Transient failures are retried with exponential backoff.
func (c *TickerClient) FetchPrice(ctx context.Context) (*domain.PriceObservation, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		price, err := c.fetchOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		return &domain.PriceObservation{
			TimestampMs: c.now().UnixMilli(),
			Price:       price,
			Source:      c.source,
		}, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// fetchOnce performs a single rate-limited GET against the ticker endpoint.
func (c *TickerClient) fetchOnce(ctx context.Context) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, fmt.Errorf("rate limited (429)")
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}

	raw, ok := fields[c.priceField]
	if !ok {
		return 0, fmt.Errorf("response missing field %q", c.priceField)
	}

	price, err := parsePriceValue(raw)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price %v", price)
	}

	return price, nil
}

// requestURL appends the symbol query parameter to the configured endpoint.
func (c *TickerClient) requestURL() string {
	if c.symbol == "" {
		return c.url
	}
	sep := "?"
	if strings.Contains(c.url, "?") {
		sep = "&"
	}
	return c.url + sep + "symbol=" + url.QueryEscape(c.symbol)
}

// parsePriceValue accepts both string-encoded and numeric JSON prices.
// Binance encodes prices as strings ("67312.45"); other tickers use numbers.
func parsePriceValue(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse price %q: %w", s, err)
		}
		return v, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("parse price: %w", err)
	}
	return v, nil
}
