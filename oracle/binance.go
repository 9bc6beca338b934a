package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

const tickerPricePath = "/api/v3/ticker/price"

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// BinanceClient reads spot prices from the public Binance ticker endpoint.
type BinanceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *lecho.Logger
	attempts   uint64
	delay      time.Duration
}

type BinanceOption = func(client *BinanceClient)

func WithRetry(attempts uint64, delay time.Duration) BinanceOption {
	return func(client *BinanceClient) {
		client.attempts = attempts
		client.delay = delay
	}
}

func WithHTTPClient(httpClient *http.Client) BinanceOption {
	return func(client *BinanceClient) {
		client.httpClient = httpClient
	}
}

func NewBinanceClient(baseURL string, timeout time.Duration, logger *lecho.Logger, options ...BinanceOption) *BinanceClient {
	client := &BinanceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		attempts:   3,
		delay:      500 * time.Millisecond,
	}
	for _, opt := range options {
		opt(client)
	}
	if client.attempts == 0 {
		client.attempts = 1
	}
	return client
}

func (c *BinanceClient) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(currency) + "USDT"
	var price decimal.Decimal
	operation := func() error {
		p, err := c.fetch(ctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), c.attempts-1), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warnf("Binance price request failed symbol:%s retrying in %v: %v", symbol, wait, err)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	}
	return price, nil
}

func (c *BinanceClient) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := c.baseURL + tickerPricePath + "?" + url.Values{"symbol": []string{symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, backoff.Permanent(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		// unknown symbols come back as 400, asking again will not help
		return decimal.Zero, backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	ticker := tickerPrice{}
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Zero, backoff.Permanent(err)
	}
	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, backoff.Permanent(fmt.Errorf("invalid price %q: %w", ticker.Price, err))
	}
	return price, nil
}
