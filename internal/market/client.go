package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spinroom/roulette-engine/internal/retry"
)

// Quote is an item price in the oracle's currency.
type Quote struct {
	Buy  decimal.Decimal `json:"buy"`
	Sell decimal.Decimal `json:"sell"`
}

// Client talks to the pricing oracle and the FX rate service.
type Client struct {
	oracleURL string
	fxURL     string
	http      *http.Client
}

// NewClient creates a client. Each request is bounded by timeout.
func NewClient(oracleURL, fxURL string, timeout time.Duration) *Client {
	return &Client{
		oracleURL: oracleURL,
		fxURL:     fxURL,
		http:      &http.Client{Timeout: timeout},
	}
}

// Quote fetches the current price of an item. A 404 is permanent; 429 and
// 5xx responses are returned as *retry.StatusError for the caller to retry.
func (c *Client) Quote(ctx context.Context, item string) (Quote, error) {
	u, err := url.Parse(c.oracleURL)
	if err != nil {
		return Quote{}, retry.Permanent(fmt.Errorf("oracle url: %w", err))
	}
	q := u.Query()
	q.Set("item", item)
	u.RawQuery = q.Encode()

	var out Quote
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return Quote{}, err
	}
	if out.Buy.IsNegative() || out.Sell.IsNegative() {
		return Quote{}, retry.Permanent(fmt.Errorf("negative price for %s", item))
	}
	return out, nil
}

type fxResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// Rate fetches the oracle-currency to local-currency exchange rate.
func (c *Client) Rate(ctx context.Context) (decimal.Decimal, error) {
	var out fxResponse
	if err := c.getJSON(ctx, c.fxURL, &out); err != nil {
		return decimal.Zero, err
	}
	if !out.Rate.IsPositive() {
		return decimal.Zero, retry.Permanent(fmt.Errorf("invalid fx rate %s", out.Rate))
	}
	return out.Rate, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(&retry.StatusError{Code: resp.StatusCode})
	case resp.StatusCode != http.StatusOK:
		return &retry.StatusError{Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}
