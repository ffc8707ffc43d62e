package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoAPIKey is returned when quotes are requested without a provider key
var ErrNoAPIKey = errors.New("no quote provider API key configured")

// QuoteSource fetches the current price of a symbol
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (float64, error)
}

// FinnhubQuotes fetches prices from a Finnhub-compatible /quote endpoint
type FinnhubQuotes struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewFinnhubQuotes creates a quote source for baseURL
func NewFinnhubQuotes(baseURL, apiKey string, timeout time.Duration) *FinnhubQuotes {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FinnhubQuotes{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Quote returns the current price ("c") of symbol. The provider answers 0 for
// symbols it does not know; that value is returned as-is.
func (q *FinnhubQuotes) Quote(ctx context.Context, symbol string) (float64, error) {
	if q.apiKey == "" {
		return 0, ErrNoAPIKey
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", q.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("quote request for %s failed: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote provider returned status %d for %s", resp.StatusCode, symbol)
	}

	var body struct {
		Current *float64 `json:"c"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode quote for %s: %w", symbol, err)
	}
	if body.Current == nil {
		return 0, nil
	}
	return *body.Current, nil
}
