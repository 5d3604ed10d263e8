package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// NativeMint is the wrapped SOL mint, used as the reference asset.
const NativeMint = "So11111111111111111111111111111111111111112"

var (
	// ErrRateLimited indicates the upstream returned HTTP 429. Treated as a
	// transient provider failure, never escalated to callers.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrNotFound indicates the provider holds no data for the asset.
	ErrNotFound = errors.New("asset not found on provider")
)

// Quote is the normalized price shape returned by all price providers.
type Quote struct {
	Mint       string          `json:"mint"`
	PriceUSD   decimal.Decimal `json:"price_usd"`
	Source     string          `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Listing is the normalized feed entry shape returned by listing providers.
// Zero-valued metric fields mean the provider did not report that field.
type Listing struct {
	Mint           string          `json:"mint"`
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	LogoURI        string          `json:"logo_uri"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	Volume24h      float64         `json:"volume_24h"`
	MarketCap      float64         `json:"market_cap"`
	Liquidity      float64         `json:"liquidity"`
	PriceChange24h float64         `json:"price_change_24h"`
	CreatedAt      time.Time       `json:"created_at"`
	ObservedAt     time.Time       `json:"observed_at"`
	Source         string          `json:"source"`
}

// PriceProvider returns a spot USD price for a single asset.
type PriceProvider interface {
	Name() string
	FetchPrice(ctx context.Context, mint string) (*Quote, error)
}

// ListingProvider returns its current view of tradable token listings.
type ListingProvider interface {
	Name() string
	FetchListings(ctx context.Context) ([]Listing, error)
}

// getJSON performs a GET against url and decodes the JSON body into out.
// HTTP 429 maps to ErrRateLimited so callers can classify it as transient.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
