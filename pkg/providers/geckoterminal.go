package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GeckoTerminal serves trending Solana pools from the public GeckoTerminal
// API, normalized into listings. Listing only.
type GeckoTerminal struct {
	baseURL    string
	httpClient *http.Client
}

func NewGeckoTerminal(baseURL string, timeout time.Duration) *GeckoTerminal {
	return &GeckoTerminal{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *GeckoTerminal) Name() string { return "geckoterminal" }

type geckoPool struct {
	Attributes struct {
		Name              string `json:"name"`
		BaseTokenPriceUsd string `json:"base_token_price_usd"`
		ReserveInUsd      string `json:"reserve_in_usd"`
		FdvUsd            string `json:"fdv_usd"`
		PoolCreatedAt     string `json:"pool_created_at"`
		VolumeUsd         struct {
			H24 string `json:"h24"`
		} `json:"volume_usd"`
		PriceChangePercentage struct {
			H24 string `json:"h24"`
		} `json:"price_change_percentage"`
	} `json:"attributes"`
	Relationships struct {
		BaseToken struct {
			Data struct {
				// e.g. "solana_<mint>"
				ID string `json:"id"`
			} `json:"data"`
		} `json:"base_token"`
	} `json:"relationships"`
}

type geckoPoolsResponse struct {
	Data []geckoPool `json:"data"`
}

func (g *GeckoTerminal) FetchListings(ctx context.Context) ([]Listing, error) {
	endpoint := g.baseURL + "/api/v2/networks/solana/trending_pools?page=1"

	var resp geckoPoolsResponse
	if err := getJSON(ctx, g.httpClient, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("geckoterminal listings: %w", err)
	}

	now := time.Now()
	seen := map[string]bool{}
	var out []Listing
	for _, pool := range resp.Data {
		mint := strings.TrimPrefix(pool.Relationships.BaseToken.Data.ID, "solana_")
		if mint == "" || seen[mint] {
			continue
		}
		seen[mint] = true

		price, err := decimal.NewFromString(pool.Attributes.BaseTokenPriceUsd)
		if err != nil {
			continue
		}

		// Pool name is "BASE / QUOTE"; the base symbol is all GeckoTerminal
		// gives us without a second request.
		symbol := pool.Attributes.Name
		if idx := strings.Index(symbol, " / "); idx > 0 {
			symbol = symbol[:idx]
		}

		l := Listing{
			Mint:           mint,
			Symbol:         symbol,
			PriceUSD:       price,
			Volume24h:      parseFloat(pool.Attributes.VolumeUsd.H24),
			MarketCap:      parseFloat(pool.Attributes.FdvUsd),
			Liquidity:      parseFloat(pool.Attributes.ReserveInUsd),
			PriceChange24h: parseFloat(pool.Attributes.PriceChangePercentage.H24),
			ObservedAt:     now,
			Source:         g.Name(),
		}
		if ts, err := time.Parse(time.RFC3339, pool.Attributes.PoolCreatedAt); err == nil {
			l.CreatedAt = ts
		}
		out = append(out, l)
	}

	return out, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
