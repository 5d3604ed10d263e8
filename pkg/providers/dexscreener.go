package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// DexScreener serves both spot prices and listings from the public
// DexScreener API. No API key required.
type DexScreener struct {
	baseURL    string
	httpClient *http.Client
}

func NewDexScreener(baseURL string, timeout time.Duration) *DexScreener {
	return &DexScreener{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (d *DexScreener) Name() string { return "dexscreener" }

type dexScreenerPair struct {
	ChainID   string `json:"chainId"`
	PriceUsd  string `json:"priceUsd"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
	MarketCap     float64 `json:"marketCap"`
	Fdv           float64 `json:"fdv"`
	PairCreatedAt int64   `json:"pairCreatedAt"`
	Info          struct {
		ImageURL string `json:"imageUrl"`
	} `json:"info"`
}

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

// FetchPrice returns the price of the pair with the deepest liquidity for
// the given mint. DexScreener lists one pair per pool, so thin pools are
// skipped in favor of the canonical one.
func (d *DexScreener) FetchPrice(ctx context.Context, mint string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, url.PathEscape(mint))

	var resp dexScreenerResponse
	if err := getJSON(ctx, d.httpClient, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("dexscreener price: %w", err)
	}
	if len(resp.Pairs) == 0 {
		return nil, ErrNotFound
	}

	best := resp.Pairs[0]
	for _, p := range resp.Pairs[1:] {
		if p.Liquidity.Usd > best.Liquidity.Usd {
			best = p
		}
	}

	price, err := decimal.NewFromString(best.PriceUsd)
	if err != nil {
		return nil, fmt.Errorf("dexscreener price parse: %w", err)
	}

	return &Quote{
		Mint:       mint,
		PriceUSD:   price,
		Source:     d.Name(),
		ObservedAt: time.Now(),
	}, nil
}

// FetchListings returns Solana pairs from the DexScreener search endpoint
// normalized into listings.
func (d *DexScreener) FetchListings(ctx context.Context) ([]Listing, error) {
	endpoint := d.baseURL + "/latest/dex/search?q=SOL"

	var resp dexScreenerResponse
	if err := getJSON(ctx, d.httpClient, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("dexscreener listings: %w", err)
	}

	now := time.Now()
	seen := map[string]bool{}
	var out []Listing
	for _, p := range resp.Pairs {
		if p.ChainID != "solana" || p.BaseToken.Address == "" || seen[p.BaseToken.Address] {
			continue
		}
		seen[p.BaseToken.Address] = true

		price, err := decimal.NewFromString(p.PriceUsd)
		if err != nil {
			continue
		}

		marketCap := p.MarketCap
		if marketCap == 0 {
			marketCap = p.Fdv
		}

		l := Listing{
			Mint:           p.BaseToken.Address,
			Symbol:         p.BaseToken.Symbol,
			Name:           p.BaseToken.Name,
			LogoURI:        p.Info.ImageURL,
			PriceUSD:       price,
			Volume24h:      p.Volume.H24,
			MarketCap:      marketCap,
			Liquidity:      p.Liquidity.Usd,
			PriceChange24h: p.PriceChange.H24,
			ObservedAt:     now,
			Source:         d.Name(),
		}
		if p.PairCreatedAt > 0 {
			l.CreatedAt = time.UnixMilli(p.PairCreatedAt)
		}
		out = append(out, l)
	}

	return out, nil
}
