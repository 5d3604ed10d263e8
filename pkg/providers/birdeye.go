package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Birdeye serves both spot prices and a ranked token list. Requires an API
// key sent in the X-API-KEY header.
type Birdeye struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewBirdeye(baseURL, apiKey string, timeout time.Duration) *Birdeye {
	return &Birdeye{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *Birdeye) Name() string { return "birdeye" }

func (b *Birdeye) headers() map[string]string {
	return map[string]string{
		"X-API-KEY": b.apiKey,
		"x-chain":   "solana",
	}
}

type birdeyePriceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Value          float64 `json:"value"`
		UpdateUnixTime int64   `json:"updateUnixTime"`
	} `json:"data"`
}

func (b *Birdeye) FetchPrice(ctx context.Context, mint string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/defi/price?address=%s", b.baseURL, url.QueryEscape(mint))

	var resp birdeyePriceResponse
	if err := getJSON(ctx, b.httpClient, endpoint, b.headers(), &resp); err != nil {
		return nil, fmt.Errorf("birdeye price: %w", err)
	}
	if !resp.Success || resp.Data.Value == 0 {
		return nil, ErrNotFound
	}

	observed := time.Now()
	if resp.Data.UpdateUnixTime > 0 {
		observed = time.Unix(resp.Data.UpdateUnixTime, 0)
	}

	return &Quote{
		Mint:       mint,
		PriceUSD:   decimal.NewFromFloat(resp.Data.Value),
		Source:     b.Name(),
		ObservedAt: observed,
	}, nil
}

type birdeyeTokenListResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Tokens []struct {
			Address           string  `json:"address"`
			Symbol            string  `json:"symbol"`
			Name              string  `json:"name"`
			LogoURI           string  `json:"logoURI"`
			Price             float64 `json:"price"`
			V24hUSD           float64 `json:"v24hUSD"`
			V24hChangePercent float64 `json:"v24hChangePercent"`
			Mc                float64 `json:"mc"`
			Liquidity         float64 `json:"liquidity"`
		} `json:"tokens"`
	} `json:"data"`
}

func (b *Birdeye) FetchListings(ctx context.Context) ([]Listing, error) {
	endpoint := b.baseURL + "/defi/tokenlist?sort_by=v24hUSD&sort_type=desc&limit=100"

	var resp birdeyeTokenListResponse
	if err := getJSON(ctx, b.httpClient, endpoint, b.headers(), &resp); err != nil {
		return nil, fmt.Errorf("birdeye listings: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("birdeye listings: unsuccessful response")
	}

	now := time.Now()
	out := make([]Listing, 0, len(resp.Data.Tokens))
	for _, tok := range resp.Data.Tokens {
		if tok.Address == "" {
			continue
		}
		out = append(out, Listing{
			Mint:           tok.Address,
			Symbol:         tok.Symbol,
			Name:           tok.Name,
			LogoURI:        tok.LogoURI,
			PriceUSD:       decimal.NewFromFloat(tok.Price),
			Volume24h:      tok.V24hUSD,
			MarketCap:      tok.Mc,
			Liquidity:      tok.Liquidity,
			PriceChange24h: tok.V24hChangePercent,
			ObservedAt:     now,
			Source:         b.Name(),
		})
	}

	return out, nil
}
