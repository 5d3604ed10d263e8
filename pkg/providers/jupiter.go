package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Jupiter serves spot prices from the Jupiter price API. Price only, no
// listing view.
type Jupiter struct {
	baseURL    string
	httpClient *http.Client
}

func NewJupiter(baseURL string, timeout time.Duration) *Jupiter {
	return &Jupiter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (j *Jupiter) Name() string { return "jupiter" }

type jupiterPriceResponse struct {
	Data map[string]struct {
		ID    string  `json:"id"`
		Price float64 `json:"price"`
	} `json:"data"`
}

func (j *Jupiter) FetchPrice(ctx context.Context, mint string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/v6/price?ids=%s", j.baseURL, url.QueryEscape(mint))

	var resp jupiterPriceResponse
	if err := getJSON(ctx, j.httpClient, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("jupiter price: %w", err)
	}

	entry, ok := resp.Data[mint]
	if !ok || entry.Price == 0 {
		return nil, ErrNotFound
	}

	return &Quote{
		Mint:       mint,
		PriceUSD:   decimal.NewFromFloat(entry.Price),
		Source:     j.Name(),
		ObservedAt: time.Now(),
	}, nil
}
