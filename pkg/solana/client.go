package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/ratelimit"

	"github.com/AxsolTools/bonk1st-sub009/internal/rpcpool"
)

// Client calls the Solana JSON-RPC API through the endpoint rotator. Every
// request is issued against the rotator's current endpoint and its outcome
// is reported back so failing endpoints get rotated away from immediately.
type Client struct {
	pool       *rpcpool.Rotator
	httpClient *http.Client
	limiter    ratelimit.Limiter
}

// NewClient builds a client over the given rotator. requestsPerSecond paces
// calls across the whole pool to stay under public-endpoint rate limits.
func NewClient(pool *rpcpool.Rotator, timeout time.Duration, requestsPerSecond int) *Client {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &Client{
		pool:       pool,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    ratelimit.New(requestsPerSecond),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip and records the outcome with the
// rotator. RPC-level errors (a well-formed error object) do not count as
// endpoint failures; only transport and HTTP failures do.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	c.limiter.Take()

	endpoint := c.pool.Current()

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.pool.RecordRequest(false)
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.pool.RecordRequest(false)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rpc %s: status %d: %s", method, resp.StatusCode, body)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		c.pool.RecordRequest(false)
		return fmt.Errorf("rpc %s: decode: %w", method, err)
	}

	c.pool.RecordRequest(true)

	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{address}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// TokenSupply holds a token's total supply in raw units plus its decimals.
type TokenSupply struct {
	Amount   uint64
	Decimals uint8
}

// GetTokenSupply returns the total supply of an SPL token mint.
func (c *Client) GetTokenSupply(ctx context.Context, mint string) (TokenSupply, error) {
	var result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint}, &result); err != nil {
		return TokenSupply{}, err
	}

	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return TokenSupply{}, fmt.Errorf("parse supply amount: %w", err)
	}
	return TokenSupply{Amount: amount, Decimals: result.Value.Decimals}, nil
}

// IsHealthy probes the current endpoint with getLatestBlockhash.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	return c.call(ctx, "getLatestBlockhash", nil, &result) == nil
}
