package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solana-holder-watch/internal/observability"
)

// TokenProgramID is the SPL Token program.
const TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// TokenAccountSize is the byte size of a standard SPL token account.
const TokenAccountSize = 165

// Default configuration values.
const (
	DefaultAttemptTimeout = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 1 * time.Second
	DefaultMaxDelay       = 10 * time.Second
	DefaultRateLimit      = 10 // requests per second
)

// slowFetchThreshold marks a successful fetch as worth a performance warning.
const slowFetchThreshold = 10 * time.Second

// Account is one account record returned by getProgramAccounts.
// Data holds the decoded account payload.
type Account struct {
	Pubkey     string
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// Client is a Solana JSON-RPC 2.0 client with per-attempt timeouts and
// capped exponential-backoff retries.
type Client struct {
	endpoint       string
	httpc          *http.Client
	maxRetries     int
	retryDelay     time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker
	logger         *zap.Logger
	requestID      atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithMaxRetries sets the number of fetch attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial backoff delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets the backoff ceiling.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithAttemptTimeout sets the per-attempt deadline.
func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithRateLimit sets the outbound request rate limit in requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker wraps each logical fetch in a circuit breaker. A whole retried
// fetch counts as one breaker request.
func WithBreaker() ClientOption {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "solana-rpc",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		})
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Solana RPC client for the given HTTP endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:       endpoint,
		httpc:          &http.Client{},
		maxRetries:     DefaultMaxRetries,
		retryDelay:     DefaultRetryDelay,
		maxDelay:       DefaultMaxDelay,
		attemptTimeout: DefaultAttemptTimeout,
		limiter:        rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured RPC URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a single JSON-RPC call attempt. Errors returned by the remote
// endpoint are classified here: capability-unsupported codes come back as
// *UnsupportedError, everything else is transient.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited (429)")
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		switch rpcResp.Error.Code {
		case rpcCodeMethodNotFound, rpcCodeExcludedIndex:
			return &UnsupportedError{Endpoint: c.endpoint, Method: method, Err: rpcResp.Error}
		}
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}

// GetTokenAccountsByMint fetches all SPL token accounts for a mint, retrying
// transient failures with capped exponential backoff. Capability-unsupported
// errors short-circuit immediately: retrying cannot help.
func (c *Client) GetTokenAccountsByMint(ctx context.Context, mint Pubkey) ([]Account, error) {
	if mint.IsZero() {
		return nil, fmt.Errorf("%w: zero mint", ErrInvalidMint)
	}

	if c.breaker != nil {
		accounts, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetchWithRetry(ctx, mint)
		})
		if err != nil {
			return nil, err
		}
		return accounts.([]Account), nil
	}

	return c.fetchWithRetry(ctx, mint)
}

func (c *Client) fetchWithRetry(ctx context.Context, mint Pubkey) ([]Account, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		accounts, err := c.getProgramAccounts(attemptCtx, mint)
		cancel()

		if err == nil {
			elapsed := time.Since(start)
			observability.RecordRPCFetch("getProgramAccounts", "success", elapsed.Seconds())
			c.logger.Info("fetched token accounts",
				zap.String("mint", mint.String()),
				zap.Int("accounts", len(accounts)),
				zap.Int("attempt", attempt+1),
				zap.Duration("elapsed", elapsed))
			if elapsed > slowFetchThreshold {
				c.logger.Warn("slow RPC fetch, consider a faster endpoint",
					zap.String("mint", mint.String()),
					zap.Duration("elapsed", elapsed))
			}
			return accounts, nil
		}

		if IsUnsupported(err) {
			observability.RecordRPCFetch("getProgramAccounts", "unsupported", time.Since(start).Seconds())
			return nil, err
		}

		lastErr = err
		c.logger.Warn("RPC fetch attempt failed",
			zap.String("mint", mint.String()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.maxRetries),
			zap.Error(err))

		if attempt < c.maxRetries-1 {
			delay := c.backoffDelay(attempt)
			c.logger.Warn("retrying after backoff", zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	observability.RecordRPCFetch("getProgramAccounts", "exhausted", time.Since(start).Seconds())
	c.logger.Error("token account fetch failed after all attempts",
		zap.String("mint", mint.String()),
		zap.Int("attempts", c.maxRetries),
		zap.Duration("elapsed", time.Since(start)))
	return nil, &ExhaustedError{Attempts: c.maxRetries, Err: lastErr}
}

// backoffDelay returns min(retryDelay * 2^attempt, maxDelay).
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retryDelay << uint(attempt)
	if delay > c.maxDelay || delay <= 0 {
		return c.maxDelay
	}
	return delay
}

// programAccountResult is one raw getProgramAccounts entry.
type programAccountResult struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Lamports   uint64   `json:"lamports"`
		Owner      string   `json:"owner"`
		Data       []string `json:"data"` // [base64_data, encoding]
		Executable bool     `json:"executable"`
		RentEpoch  uint64   `json:"rentEpoch"`
	} `json:"account"`
}

// getProgramAccounts enumerates Token Program accounts for the mint using a
// dataSize filter (standard token account layout) and a memcmp filter on the
// mint field at offset 0.
func (c *Client) getProgramAccounts(ctx context.Context, mint Pubkey) ([]Account, error) {
	params := []interface{}{
		TokenProgramID,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": "confirmed",
			"filters": []interface{}{
				map[string]interface{}{"dataSize": TokenAccountSize},
				map[string]interface{}{
					"memcmp": map[string]interface{}{
						"offset": 0,
						"bytes":  mint.String(),
					},
				},
			},
		},
	}

	var result []programAccountResult
	if err := c.call(ctx, "getProgramAccounts", params, &result); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(result))
	for _, r := range result {
		acc := Account{
			Pubkey:     r.Pubkey,
			Lamports:   r.Account.Lamports,
			Owner:      r.Account.Owner,
			Executable: r.Account.Executable,
			RentEpoch:  r.Account.RentEpoch,
		}
		if len(r.Account.Data) >= 1 {
			data, err := base64.StdEncoding.DecodeString(r.Account.Data[0])
			if err != nil {
				c.logger.Debug("skipping account with undecodable data",
					zap.String("pubkey", r.Pubkey), zap.Error(err))
				continue
			}
			acc.Data = data
		}
		accounts = append(accounts, acc)
	}

	return accounts, nil
}

// GetSlot retrieves the current slot. Used as a health check.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var result uint64
	if err := c.call(attemptCtx, "getSlot", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}
