package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	coreerrors "stakeshack/core/errors"
	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/observability"
)

// RPC is the subset of the ledger JSON-RPC surface the escrow client uses.
type RPC interface {
	GetAccountInfo(ctx context.Context, key crypto.PublicKey) (*AccountInfo, error)
	GetMultipleAccounts(ctx context.Context, keys []crypto.PublicKey) ([]*AccountInfo, error)
	GetProgramAccounts(ctx context.Context, program crypto.PublicKey, filters ...MemcmpFilter) ([]KeyedAccount, error)
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, raw []byte) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
	GetBalance(ctx context.Context, key crypto.PublicKey) (uint64, error)
}

// Client implements RPC against a ledger node over HTTP JSON-RPC 2.0.
type Client struct {
	endpoint   string
	authToken  string
	http       *http.Client
	limiter    *rate.Limiter
	commitment Commitment
	tracer     trace.Tracer
	metrics    *observability.EscrowClientMetrics
	logger     *slog.Logger
	nextID     atomic.Int64
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = strings.TrimSpace(token) }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithRateLimit caps outgoing calls. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithCommitment(commitment Commitment) Option {
	return func(c *Client) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a client for endpoint. Defaults: 10s timeout, confirmed
// commitment, no rate limit.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		http:       &http.Client{Timeout: 10 * time.Second},
		commitment: CommitmentConfirmed,
		tracer:     otel.Tracer("stakeshack/ledger"),
		metrics:    observability.EscrowClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commitment returns the commitment level used for reads and confirmation.
func (c *Client) Commitment() Commitment {
	return c.commitment
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) config(extra map[string]any) map[string]any {
	cfg := map[string]any{"commitment": string(c.commitment)}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

func (c *Client) GetAccountInfo(ctx context.Context, key crypto.PublicKey) (*AccountInfo, error) {
	var result rpcAccountValue
	params := []any{key.String(), c.config(map[string]any{"encoding": "base64"})}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, key)
	}
	return result.Value.decode()
}

// GetMultipleAccounts returns one entry per key, nil where the account does
// not exist.
func (c *Client) GetMultipleAccounts(ctx context.Context, keys []crypto.PublicKey) ([]*AccountInfo, error) {
	encoded := make([]string, len(keys))
	for i, key := range keys {
		encoded[i] = key.String()
	}
	var result rpcAccountsValue
	params := []any{encoded, c.config(map[string]any{"encoding": "base64"})}
	if err := c.call(ctx, "getMultipleAccounts", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) != len(keys) {
		return nil, fmt.Errorf("ledger: getMultipleAccounts returned %d entries for %d keys", len(result.Value), len(keys))
	}
	out := make([]*AccountInfo, len(keys))
	for i, raw := range result.Value {
		if raw == nil {
			continue
		}
		info, err := raw.decode()
		if err != nil {
			return nil, err
		}
		out[i] = info
	}
	return out, nil
}

func (c *Client) GetProgramAccounts(ctx context.Context, program crypto.PublicKey, filters ...MemcmpFilter) ([]KeyedAccount, error) {
	extra := map[string]any{"encoding": "base64"}
	if len(filters) > 0 {
		wireFilters := make([]any, len(filters))
		for i, f := range filters {
			wireFilters[i] = map[string]any{"memcmp": map[string]any{
				"offset":   f.Offset,
				"bytes":    base64.StdEncoding.EncodeToString(f.Bytes),
				"encoding": "base64",
			}}
		}
		extra["filters"] = wireFilters
	}
	var result []rpcKeyedAccount
	if err := c.call(ctx, "getProgramAccounts", []any{program.String(), c.config(extra)}, &result); err != nil {
		return nil, err
	}
	out := make([]KeyedAccount, 0, len(result))
	for _, raw := range result {
		pubkey, err := crypto.DecodePublicKey(raw.Pubkey)
		if err != nil {
			return nil, err
		}
		info, err := raw.Account.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, KeyedAccount{Pubkey: pubkey, Account: *info})
	}
	return out, nil
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error) {
	var result rpcBlockhashValue
	if err := c.call(ctx, "getLatestBlockhash", []any{c.config(nil)}, &result); err != nil {
		return nil, err
	}
	hash, err := types.ParseBlockhash(result.Value.Blockhash)
	if err != nil {
		return nil, err
	}
	return &LatestBlockhash{Blockhash: hash, LastValidBlockHeight: result.Value.LastValidBlockHeight}, nil
}

func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getBlockHeight", []any{c.config(nil)}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// SendTransaction broadcasts a signed transaction and returns its signature.
// Preflight simulation runs at the client's commitment; rejections surface as
// *RPCError with the program logs attached.
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(raw),
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       false,
			"preflightCommitment": string(c.commitment),
			"maxRetries":          0,
		},
	}
	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	var result rpcStatusesValue
	params := []any{signatures, map[string]any{"searchTransactionHistory": false}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

func (c *Client) GetBalance(ctx context.Context, key crypto.PublicKey) (uint64, error) {
	var result rpcBalanceValue
	if err := c.call(ctx, "getBalance", []any{key.String(), c.config(nil)}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "ledger."+method, trace.WithSpanKind(trace.SpanKindClient))
	started := time.Now()
	defer func() {
		c.metrics.ObserveRPC(method, err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("rpc.method", method))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ledger rpc %s: rate limit: %w", method, err)
		}
	}

	buf, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID.Add(1)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ledger rpc %s failed: status=%d body=%s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("ledger rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		rpcErr := newRPCError(method, rpcResp.Error)
		c.logger.Debug("ledger rpc error", "method", method, "code", rpcErr.Code, "reason", rpcErr.Message)
		return rpcErr
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("ledger rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
