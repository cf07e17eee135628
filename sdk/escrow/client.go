// Package escrow provides a typed JSON-RPC client for the ordervault service.
package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const jsonRPCVersion = "2.0"

// Order mirrors the order representation returned by the service.
type Order struct {
	Buyer           string  `json:"buyer"`
	Seller          *string `json:"seller,omitempty"`
	TokenMint       string  `json:"tokenMint"`
	Amount          string  `json:"amount"`
	Vault           string  `json:"vault"`
	IsNFT           bool    `json:"isNft"`
	NftMint         *string `json:"nftMint,omitempty"`
	CollectionMint  *string `json:"collectionMint,omitempty"`
	BuyerNftAccount *string `json:"buyerNftAccount,omitempty"`
	Expiration      int64   `json:"expiration"`
	CreatedAt       int64   `json:"createdAt"`
	Status          string  `json:"status"`
}

// Balance is the result of a token_getBalance query.
type Balance struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// CreateOrderRequest carries the parameters for order_create.
type CreateOrderRequest struct {
	Buyer           string `json:"buyer"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	Expiration      int64  `json:"expiration"`
	IsNFT           bool   `json:"isNft"`
	NftMint         string `json:"nftMint,omitempty"`
	CollectionMint  string `json:"collectionMint,omitempty"`
	BuyerNftAccount string `json:"buyerNftAccount,omitempty"`
}

// ConfirmOrderRequest carries the parameters for order_confirm.
type ConfirmOrderRequest struct {
	Buyer            string `json:"buyer"`
	Seller           string `json:"seller"`
	SellerNftAccount string `json:"sellerNftAccount,omitempty"`
}

// RPCError is a JSON-RPC error payload returned by the service.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client issues JSON-RPC requests against a single ordervault endpoint.
type Client struct {
	endpoint  string
	authToken string
	httpc     *http.Client
	nextID    int
}

// Option configures a Client.
type Option func(*Client)

// WithAuthToken attaches a bearer token to every mutating request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// Dial creates a client for the given endpoint, e.g. "http://localhost:8080".
func Dial(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("escrow: empty endpoint")
	}
	c := &Client{
		endpoint: endpoint,
		httpc: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		nextID: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateOrder opens a new escrow order for the buyer.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.call(ctx, "order_create", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FundOrder moves the buyer's deposit into the order vault.
func (c *Client) FundOrder(ctx context.Context, buyer string) (*Order, error) {
	return c.buyerOp(ctx, "order_fund", buyer)
}

// ConfirmOrder records the seller and, for NFT orders, swaps the asset in.
func (c *Client) ConfirmOrder(ctx context.Context, req ConfirmOrderRequest) (*Order, error) {
	var order Order
	if err := c.call(ctx, "order_confirm", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ReleaseOrder pays the vault balance out to the seller.
func (c *Client) ReleaseOrder(ctx context.Context, buyer string) (*Order, error) {
	return c.buyerOp(ctx, "order_release", buyer)
}

// CancelOrder aborts the order, refunding the buyer when funded.
func (c *Client) CancelOrder(ctx context.Context, buyer string) (*Order, error) {
	return c.buyerOp(ctx, "order_cancel", buyer)
}

// TimeoutOrder sweeps an expired funded order back to the buyer. The method is
// open: any caller may trigger the sweep.
func (c *Client) TimeoutOrder(ctx context.Context, buyer string) (*Order, error) {
	return c.buyerOp(ctx, "order_timeout", buyer)
}

// GetOrder fetches the order keyed by the buyer address.
func (c *Client) GetOrder(ctx context.Context, buyer string) (*Order, error) {
	return c.buyerOp(ctx, "order_get", buyer)
}

// GetBalance reads a fungible token balance.
func (c *Client) GetBalance(ctx context.Context, address, token string) (*Balance, error) {
	var out Balance
	params := struct {
		Address string `json:"address"`
		Token   string `json:"token"`
	}{Address: address, Token: token}
	if err := c.call(ctx, "token_getBalance", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) buyerOp(ctx context.Context, method, buyer string) (*Order, error) {
	var order Order
	params := struct {
		Buyer string `json:"buyer"`
	}{Buyer: buyer}
	if err := c.call(ctx, method, params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	if c == nil {
		return errors.New("escrow: nil client")
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("escrow: encode params: %w", err)
	}
	id := c.nextID
	c.nextID++
	body, err := json.Marshal(struct {
		JSONRPC string            `json:"jsonrpc"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
		ID      int               `json:"id"`
	}{JSONRPC: jsonRPCVersion, Method: method, Params: []json.RawMessage{encoded}, ID: id})
	if err != nil {
		return fmt.Errorf("escrow: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("escrow: read response: %w", err)
	}
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("escrow: decode response: %w", err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("escrow: decode result: %w", err)
		}
	}
	return nil
}
