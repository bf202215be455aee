package bots

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/brokersim/pkg/api"
	"github.com/avolkov/brokersim/pkg/broker"
)

// Client is the shared broker capability every strategy composes over: a
// thin JSON client for the REST surface, bound to one username.
type Client struct {
	baseURL  string
	username string
	http     *http.Client
}

func NewClient(baseURL, username string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Username() string { return c.username }

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Error, apiErr.Details)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) CreateUser(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/users", api.CreateUserRequest{Username: c.username}, nil)
}

func (c *Client) DeleteUser(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/users/"+c.username, nil, nil)
}

func (c *Client) Topup(ctx context.Context, amount decimal.Decimal) error {
	return c.do(ctx, http.MethodPut, "/api/v1/accounts/"+c.username+"/topup", api.TopUpRequest{Amount: amount}, nil)
}

func (c *Client) Buy(ctx context.Context, symbol string, qty decimal.Decimal) (api.TradeResponse, error) {
	var out api.TradeResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/accounts/"+c.username+"/buy",
		api.TradeRequest{Symbol: symbol, Quantity: qty}, &out)
	return out, err
}

func (c *Client) Sell(ctx context.Context, symbol string, qty decimal.Decimal) (api.TradeResponse, error) {
	var out api.TradeResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/accounts/"+c.username+"/sell",
		api.TradeRequest{Symbol: symbol, Quantity: qty}, &out)
	return out, err
}

func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var out api.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+c.username+"/balance", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

func (c *Client) Portfolio(ctx context.Context) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+c.username+"/portfolio", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) NetWorth(ctx context.Context) (decimal.Decimal, error) {
	var out api.NetWorthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+c.username+"/networth", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.NetWorth, nil
}

func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out api.PriceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/prices/"+symbol, nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Price, nil
}

func (c *Client) SubmitOrder(ctx context.Context, orderType, symbol string, qty, trigger decimal.Decimal) (broker.Order, error) {
	var out broker.Order
	err := c.do(ctx, http.MethodPost, "/api/v1/orders", api.SubmitOrderRequest{
		Username:     c.username,
		OrderType:    orderType,
		Symbol:       symbol,
		Quantity:     qty,
		TriggerPrice: trigger,
	}, &out)
	return out, err
}
