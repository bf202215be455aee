package api

import "github.com/shopspring/decimal"

// Request/response types for the REST surface. The transport trusts the
// username in the URL path; authentication lives outside this service.

type CreateUserRequest struct {
	Username string `json:"username"`
}

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type TradeRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

type SubmitOrderRequest struct {
	Username     string          `json:"username"`
	OrderType    string          `json:"orderType"` // limit | stop_loss | take_profit
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
}

type BalanceResponse struct {
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

type NetWorthResponse struct {
	Username string          `json:"username"`
	NetWorth decimal.Decimal `json:"netWorth"`
}

type PriceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type TradeResponse struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
	Fee       decimal.Decimal `json:"fee"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WSSubscribeRequest subscribes/unsubscribes ticker symbols on /ws.
type WSSubscribeRequest struct {
	Op      string   `json:"op"` // "subscribe" | "unsubscribe"
	Symbols []string `json:"symbols"`
}

// PriceUpdate is the websocket ticker payload.
type PriceUpdate struct {
	Type      string          `json:"type"` // always "price"
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}
