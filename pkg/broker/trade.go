package broker

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultFeeRate is 0.1% of trade notional, charged on buys and sells alike.
var DefaultFeeRate = decimal.New(1, -3)

// Side of a trade.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Trade is the ephemeral economics of a single fill against the simulated
// market: notional and fee at the sampled unit price. It is computed, applied
// to the ledger, and discarded; only the resulting Fill is persisted.
type Trade struct {
	Symbol    string
	Quantity  decimal.Decimal
	Side      Side
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
	Fee       decimal.Decimal
}

// NewTrade computes total = quantity*price and fee = total*feeRate.
func NewTrade(symbol string, side Side, qty, price, feeRate decimal.Decimal) Trade {
	total := qty.Mul(price)
	return Trade{
		Symbol:    symbol,
		Quantity:  qty,
		Side:      side,
		UnitPrice: price,
		Total:     total,
		Fee:       total.Mul(feeRate),
	}
}

// CashDelta is the signed change the trade applies to the account's cash:
// -(total+fee) on a buy, +(total-fee) on a sell.
func (t Trade) CashDelta() decimal.Decimal {
	if t.Side == Buy {
		return t.Total.Add(t.Fee).Neg()
	}
	return t.Total.Sub(t.Fee)
}

// PositionDelta is the signed change to the symbol's held quantity.
func (t Trade) PositionDelta() decimal.Decimal {
	if t.Side == Buy {
		return t.Quantity
	}
	return t.Quantity.Neg()
}

// Fill is the durable record of an executed trade, kept for account history.
type Fill struct {
	ID        string          `json:"id"` // uuid
	Username  string          `json:"username"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Fee       decimal.Decimal `json:"fee"`
	OrderID   uint64          `json:"orderId,omitempty"` // 0 for direct trades
	Timestamp int64           `json:"timestamp"`         // Unix milliseconds
}

// NewFill snapshots a trade into its durable record.
func NewFill(username string, t Trade, orderID uint64) Fill {
	return Fill{
		ID:        uuid.NewString(),
		Username:  username,
		Symbol:    t.Symbol,
		Side:      t.Side.String(),
		Quantity:  t.Quantity,
		UnitPrice: t.UnitPrice,
		Fee:       t.Fee,
		OrderID:   orderID,
		Timestamp: time.Now().UnixMilli(),
	}
}
