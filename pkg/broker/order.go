package broker

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderType is the kind of conditional order resting in the order book.
type OrderType int8

const (
	OrderLimit OrderType = iota
	OrderStopLoss
	OrderTakeProfit
)

func (t OrderType) String() string {
	switch t {
	case OrderLimit:
		return "limit"
	case OrderStopLoss:
		return "stop_loss"
	case OrderTakeProfit:
		return "take_profit"
	default:
		return "unknown"
	}
}

// ParseOrderType maps the wire representation to an OrderType.
// Anything outside {limit, stop_loss, take_profit} is ErrInvalidOrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch s {
	case "limit":
		return OrderLimit, nil
	case "stop_loss":
		return OrderStopLoss, nil
	case "take_profit":
		return OrderTakeProfit, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOrderType, s)
	}
}

// Order types travel as their wire names, both in the API and in the store.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *OrderType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	typ, err := ParseOrderType(s)
	if err != nil {
		return err
	}
	*t = typ
	return nil
}

// Side returns the trade side the order executes as. Note the inherited
// semantics: "limit" here is strictly a buy trigger (acquire once the price
// falls to or below target), not a resting two-sided limit order.
func (t OrderType) Side() Side {
	if t == OrderLimit {
		return Buy
	}
	return Sell
}

// Order is a pending conditional order. Immutable once persisted; it either
// stays pending or is deleted atomically with its execution trade.
type Order struct {
	ID           uint64          `json:"id"` // assigned by the store, ascending
	Username     string          `json:"username"`
	Symbol       string          `json:"symbol"`
	Type         OrderType       `json:"orderType"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
	Quantity     decimal.Decimal `json:"quantity"`
	CreatedAt    int64           `json:"createdAt"` // Unix milliseconds
}

// Triggered reports whether the order is eligible for execution at the
// given market price:
//   - limit, stop_loss: price <= trigger
//   - take_profit:      price >= trigger
func (o *Order) Triggered(price decimal.Decimal) bool {
	switch o.Type {
	case OrderLimit, OrderStopLoss:
		return price.Cmp(o.TriggerPrice) <= 0
	case OrderTakeProfit:
		return price.Cmp(o.TriggerPrice) >= 0
	default:
		return false
	}
}
