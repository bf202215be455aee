package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceOracle supplies the current market price for a symbol. "Unavailable"
// is a first-class transient outcome: implementations return an error wrapping
// ErrPriceUnavailable and callers retry rather than crash.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
