package broker

import (
	"github.com/shopspring/decimal"
)

// Account is a read snapshot of a user's financial state: cash balance plus
// per-symbol holdings. Committed state never shows a negative balance or a
// negative/zero position row; a position reaching zero is removed.
type Account struct {
	Username  string                     `json:"username"`
	Balance   decimal.Decimal            `json:"balance"`
	Positions map[string]decimal.Decimal `json:"positions"`
}

// Position returns the held quantity for a symbol (zero if absent).
func (a *Account) Position(symbol string) decimal.Decimal {
	return a.Positions[symbol]
}
