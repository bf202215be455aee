package bots

import (
	"context"

	"github.com/shopspring/decimal"
)

// DefaultBasket is the classic mega-cap seven.
var DefaultBasket = []string{"GOOG", "AMZN", "AAPL", "MSFT", "META", "NVDA", "TSLA"}

// BuyAndHold funds the account once, buys one unit of every basket symbol,
// then holds forever. Steps are no-ops.
type BuyAndHold struct {
	client  *Client
	basket  []string
	funding decimal.Decimal
}

func NewBuyAndHold(client *Client, basket []string, funding decimal.Decimal) *BuyAndHold {
	if len(basket) == 0 {
		basket = DefaultBasket
	}
	return &BuyAndHold{client: client, basket: basket, funding: funding}
}

func (b *BuyAndHold) Name() string { return "buy_and_hold" }

func (b *BuyAndHold) Setup(ctx context.Context) error {
	if err := b.client.Topup(ctx, b.funding); err != nil {
		return err
	}
	one := decimal.NewFromInt(1)
	for _, symbol := range b.basket {
		if _, err := b.client.Buy(ctx, symbol, one); err != nil {
			return err
		}
	}
	return nil
}

func (b *BuyAndHold) Step(ctx context.Context) error { return nil }
