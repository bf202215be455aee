package bots

import (
	"context"
	"math/rand"

	"github.com/shopspring/decimal"
)

// Random buys or sells one unit of a random symbol each step. Sells pick
// from the current portfolio; with nothing held it falls back to buying.
type Random struct {
	client  *Client
	symbols []string
	funding decimal.Decimal
	rng     *rand.Rand
}

func NewRandom(client *Client, symbols []string, funding decimal.Decimal, seed int64) *Random {
	return &Random{
		client:  client,
		symbols: symbols,
		funding: funding,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (b *Random) Name() string { return "random" }

func (b *Random) Setup(ctx context.Context) error {
	return b.client.Topup(ctx, b.funding)
}

func (b *Random) Step(ctx context.Context) error {
	one := decimal.NewFromInt(1)
	if b.rng.Intn(2) == 0 {
		symbol := b.symbols[b.rng.Intn(len(b.symbols))]
		_, err := b.client.Buy(ctx, symbol, one)
		return err
	}

	portfolio, err := b.client.Portfolio(ctx)
	if err != nil {
		return err
	}
	if len(portfolio) == 0 {
		symbol := b.symbols[b.rng.Intn(len(b.symbols))]
		_, err := b.client.Buy(ctx, symbol, one)
		return err
	}

	held := make([]string, 0, len(portfolio))
	for symbol := range portfolio {
		held = append(held, symbol)
	}
	symbol := held[b.rng.Intn(len(held))]
	_, err = b.client.Sell(ctx, symbol, one)
	return err
}
