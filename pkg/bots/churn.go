package bots

import (
	"context"

	"github.com/shopspring/decimal"
)

// Churn buys and immediately sells one unit of a single symbol every step,
// measuring how trading fees erode the balance over a fixed number of
// rounds. After the last round each step is a no-op.
type Churn struct {
	client  *Client
	symbol  string
	funding decimal.Decimal
	rounds  int
	done    int
}

func NewChurn(client *Client, symbol string, funding decimal.Decimal, rounds int) *Churn {
	return &Churn{client: client, symbol: symbol, funding: funding, rounds: rounds}
}

func (b *Churn) Name() string { return "churn" }

func (b *Churn) Setup(ctx context.Context) error {
	return b.client.Topup(ctx, b.funding)
}

func (b *Churn) Step(ctx context.Context) error {
	if b.done >= b.rounds {
		return nil
	}
	one := decimal.NewFromInt(1)
	if _, err := b.client.Buy(ctx, b.symbol, one); err != nil {
		return err
	}
	if _, err := b.client.Sell(ctx, b.symbol, one); err != nil {
		return err
	}
	b.done++
	return nil
}
