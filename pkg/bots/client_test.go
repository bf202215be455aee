package bots_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avolkov/brokersim/pkg/api"
	"github.com/avolkov/brokersim/pkg/bots"
	"github.com/avolkov/brokersim/pkg/broker"
	"github.com/avolkov/brokersim/pkg/engine"
	"github.com/avolkov/brokersim/pkg/oracle"
	"github.com/avolkov/brokersim/pkg/storage"
)

func newTestBroker(t *testing.T) (*httptest.Server, *oracle.Sim) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sim := oracle.NewSim(1)
	eng := engine.New(store, sim, broker.DefaultFeeRate, zap.NewNop().Sugar())
	srv := api.NewServer(eng, sim, zap.NewNop().Sugar())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sim
}

func TestClientRoundTrip(t *testing.T) {
	ts, sim := newTestBroker(t)
	sim.SetPrice("ABC", decimal.NewFromInt(100))
	ctx := context.Background()

	c := bots.NewClient(ts.URL, "bot1")
	require.NoError(t, c.CreateUser(ctx))
	require.NoError(t, c.Topup(ctx, decimal.NewFromInt(1000)))

	trade, err := c.Buy(ctx, "ABC", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, "0.5", trade.Fee.String())

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "499.5", bal.String())

	portfolio, err := c.Portfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", portfolio["ABC"].String())

	order, err := c.SubmitOrder(ctx, "take_profit", "ABC", decimal.NewFromInt(5), decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.NotZero(t, order.ID)

	// Typed failures surface as errors, not as zero values.
	_, err = c.Sell(ctx, "XYZ", decimal.NewFromInt(1))
	require.Error(t, err)

	require.NoError(t, c.DeleteUser(ctx))
	_, err = c.Balance(ctx)
	require.Error(t, err)
}

func TestChurnStrategyPaysFeesOnly(t *testing.T) {
	ts, sim := newTestBroker(t)
	sim.SetPrice("MSFT", decimal.NewFromInt(100))
	ctx := context.Background()

	c := bots.NewClient(ts.URL, "churnbot")
	require.NoError(t, c.CreateUser(ctx))

	churn := bots.NewChurn(c, "MSFT", decimal.NewFromInt(1000), 3)
	require.NoError(t, churn.Setup(ctx))
	for i := 0; i < 5; i++ { // extra steps past rounds are no-ops
		require.NoError(t, churn.Step(ctx))
	}

	// Each round burns 2*0.1 at an unchanged price: 1000 - 3*0.2.
	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "999.4", bal.String())

	portfolio, err := c.Portfolio(ctx)
	require.NoError(t, err)
	assert.Empty(t, portfolio)
}

func TestBuyAndHoldSetup(t *testing.T) {
	ts, sim := newTestBroker(t)
	for _, s := range []string{"GOOG", "AMZN"} {
		sim.SetPrice(s, decimal.NewFromInt(10))
	}
	ctx := context.Background()

	c := bots.NewClient(ts.URL, "holder")
	require.NoError(t, c.CreateUser(ctx))

	b := bots.NewBuyAndHold(c, []string{"GOOG", "AMZN"}, decimal.NewFromInt(100))
	require.NoError(t, b.Setup(ctx))
	require.NoError(t, b.Step(ctx))

	portfolio, err := c.Portfolio(ctx)
	require.NoError(t, err)
	require.Len(t, portfolio, 2)
	assert.Equal(t, "1", portfolio["GOOG"].String())
}
