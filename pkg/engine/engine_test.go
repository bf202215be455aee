package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avolkov/brokersim/pkg/broker"
	"github.com/avolkov/brokersim/pkg/engine"
	"github.com/avolkov/brokersim/pkg/oracle"
	"github.com/avolkov/brokersim/pkg/storage"
)

func newTestEngine(t *testing.T) (*engine.Engine, *oracle.Sim, *storage.Store) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sim := oracle.NewSim(1)
	eng := engine.New(store, sim, broker.DefaultFeeRate, zap.NewNop().Sugar())
	return eng, sim, store
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCreateAccountAndTopup(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.ErrorIs(t, eng.CreateAccount("alice"), broker.ErrUserExists)

	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	bal, err := eng.Balance("alice")
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())

	require.ErrorIs(t, eng.Topup(ctx, "alice", d("0")), broker.ErrInvalidAmount)
	require.ErrorIs(t, eng.Topup(ctx, "alice", d("-5")), broker.ErrInvalidAmount)
	require.ErrorIs(t, eng.Topup(ctx, "nobody", d("10")), broker.ErrUnknownUser)
}

func TestBuyDebitsTotalPlusFee(t *testing.T) {
	eng, sim, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	sim.SetPrice("ABC", d("100"))

	trade, err := eng.Buy(ctx, "alice", "ABC", d("5"))
	require.NoError(t, err)
	require.Equal(t, "500", trade.Total.String())
	require.Equal(t, "0.5", trade.Fee.String())

	bal, err := eng.Balance("alice")
	require.NoError(t, err)
	require.Equal(t, "499.5", bal.String())

	portfolio, err := eng.Portfolio("alice")
	require.NoError(t, err)
	require.Equal(t, "5", portfolio["ABC"].String())
}

func TestBuyValidations(t *testing.T) {
	eng, sim, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("100")))
	sim.SetPrice("ABC", d("100"))

	_, err := eng.Buy(ctx, "alice", "ABC", d("0"))
	require.ErrorIs(t, err, broker.ErrInvalidAmount)

	_, err = eng.Buy(ctx, "nobody", "ABC", d("1"))
	require.ErrorIs(t, err, broker.ErrUnknownUser)

	// 1*100 + fee exceeds 100 exactly because of the fee.
	_, err = eng.Buy(ctx, "alice", "ABC", d("1"))
	require.ErrorIs(t, err, broker.ErrInsufficientFunds)

	// Nothing was applied.
	bal, err := eng.Balance("alice")
	require.NoError(t, err)
	require.Equal(t, "100", bal.String())
	portfolio, err := eng.Portfolio("alice")
	require.NoError(t, err)
	require.Empty(t, portfolio)

	sim.SetUnavailable("ABC")
	_, err = eng.Buy(ctx, "alice", "ABC", d("1"))
	require.ErrorIs(t, err, broker.ErrPriceUnavailable)
}

func TestSellCreditsTotalMinusFeeAndRemovesZeroRow(t *testing.T) {
	eng, sim, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	sim.SetPrice("ABC", d("100"))

	_, err := eng.Buy(ctx, "alice", "ABC", d("5"))
	require.NoError(t, err)
	_, err = eng.Sell(ctx, "alice", "ABC", d("5"))
	require.NoError(t, err)

	// Round trip at an unchanged price loses exactly twice the fee.
	bal, err := eng.Balance("alice")
	require.NoError(t, err)
	require.Equal(t, "999", bal.String())

	// Position hit zero: row deleted, not kept at 0.
	portfolio, err := eng.Portfolio("alice")
	require.NoError(t, err)
	_, held := portfolio["ABC"]
	require.False(t, held)
}

func TestSellValidations(t *testing.T) {
	eng, sim, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	sim.SetPrice("ABC", d("100"))

	_, err := eng.Sell(ctx, "alice", "ABC", d("-1"))
	require.ErrorIs(t, err, broker.ErrInvalidAmount)

	// Not held at all.
	_, err = eng.Sell(ctx, "alice", "ABC", d("1"))
	require.ErrorIs(t, err, broker.ErrInsufficientPosition)

	_, err = eng.Buy(ctx, "alice", "ABC", d("2"))
	require.NoError(t, err)

	// Held, but short of the requested quantity.
	_, err = eng.Sell(ctx, "alice", "ABC", d("3"))
	require.ErrorIs(t, err, broker.ErrInsufficientPosition)

	portfolio, err := eng.Portfolio("alice")
	require.NoError(t, err)
	require.Equal(t, "2", portfolio["ABC"].String())
}

func TestNetWorthStrictOnUnpricedSymbol(t *testing.T) {
	eng, sim, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	sim.SetPrice("ABC", d("100"))

	_, err := eng.Buy(ctx, "alice", "ABC", d("5"))
	require.NoError(t, err)

	worth, err := eng.NetWorth(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "999.5", worth.String()) // 499.5 cash + 5*100

	// A held symbol losing its quote fails the whole operation.
	sim.SetUnavailable("ABC")
	_, err = eng.NetWorth(ctx, "alice")
	require.ErrorIs(t, err, broker.ErrPriceUnavailable)
}

func TestSubmitOrderValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))

	_, err := eng.SubmitOrder(ctx, "alice", "market", "ABC", d("5"), d("90"))
	require.ErrorIs(t, err, broker.ErrInvalidOrderType)

	_, err = eng.SubmitOrder(ctx, "alice", "limit", "ABC", d("0"), d("90"))
	require.ErrorIs(t, err, broker.ErrInvalidAmount)

	_, err = eng.SubmitOrder(ctx, "nobody", "limit", "ABC", d("5"), d("90"))
	require.ErrorIs(t, err, broker.ErrUnknownUser)

	// Order book unchanged by the rejected submissions.
	orders, err := eng.Orders()
	require.NoError(t, err)
	require.Empty(t, orders)

	// No balance check at submission time.
	o, err := eng.SubmitOrder(ctx, "alice", "limit", "ABC", d("5"), d("90"))
	require.NoError(t, err)
	require.NotZero(t, o.ID)
}

func TestDeleteAccountCascades(t *testing.T) {
	eng, sim, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	sim.SetPrice("ABC", d("100"))
	_, err := eng.Buy(ctx, "alice", "ABC", d("3"))
	require.NoError(t, err)
	_, err = eng.SubmitOrder(ctx, "alice", "stop_loss", "ABC", d("3"), d("90"))
	require.NoError(t, err)

	// A second user must survive the cascade.
	require.NoError(t, eng.CreateAccount("bob"))
	_, err = eng.SubmitOrder(ctx, "bob", "take_profit", "ABC", d("1"), d("200"))
	require.NoError(t, err)

	require.NoError(t, eng.DeleteAccount("alice"))
	require.ErrorIs(t, eng.DeleteAccount("alice"), broker.ErrUnknownUser)

	_, err = eng.Balance("alice")
	require.ErrorIs(t, err, broker.ErrUnknownUser)
	positions, err := store.Positions("alice")
	require.NoError(t, err)
	require.Empty(t, positions)

	orders, err := eng.Orders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "bob", orders[0].Username)
}

func TestSubmitRacingDeleteLeavesNoOrphanOrders(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	// A submission racing the account's deletion must either land before the
	// cascade (and be swept by it) or fail with ErrUnknownUser. Either way no
	// order row may survive its user.
	for i := 0; i < 25; i++ {
		require.NoError(t, eng.CreateAccount("alice"))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := eng.SubmitOrder(ctx, "alice", "stop_loss", "ABC", d("1"), d("90"))
			if err != nil && !errors.Is(err, broker.ErrUnknownUser) {
				t.Errorf("unexpected submit error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := eng.DeleteAccount("alice"); err != nil {
				t.Errorf("unexpected delete error: %v", err)
			}
		}()
		wg.Wait()

		orders, err := eng.Orders()
		require.NoError(t, err)
		require.Empty(t, orders, "order row survived its deleted account")
	}
}

func TestConcurrentBuysNeverOverdraw(t *testing.T) {
	eng, sim, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	sim.SetPrice("ABC", d("100"))

	// 20 concurrent unit buys at ~100.1 each against 1000 cash: at most 9
	// can fit. Serialization must reject the rest instead of overdrawing.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.Buy(ctx, "alice", "ABC", d("1")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, broker.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 9, succeeded)

	bal, err := eng.Balance("alice")
	require.NoError(t, err)
	require.True(t, bal.Sign() >= 0, "balance went negative: %s", bal)
	require.Equal(t, "99.1", bal.String()) // 1000 - 9*100.1

	portfolio, err := eng.Portfolio("alice")
	require.NoError(t, err)
	require.Equal(t, "9", portfolio["ABC"].String())
}

func TestFillsRecorded(t *testing.T) {
	eng, sim, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CreateAccount("alice"))
	require.NoError(t, eng.Topup(ctx, "alice", d("1000")))
	sim.SetPrice("ABC", d("100"))

	_, err := eng.Buy(ctx, "alice", "ABC", d("2"))
	require.NoError(t, err)
	_, err = eng.Sell(ctx, "alice", "ABC", d("1"))
	require.NoError(t, err)

	fills, err := eng.Fills("alice", 0)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	sides := []string{fills[0].Side, fills[1].Side}
	require.ElementsMatch(t, []string{"buy", "sell"}, sides)
	require.NotEmpty(t, fills[0].ID)
}
