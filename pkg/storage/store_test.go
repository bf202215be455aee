package storage_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/brokersim/pkg/broker"
	"github.com/avolkov/brokersim/pkg/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Balance("alice")
	require.NoError(t, err)
	require.False(t, ok, "no balance row before creation")

	tx := s.Begin()
	require.NoError(t, tx.SetBalance("alice", d("123.456")))
	require.NoError(t, tx.Commit())

	bal, ok, err := s.Balance("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "123.456", bal.String())
}

func TestPositionsScanIsPerUser(t *testing.T) {
	s := newTestStore(t)

	tx := s.Begin()
	require.NoError(t, tx.SetPosition("alice", "AAPL", d("5")))
	require.NoError(t, tx.SetPosition("alice", "MSFT", d("2.5")))
	require.NoError(t, tx.SetPosition("bob", "AAPL", d("7")))
	require.NoError(t, tx.Commit())

	positions, err := s.Positions("alice")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Equal(t, "5", positions["AAPL"].String())
	require.Equal(t, "2.5", positions["MSFT"].String())
}

func TestOrderIDsAreAscendingAndScanOrdered(t *testing.T) {
	s := newTestStore(t)

	var ids []uint64
	for i := 0; i < 5; i++ {
		o := broker.Order{Username: "alice", Symbol: "AAPL", Type: broker.OrderLimit,
			TriggerPrice: d("90"), Quantity: d("1")}
		tx := s.Begin()
		require.NoError(t, tx.InsertOrder(&o))
		require.NoError(t, tx.Commit())
		ids = append(ids, o.ID)
	}

	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1], "ids must ascend")
	}

	orders, err := s.Orders()
	require.NoError(t, err)
	require.Len(t, orders, 5)
	for i, o := range orders {
		require.Equal(t, ids[i], o.ID, "scan must return insertion order")
	}
}

func TestOrderSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.Open(dir)
	require.NoError(t, err)

	o := broker.Order{Username: "alice", Symbol: "AAPL", Type: broker.OrderLimit,
		TriggerPrice: d("90"), Quantity: d("1")}
	tx := s.Begin()
	require.NoError(t, tx.InsertOrder(&o))
	require.NoError(t, tx.Commit())
	first := o.ID
	require.NoError(t, s.Close())

	s, err = storage.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	o2 := broker.Order{Username: "alice", Symbol: "MSFT", Type: broker.OrderStopLoss,
		TriggerPrice: d("80"), Quantity: d("1")}
	tx = s.Begin()
	require.NoError(t, tx.InsertOrder(&o2))
	require.NoError(t, tx.Commit())
	require.Greater(t, o2.ID, first, "reopened store must not reuse ids")
}

func TestOrderSequenceSurvivesOutOfOrderCommits(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.Open(dir)
	require.NoError(t, err)

	o1 := broker.Order{Username: "alice", Symbol: "AAPL", Type: broker.OrderLimit,
		TriggerPrice: d("90"), Quantity: d("1")}
	o2 := broker.Order{Username: "bob", Symbol: "MSFT", Type: broker.OrderStopLoss,
		TriggerPrice: d("80"), Quantity: d("1")}
	tx1 := s.Begin()
	require.NoError(t, tx1.InsertOrder(&o1))
	tx2 := s.Begin()
	require.NoError(t, tx2.InsertOrder(&o2))

	// The higher id commits first, so the durable sequence key finishes
	// holding the lower one.
	require.NoError(t, tx2.Commit())
	require.NoError(t, tx1.Commit())
	require.NoError(t, s.Close())

	s, err = storage.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	o3 := broker.Order{Username: "carol", Symbol: "GOOG", Type: broker.OrderTakeProfit,
		TriggerPrice: d("200"), Quantity: d("1")}
	tx := s.Begin()
	require.NoError(t, tx.InsertOrder(&o3))
	require.NoError(t, tx.Commit())

	require.Greater(t, o3.ID, o2.ID, "recovered sequence must not reuse a live id")
	orders, err := s.Orders()
	require.NoError(t, err)
	require.Len(t, orders, 3, "an id reuse would overwrite a pending order")
}

func TestUncommittedTxLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)

	tx := s.Begin()
	require.NoError(t, tx.SetBalance("alice", d("100")))
	require.NoError(t, tx.SetPosition("alice", "AAPL", d("1")))
	require.NoError(t, tx.Close())

	_, ok, err := s.Balance("alice")
	require.NoError(t, err)
	require.False(t, ok)

	positions, err := s.Positions("alice")
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestCommitIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)

	// Balance update, position delete and order delete land together.
	tx := s.Begin()
	require.NoError(t, tx.SetBalance("alice", d("50")))
	require.NoError(t, tx.SetPosition("alice", "AAPL", d("3")))
	o := broker.Order{Username: "alice", Symbol: "AAPL", Type: broker.OrderStopLoss,
		TriggerPrice: d("90"), Quantity: d("3")}
	require.NoError(t, tx.InsertOrder(&o))
	require.NoError(t, tx.Commit())

	tx = s.Begin()
	require.NoError(t, tx.SetBalance("alice", d("305")))
	require.NoError(t, tx.DeletePosition("alice", "AAPL"))
	require.NoError(t, tx.DeleteOrder(o.ID))
	require.NoError(t, tx.Commit())

	bal, _, err := s.Balance("alice")
	require.NoError(t, err)
	require.Equal(t, "305", bal.String())
	positions, err := s.Positions("alice")
	require.NoError(t, err)
	require.Empty(t, positions)
	orders, err := s.Orders()
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestFillsNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		f := broker.Fill{
			ID:        string(rune('a' + i)),
			Username:  "alice",
			Symbol:    "AAPL",
			Side:      "buy",
			Quantity:  d("1"),
			UnitPrice: d("100"),
			Fee:       d("0.1"),
			Timestamp: int64(1000 + i),
		}
		tx := s.Begin()
		require.NoError(t, tx.AppendFill(f))
		require.NoError(t, tx.Commit())
	}

	fills, err := s.Fills("alice", 2)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	require.Equal(t, int64(1002), fills[0].Timestamp)
	require.Equal(t, int64(1001), fills[1].Timestamp)
}

func TestCascadeHelpers(t *testing.T) {
	s := newTestStore(t)

	tx := s.Begin()
	require.NoError(t, tx.SetBalance("alice", d("100")))
	require.NoError(t, tx.SetPosition("alice", "AAPL", d("3")))
	require.NoError(t, tx.SetPosition("alice", "MSFT", d("1")))
	require.NoError(t, tx.SetPosition("bob", "AAPL", d("9")))
	require.NoError(t, tx.AppendFill(broker.Fill{ID: "f1", Username: "alice", Timestamp: 1}))
	require.NoError(t, tx.Commit())

	tx = s.Begin()
	require.NoError(t, tx.DeleteBalance("alice"))
	require.NoError(t, tx.DeletePositions("alice"))
	require.NoError(t, tx.DeleteFills("alice"))
	require.NoError(t, tx.Commit())

	_, ok, err := s.Balance("alice")
	require.NoError(t, err)
	require.False(t, ok)
	positions, err := s.Positions("alice")
	require.NoError(t, err)
	require.Empty(t, positions)
	fills, err := s.Fills("alice", 0)
	require.NoError(t, err)
	require.Empty(t, fills)

	// Bob untouched.
	positions, err = s.Positions("bob")
	require.NoError(t, err)
	require.Equal(t, "9", positions["AAPL"].String())
}
