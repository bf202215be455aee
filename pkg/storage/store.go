package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"github.com/avolkov/brokersim/pkg/broker"
)

// Store is the durable ledger and order book backed by a single pebble DB.
// Multi-row mutations are staged on a Tx and committed as one pebble batch
// with fsync, which is the all-or-nothing transaction the accounting engine
// builds on. The store itself does no validation; invariants live in the
// engine, which serializes mutations per account.
type Store struct {
	db *pebble.DB

	// nextSeq is the next order id to hand out. Loaded once at Open and
	// bumped in memory so two in-flight batches can never share an id.
	seqMu   sync.Mutex
	nextSeq uint64
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}

	s := &Store{db: db, nextSeq: 1}
	val, closer, err := db.Get(keyOrderSeq)
	if err == nil {
		s.nextSeq = decodeUint64(val) + 1
		closer.Close()
	} else if err != pebble.ErrNotFound {
		db.Close()
		return nil, fmt.Errorf("read order sequence: %w", err)
	}

	// Two in-flight inserts can commit out of id order, leaving seq:order
	// below the highest assigned id. The last order key is authoritative;
	// resuming from a stale sequence would reuse a live order's id.
	last, ok, err := lastOrderID(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recover order sequence: %w", err)
	}
	if ok && last >= s.nextSeq {
		s.nextSeq = last + 1
	}
	return s, nil
}

func lastOrderID(db *pebble.DB) (uint64, bool, error) {
	prefix := orderPrefix()
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, false, iter.Error()
	}
	return decodeUint64(iter.Key()[len(prefix):]), true, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Balance returns the committed cash balance for a user. The second return
// is false when the user has no balance row, i.e. the account doesn't exist.
func (s *Store) Balance(username string) (decimal.Decimal, bool, error) {
	val, closer, err := s.db.Get(balanceKey(username))
	if err == pebble.ErrNotFound {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, broker.NewStorageError("get balance", err)
	}
	defer closer.Close()

	bal, err := decodeDecimal(val)
	if err != nil {
		return decimal.Zero, false, broker.NewStorageError("decode balance", err)
	}
	return bal, true, nil
}

// Position returns the committed holding of one symbol; false if no row.
func (s *Store) Position(username, symbol string) (decimal.Decimal, bool, error) {
	val, closer, err := s.db.Get(positionKey(username, symbol))
	if err == pebble.ErrNotFound {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, broker.NewStorageError("get position", err)
	}
	defer closer.Close()

	qty, err := decodeDecimal(val)
	if err != nil {
		return decimal.Zero, false, broker.NewStorageError("decode position", err)
	}
	return qty, true, nil
}

// Positions returns every held symbol and quantity for a user.
func (s *Store) Positions(username string) (map[string]decimal.Decimal, error) {
	prefix := positionPrefix(username)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, broker.NewStorageError("scan positions", err)
	}
	defer iter.Close()

	positions := make(map[string]decimal.Decimal)
	for iter.First(); iter.Valid(); iter.Next() {
		symbol := string(iter.Key()[len(prefix):])
		qty, err := decodeDecimal(iter.Value())
		if err != nil {
			return nil, broker.NewStorageError("decode position", err)
		}
		positions[symbol] = qty
	}
	if err := iter.Error(); err != nil {
		return nil, broker.NewStorageError("scan positions", err)
	}
	return positions, nil
}

// Orders returns the full order book in ascending id order.
func (s *Store) Orders() ([]broker.Order, error) {
	prefix := orderPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, broker.NewStorageError("scan orders", err)
	}
	defer iter.Close()

	var orders []broker.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o broker.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, broker.NewStorageError("decode order", err)
		}
		orders = append(orders, o)
	}
	if err := iter.Error(); err != nil {
		return nil, broker.NewStorageError("scan orders", err)
	}
	return orders, nil
}

// UserOrders returns the pending orders belonging to one user.
func (s *Store) UserOrders(username string) ([]broker.Order, error) {
	all, err := s.Orders()
	if err != nil {
		return nil, err
	}
	var orders []broker.Order
	for _, o := range all {
		if o.Username == username {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// Fills returns the most recent executed-trade records for a user, newest
// first, up to limit (0 = all).
func (s *Store) Fills(username string, limit int) ([]broker.Fill, error) {
	prefix := fillPrefix(username)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, broker.NewStorageError("scan fills", err)
	}
	defer iter.Close()

	var fills []broker.Fill
	for iter.Last(); iter.Valid() && (limit == 0 || len(fills) < limit); iter.Prev() {
		var f broker.Fill
		if err := json.Unmarshal(iter.Value(), &f); err != nil {
			return nil, broker.NewStorageError("decode fill", err)
		}
		fills = append(fills, f)
	}
	if err := iter.Error(); err != nil {
		return nil, broker.NewStorageError("scan fills", err)
	}
	return fills, nil
}

// Begin starts a transaction. Writes are staged in a pebble batch and become
// visible only after Commit; Close without Commit discards everything.
func (s *Store) Begin() *Tx {
	return &Tx{s: s, batch: s.db.NewBatch()}
}

// Tx stages a multi-row mutation. Not safe for concurrent use.
type Tx struct {
	s     *Store
	batch *pebble.Batch
	done  bool
}

func (tx *Tx) SetBalance(username string, balance decimal.Decimal) error {
	if err := tx.batch.Set(balanceKey(username), encodeDecimal(balance), nil); err != nil {
		return broker.NewStorageError("set balance", err)
	}
	return nil
}

func (tx *Tx) DeleteBalance(username string) error {
	if err := tx.batch.Delete(balanceKey(username), nil); err != nil {
		return broker.NewStorageError("delete balance", err)
	}
	return nil
}

func (tx *Tx) SetPosition(username, symbol string, qty decimal.Decimal) error {
	if err := tx.batch.Set(positionKey(username, symbol), encodeDecimal(qty), nil); err != nil {
		return broker.NewStorageError("set position", err)
	}
	return nil
}

func (tx *Tx) DeletePosition(username, symbol string) error {
	if err := tx.batch.Delete(positionKey(username, symbol), nil); err != nil {
		return broker.NewStorageError("delete position", err)
	}
	return nil
}

// InsertOrder assigns the next id to the order and stages it. Ids allocated
// to transactions that never commit are simply skipped.
func (tx *Tx) InsertOrder(o *broker.Order) error {
	tx.s.seqMu.Lock()
	o.ID = tx.s.nextSeq
	tx.s.nextSeq++
	tx.s.seqMu.Unlock()

	data, err := json.Marshal(o)
	if err != nil {
		return broker.NewStorageError("encode order", err)
	}
	if err := tx.batch.Set(orderKey(o.ID), data, nil); err != nil {
		return broker.NewStorageError("insert order", err)
	}
	if err := tx.batch.Set(keyOrderSeq, encodeUint64(o.ID), nil); err != nil {
		return broker.NewStorageError("bump order sequence", err)
	}
	return nil
}

func (tx *Tx) DeleteOrder(id uint64) error {
	if err := tx.batch.Delete(orderKey(id), nil); err != nil {
		return broker.NewStorageError("delete order", err)
	}
	return nil
}

func (tx *Tx) AppendFill(f broker.Fill) error {
	data, err := json.Marshal(f)
	if err != nil {
		return broker.NewStorageError("encode fill", err)
	}
	if err := tx.batch.Set(fillKey(f.Username, f.Timestamp, f.ID), data, nil); err != nil {
		return broker.NewStorageError("append fill", err)
	}
	return nil
}

// DeleteFills removes a user's whole fill history (account deletion cascade).
func (tx *Tx) DeleteFills(username string) error {
	prefix := fillPrefix(username)
	if err := tx.batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return broker.NewStorageError("delete fills", err)
	}
	return nil
}

// DeletePositions removes every position row of a user.
func (tx *Tx) DeletePositions(username string) error {
	prefix := positionPrefix(username)
	if err := tx.batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return broker.NewStorageError("delete positions", err)
	}
	return nil
}

// Commit makes every staged write durable atomically.
func (tx *Tx) Commit() error {
	tx.done = true
	if err := tx.batch.Commit(pebble.Sync); err != nil {
		tx.batch.Close()
		return broker.NewStorageError("commit", err)
	}
	return tx.batch.Close()
}

// Close discards the transaction if it was not committed.
func (tx *Tx) Close() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.batch.Close()
}
