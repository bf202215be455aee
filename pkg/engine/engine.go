package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avolkov/brokersim/pkg/broker"
	"github.com/avolkov/brokersim/pkg/storage"
)

// Engine is the accounting core: it computes trade economics and applies
// them to the ledger as single atomic batches. Mutations on the same account
// are serialized through striped locks, so a committed read inside the lock
// plus a batch commit behaves like a per-account transaction: no lost
// updates, no observable partial state.
type Engine struct {
	store   *storage.Store
	oracle  broker.PriceOracle
	feeRate decimal.Decimal
	log     *zap.SugaredLogger

	locks [64]sync.Mutex
}

func New(store *storage.Store, oracle broker.PriceOracle, feeRate decimal.Decimal, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:   store,
		oracle:  oracle,
		feeRate: feeRate,
		log:     log,
	}
}

func nowMilli() int64 { return time.Now().UnixMilli() }

func (e *Engine) accountLock(username string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(username))
	return &e.locks[h.Sum32()%uint32(len(e.locks))]
}

func (e *Engine) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, err := e.oracle.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", broker.ErrPriceUnavailable, symbol, err)
	}
	return p, nil
}

// UserExists reports whether an account (balance row) exists.
func (e *Engine) UserExists(username string) (bool, error) {
	_, ok, err := e.store.Balance(username)
	return ok, err
}

// CreateAccount opens an account with a zero balance.
func (e *Engine) CreateAccount(username string) error {
	mu := e.accountLock(username)
	mu.Lock()
	defer mu.Unlock()

	_, exists, err := e.store.Balance(username)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", broker.ErrUserExists, username)
	}

	tx := e.store.Begin()
	defer tx.Close()
	if err := tx.SetBalance(username, decimal.Zero); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log.Infow("account_created", "user", username)
	return nil
}

// DeleteAccount removes the balance row and cascades to positions, pending
// orders and fill history in one atomic batch. No orphaned rows survive.
func (e *Engine) DeleteAccount(username string) error {
	mu := e.accountLock(username)
	mu.Lock()
	defer mu.Unlock()

	_, exists, err := e.store.Balance(username)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}

	orders, err := e.store.UserOrders(username)
	if err != nil {
		return err
	}

	tx := e.store.Begin()
	defer tx.Close()
	if err := tx.DeleteBalance(username); err != nil {
		return err
	}
	if err := tx.DeletePositions(username); err != nil {
		return err
	}
	for _, o := range orders {
		if err := tx.DeleteOrder(o.ID); err != nil {
			return err
		}
	}
	if err := tx.DeleteFills(username); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log.Infow("account_deleted", "user", username, "cascaded_orders", len(orders))
	return nil
}

// Topup adds cash to an account. Amount must be strictly positive.
func (e *Engine) Topup(ctx context.Context, username string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: topup %s", broker.ErrInvalidAmount, amount)
	}

	mu := e.accountLock(username)
	mu.Lock()
	defer mu.Unlock()

	bal, exists, err := e.store.Balance(username)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}

	tx := e.store.Begin()
	defer tx.Close()
	if err := tx.SetBalance(username, bal.Add(amount)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log.Infow("topup", "user", username, "amount", amount)
	return nil
}

// Buy purchases quantity of symbol at the current oracle price, debiting
// total+fee. Fails with no state change when funds are insufficient.
func (e *Engine) Buy(ctx context.Context, username, symbol string, qty decimal.Decimal) (broker.Trade, error) {
	if qty.Sign() <= 0 {
		return broker.Trade{}, fmt.Errorf("%w: buy %s", broker.ErrInvalidAmount, qty)
	}

	mu := e.accountLock(username)
	mu.Lock()
	defer mu.Unlock()

	tx := e.store.Begin()
	defer tx.Close()

	trade, err := e.stageBuy(ctx, tx, username, symbol, qty, 0)
	if err != nil {
		return broker.Trade{}, err
	}
	if err := tx.Commit(); err != nil {
		return broker.Trade{}, err
	}
	e.log.Infow("buy", "user", username, "symbol", symbol, "qty", qty,
		"price", trade.UnitPrice, "fee", trade.Fee)
	return trade, nil
}

// Sell liquidates quantity of symbol at the current oracle price, crediting
// total-fee. The position must cover the quantity; a position reaching
// exactly zero is deleted rather than kept as a zero row.
func (e *Engine) Sell(ctx context.Context, username, symbol string, qty decimal.Decimal) (broker.Trade, error) {
	if qty.Sign() <= 0 {
		return broker.Trade{}, fmt.Errorf("%w: sell %s", broker.ErrInvalidAmount, qty)
	}

	mu := e.accountLock(username)
	mu.Lock()
	defer mu.Unlock()

	tx := e.store.Begin()
	defer tx.Close()

	trade, err := e.stageSell(ctx, tx, username, symbol, qty, 0)
	if err != nil {
		return broker.Trade{}, err
	}
	if err := tx.Commit(); err != nil {
		return broker.Trade{}, err
	}
	e.log.Infow("sell", "user", username, "symbol", symbol, "qty", qty,
		"price", trade.UnitPrice, "fee", trade.Fee)
	return trade, nil
}

// stageBuy validates and stages a buy onto tx. Caller holds the account lock
// and commits. orderID links the fill to a conditional order (0 = direct).
func (e *Engine) stageBuy(ctx context.Context, tx *storage.Tx, username, symbol string, qty decimal.Decimal, orderID uint64) (broker.Trade, error) {
	bal, exists, err := e.store.Balance(username)
	if err != nil {
		return broker.Trade{}, err
	}
	if !exists {
		return broker.Trade{}, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}

	price, err := e.price(ctx, symbol)
	if err != nil {
		return broker.Trade{}, err
	}

	trade := broker.NewTrade(symbol, broker.Buy, qty, price, e.feeRate)
	newBal := bal.Add(trade.CashDelta())
	if newBal.Sign() < 0 {
		return broker.Trade{}, fmt.Errorf("%w: need %s, have %s",
			broker.ErrInsufficientFunds, trade.Total.Add(trade.Fee), bal)
	}

	pos, _, err := e.store.Position(username, symbol)
	if err != nil {
		return broker.Trade{}, err
	}
	if err := tx.SetBalance(username, newBal); err != nil {
		return broker.Trade{}, err
	}
	if err := tx.SetPosition(username, symbol, pos.Add(qty)); err != nil {
		return broker.Trade{}, err
	}
	if err := tx.AppendFill(broker.NewFill(username, trade, orderID)); err != nil {
		return broker.Trade{}, err
	}
	return trade, nil
}

// stageSell is the sell counterpart of stageBuy.
func (e *Engine) stageSell(ctx context.Context, tx *storage.Tx, username, symbol string, qty decimal.Decimal, orderID uint64) (broker.Trade, error) {
	bal, exists, err := e.store.Balance(username)
	if err != nil {
		return broker.Trade{}, err
	}
	if !exists {
		return broker.Trade{}, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}

	pos, held, err := e.store.Position(username, symbol)
	if err != nil {
		return broker.Trade{}, err
	}
	if !held || pos.Cmp(qty) < 0 {
		return broker.Trade{}, fmt.Errorf("%w: %s holds %s %s, selling %s",
			broker.ErrInsufficientPosition, username, pos, symbol, qty)
	}

	price, err := e.price(ctx, symbol)
	if err != nil {
		return broker.Trade{}, err
	}

	trade := broker.NewTrade(symbol, broker.Sell, qty, price, e.feeRate)
	if err := tx.SetBalance(username, bal.Add(trade.CashDelta())); err != nil {
		return broker.Trade{}, err
	}

	remaining := pos.Sub(qty)
	if remaining.Sign() == 0 {
		if err := tx.DeletePosition(username, symbol); err != nil {
			return broker.Trade{}, err
		}
	} else {
		if err := tx.SetPosition(username, symbol, remaining); err != nil {
			return broker.Trade{}, err
		}
	}
	if err := tx.AppendFill(broker.NewFill(username, trade, orderID)); err != nil {
		return broker.Trade{}, err
	}
	return trade, nil
}

// Balance returns committed cash for a user.
func (e *Engine) Balance(username string) (decimal.Decimal, error) {
	bal, exists, err := e.store.Balance(username)
	if err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}
	return bal, nil
}

// Account returns a combined snapshot of cash and holdings.
func (e *Engine) Account(username string) (broker.Account, error) {
	bal, exists, err := e.store.Balance(username)
	if err != nil {
		return broker.Account{}, err
	}
	if !exists {
		return broker.Account{}, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}
	positions, err := e.store.Positions(username)
	if err != nil {
		return broker.Account{}, err
	}
	return broker.Account{Username: username, Balance: bal, Positions: positions}, nil
}

// Portfolio returns every held symbol and quantity.
func (e *Engine) Portfolio(username string) (map[string]decimal.Decimal, error) {
	_, exists, err := e.store.Balance(username)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}
	return e.store.Positions(username)
}

// NetWorth is cash plus the market value of every position. Strict mode: if
// any held symbol cannot be priced the whole operation fails with
// ErrPriceUnavailable rather than returning a misleading partial sum.
func (e *Engine) NetWorth(ctx context.Context, username string) (decimal.Decimal, error) {
	bal, exists, err := e.store.Balance(username)
	if err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}

	positions, err := e.store.Positions(username)
	if err != nil {
		return decimal.Zero, err
	}

	worth := bal
	for symbol, qty := range positions {
		price, err := e.price(ctx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		worth = worth.Add(qty.Mul(price))
	}
	return worth, nil
}

// Fills returns recent executed trades for a user, newest first.
func (e *Engine) Fills(username string, limit int) ([]broker.Fill, error) {
	_, exists, err := e.store.Balance(username)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}
	return e.store.Fills(username, limit)
}

// SubmitOrder validates and persists a conditional order. There is no
// balance or position check here: sufficiency is verified at execution time,
// since the trigger may not hold for a long while and balances change.
// The account lock orders submission against DeleteAccount's cascade, so an
// order can never outlive its user.
func (e *Engine) SubmitOrder(ctx context.Context, username, orderType, symbol string, qty, triggerPrice decimal.Decimal) (broker.Order, error) {
	if err := ctx.Err(); err != nil {
		return broker.Order{}, err
	}
	typ, err := broker.ParseOrderType(orderType)
	if err != nil {
		return broker.Order{}, err
	}
	if qty.Sign() <= 0 {
		return broker.Order{}, fmt.Errorf("%w: order quantity %s", broker.ErrInvalidAmount, qty)
	}

	mu := e.accountLock(username)
	mu.Lock()
	defer mu.Unlock()

	exists, err := e.UserExists(username)
	if err != nil {
		return broker.Order{}, err
	}
	if !exists {
		return broker.Order{}, fmt.Errorf("%w: %s", broker.ErrUnknownUser, username)
	}

	o := broker.Order{
		Username:     username,
		Symbol:       symbol,
		Type:         typ,
		TriggerPrice: triggerPrice,
		Quantity:     qty,
		CreatedAt:    nowMilli(),
	}

	tx := e.store.Begin()
	defer tx.Close()
	if err := tx.InsertOrder(&o); err != nil {
		return broker.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return broker.Order{}, err
	}
	e.log.Infow("order_submitted", "id", o.ID, "user", username, "type", typ.String(),
		"symbol", symbol, "qty", qty, "trigger", triggerPrice)
	return o, nil
}

// Orders returns the full pending order book in id order.
func (e *Engine) Orders() ([]broker.Order, error) {
	return e.store.Orders()
}

// UserOrders returns one user's pending orders.
func (e *Engine) UserOrders(username string) ([]broker.Order, error) {
	return e.store.UserOrders(username)
}

// CanExecute samples the symbol's price and reports whether the order's
// trigger condition holds. A pricing failure keeps the order pending.
func (e *Engine) CanExecute(ctx context.Context, o broker.Order) (bool, error) {
	price, err := e.price(ctx, o.Symbol)
	if err != nil {
		return false, err
	}
	return o.Triggered(price), nil
}

// ExecuteOrder applies the order's trade and deletes the order in one atomic
// batch. On any failure the batch is discarded and the order stays pending
// for the next evaluation cycle; it is never dropped without its trade.
func (e *Engine) ExecuteOrder(ctx context.Context, o broker.Order) (broker.Trade, error) {
	mu := e.accountLock(o.Username)
	mu.Lock()
	defer mu.Unlock()

	tx := e.store.Begin()
	defer tx.Close()

	var (
		trade broker.Trade
		err   error
	)
	switch o.Type.Side() {
	case broker.Buy:
		trade, err = e.stageBuy(ctx, tx, o.Username, o.Symbol, o.Quantity, o.ID)
	case broker.Sell:
		trade, err = e.stageSell(ctx, tx, o.Username, o.Symbol, o.Quantity, o.ID)
	}
	if err != nil {
		return broker.Trade{}, err
	}
	if err := tx.DeleteOrder(o.ID); err != nil {
		return broker.Trade{}, err
	}
	if err := tx.Commit(); err != nil {
		return broker.Trade{}, err
	}
	e.log.Infow("order_executed", "id", o.ID, "user", o.Username, "type", o.Type.String(),
		"symbol", o.Symbol, "qty", o.Quantity, "price", trade.UnitPrice)
	return trade, nil
}
