package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/avolkov/brokersim/pkg/broker"
	"github.com/avolkov/brokersim/pkg/util"
)

// Evaluator is the background loop that turns pending conditional orders
// into trades. Each cycle it snapshots the full order book and walks it in
// id order, pricing every order with its own oracle call. A single order's
// failure is logged and isolated; only a failure to list the book skips the
// cycle. The loop runs until its context is cancelled.
type Evaluator struct {
	engine   *Engine
	clock    util.Clock
	interval time.Duration
	// timeout bounds each order's evaluate+execute attempt so one stuck
	// oracle or store call cannot stall the rest of the cycle.
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewEvaluator(e *Engine, clock util.Clock, interval, timeout time.Duration, log *zap.SugaredLogger) *Evaluator {
	return &Evaluator{
		engine:   e,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run executes evaluation cycles on the configured interval until ctx is
// cancelled. No error is fatal: the loop always reaches the next tick.
func (ev *Evaluator) Run(ctx context.Context) {
	ev.log.Infow("evaluator_started", "interval", ev.interval)
	for {
		ev.Cycle(ctx)
		select {
		case <-ctx.Done():
			ev.log.Infow("evaluator_stopped")
			return
		case <-ev.clock.After(ev.interval):
		}
	}
}

// Cycle runs one evaluation pass over the order book.
func (ev *Evaluator) Cycle(ctx context.Context) {
	orders, err := ev.engine.Orders()
	if err != nil {
		// Store hiccup: report and retry the whole book next interval.
		ev.log.Warnw("order_book_listing_failed", "err", err)
		return
	}

	for _, o := range orders {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev.evaluate(ctx, o)
	}
}

func (ev *Evaluator) evaluate(ctx context.Context, o broker.Order) {
	octx, cancel := context.WithTimeout(ctx, ev.timeout)
	defer cancel()

	ok, err := ev.engine.CanExecute(octx, o)
	if err != nil {
		// Usually ErrPriceUnavailable; the order stays pending.
		ev.log.Warnw("order_evaluation_failed", "id", o.ID, "symbol", o.Symbol, "err", err)
		return
	}
	if !ok {
		return
	}

	if _, err := ev.engine.ExecuteOrder(octx, o); err != nil {
		// Insufficient funds/position at execution time, or the price went
		// away mid-attempt. Rolled back; retried next cycle.
		if errors.Is(err, broker.ErrInsufficientFunds) ||
			errors.Is(err, broker.ErrInsufficientPosition) ||
			errors.Is(err, broker.ErrPriceUnavailable) {
			ev.log.Infow("order_execution_deferred", "id", o.ID, "err", err)
			return
		}
		ev.log.Errorw("order_execution_failed", "id", o.ID, "err", err)
	}
}
