package bots

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Strategy is one trading behavior composed over a shared Client. Setup runs
// once (account funding, initial purchases); Step runs every tick.
type Strategy interface {
	Name() string
	Setup(ctx context.Context) error
	Step(ctx context.Context) error
}

// Runner drives a strategy on a fixed interval until ctx is cancelled.
// A failing step is logged and retried next tick, mirroring how the broker
// itself treats per-order errors.
type Runner struct {
	strategy Strategy
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewRunner(s Strategy, interval time.Duration, log *zap.SugaredLogger) *Runner {
	return &Runner{strategy: s, interval: interval, log: log}
}

func (r *Runner) Run(ctx context.Context) error {
	if err := r.strategy.Setup(ctx); err != nil {
		return err
	}
	r.log.Infow("bot_started", "strategy", r.strategy.Name(), "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Infow("bot_stopped", "strategy", r.strategy.Name())
			return ctx.Err()
		case <-ticker.C:
			if err := r.strategy.Step(ctx); err != nil {
				r.log.Warnw("bot_step_failed", "strategy", r.strategy.Name(), "err", err)
			}
		}
	}
}
