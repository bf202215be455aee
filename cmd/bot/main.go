package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/brokersim/pkg/bots"
	"github.com/avolkov/brokersim/pkg/util"
)

func main() {
	var (
		brokerURL = flag.String("broker", "http://127.0.0.1:8080", "broker base URL")
		username  = flag.String("user", "bot", "bot account username")
		strategy  = flag.String("strategy", "random", "strategy: random | buyhold | churn")
		symbols   = flag.String("symbols", "AAPL,MSFT,GOOG,AMZN", "comma-separated symbols")
		funding   = flag.String("funding", "1000", "initial topup amount")
		interval  = flag.Duration("interval", 5*time.Second, "step interval")
		rounds    = flag.Int("rounds", 1000, "churn rounds")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random strategy seed")
	)
	flag.Parse()

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	amount, err := decimal.NewFromString(*funding)
	if err != nil {
		sugar.Fatalw("invalid_funding", "value", *funding)
	}
	syms := strings.Split(*symbols, ",")

	client := bots.NewClient(*brokerURL, *username)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fresh account per run; ignore the conflict if it already exists.
	if err := client.CreateUser(ctx); err != nil {
		sugar.Warnw("create_user", "err", err)
	}

	var s bots.Strategy
	switch *strategy {
	case "random":
		s = bots.NewRandom(client, syms, amount, *seed)
	case "buyhold":
		s = bots.NewBuyAndHold(client, syms, amount)
	case "churn":
		s = bots.NewChurn(client, syms[0], amount, *rounds)
	default:
		sugar.Fatalw("unknown_strategy", "strategy", *strategy)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	runner := bots.NewRunner(s, *interval, sugar)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("bot_failed", "err", err)
	}
}
