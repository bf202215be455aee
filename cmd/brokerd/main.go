package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/brokersim/params"
	"github.com/avolkov/brokersim/pkg/api"
	"github.com/avolkov/brokersim/pkg/broker"
	"github.com/avolkov/brokersim/pkg/engine"
	"github.com/avolkov/brokersim/pkg/oracle"
	"github.com/avolkov/brokersim/pkg/storage"
	"github.com/avolkov/brokersim/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/brokerd.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Durable store: ledger + order book ----
	store, err := storage.Open(cfg.Broker.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Broker.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Price oracle ----
	var priceOracle broker.PriceOracle
	switch cfg.Oracle.Mode {
	case "yahoo":
		priceOracle = oracle.NewYahoo()
	default:
		priceOracle = oracle.NewSim(cfg.Oracle.Seed)
	}
	sugar.Infow("oracle_selected", "mode", cfg.Oracle.Mode)

	// ---- Accounting engine + order evaluator ----
	feeRate := decimal.New(cfg.Broker.FeeBps, -4)
	eng := engine.New(store, priceOracle, feeRate, sugar)
	ev := engine.NewEvaluator(eng, util.RealClock{}, cfg.Evaluator.Interval,
		cfg.Evaluator.OrderTimeout, sugar)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ev.Run(ctx)

	// ---- API ----
	server := api.NewServer(eng, priceOracle, sugar)
	go server.RunTicker(ctx, cfg.Broker.TickerSymbols, cfg.Evaluator.Interval)
	go func() {
		if err := server.Start(cfg.Broker.ListenAddr); err != nil {
			sugar.Fatalw("api_failed", "err", err)
		}
	}()

	// Graceful shutdown: stop the evaluator loop, drain the API, close the DB.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	sugar.Infow("shutting_down", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
}
