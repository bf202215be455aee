package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Broker struct {
	// DBPath is the pebble directory holding balances, positions and orders.
	DBPath string
	// ListenAddr is the REST/WebSocket bind address.
	ListenAddr string
	// FeeBps is the trade fee in basis points of notional (10 = 0.1%).
	FeeBps int64
	// TickerSymbols are streamed over the websocket price feed.
	TickerSymbols []string
}

type Evaluator struct {
	// Interval between order-book evaluation cycles.
	//
	// Recommended values:
	//   - Production: 100s (matches the upstream broker's cadence)
	//   - Tests/dev:  something much shorter, or drive with a fake clock
	Interval time.Duration
	// OrderTimeout bounds a single order's evaluation+execution attempt
	// so one stuck oracle/store call cannot stall the whole cycle.
	OrderTimeout time.Duration
}

type Oracle struct {
	// Mode selects the price source: "sim" (seeded random walk) or
	// "yahoo" (Yahoo Finance chart endpoint).
	Mode string
	// Seed drives the sim oracle's walk; ignored in yahoo mode.
	Seed int64
}

type Config struct {
	Broker    Broker
	Evaluator Evaluator
	Oracle    Oracle
}

func Default() Config {
	return Config{
		Broker: Broker{
			DBPath:        "data/broker.db",
			ListenAddr:    ":8080",
			FeeBps:        10,
			TickerSymbols: []string{"AAPL", "MSFT", "GOOG"},
		},
		Evaluator: Evaluator{
			Interval:     100 * time.Second,
			OrderTimeout: 5 * time.Second,
		},
		Oracle: Oracle{
			Mode: "sim",
			Seed: 1,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("BROKER_DB_PATH"); v != "" {
		cfg.Broker.DBPath = v
	}
	if v := os.Getenv("BROKER_LISTEN_ADDR"); v != "" {
		cfg.Broker.ListenAddr = v
	}
	if v := os.Getenv("BROKER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil && bps >= 0 {
			cfg.Broker.FeeBps = bps
		}
	}
	if v := os.Getenv("BROKER_TICKER_SYMBOLS"); v != "" {
		// Example: "AAPL,MSFT,NVDA"
		cfg.Broker.TickerSymbols = strings.Split(v, ",")
	}

	if v := os.Getenv("EVAL_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.Evaluator.Interval = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("EVAL_ORDER_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Evaluator.OrderTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("ORACLE_MODE"); v != "" {
		cfg.Oracle.Mode = v
	}
	if v := os.Getenv("ORACLE_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Oracle.Seed = seed
		}
	}

	return cfg
}
