package oracle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/avolkov/brokersim/pkg/broker"
)

// Sim is a deterministic simulated market: each symbol gets a seeded base
// price and performs a small random walk on every quote. Symbols can be
// marked unavailable to exercise the PriceUnavailable path.
type Sim struct {
	mu          sync.Mutex
	rng         *rand.Rand
	prices      map[string]decimal.Decimal
	unavailable map[string]bool
}

func NewSim(seed int64) *Sim {
	return &Sim{
		rng:         rand.New(rand.NewSource(seed)),
		prices:      make(map[string]decimal.Decimal),
		unavailable: make(map[string]bool),
	}
}

// SetPrice pins a symbol to an exact price and clears any unavailable mark.
func (s *Sim) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	delete(s.unavailable, symbol)
}

// SetUnavailable makes GetPrice fail for the symbol until SetPrice is called.
func (s *Sim) SetUnavailable(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[symbol] = true
}

// Drift applies one random-walk step (up to ±1%) to a symbol's price.
func (s *Sim) Drift(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[symbol]
	if !ok {
		price = s.seedPrice(symbol)
	}
	step := decimal.NewFromFloat((s.rng.Float64() - 0.5) / 50)
	s.prices[symbol] = price.Add(price.Mul(step))
}

func (s *Sim) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable[symbol] {
		return decimal.Zero, fmt.Errorf("no quote for %s", symbol)
	}
	price, ok := s.prices[symbol]
	if !ok {
		price = s.seedPrice(symbol)
		s.prices[symbol] = price
	}
	return price, nil
}

// seedPrice derives a stable-ish starting price in [10, 510). Caller holds mu.
func (s *Sim) seedPrice(symbol string) decimal.Decimal {
	return decimal.NewFromFloat(10 + s.rng.Float64()*500).Round(2)
}

var _ broker.PriceOracle = (*Sim)(nil)
