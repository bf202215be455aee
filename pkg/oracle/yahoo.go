package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/brokersim/pkg/broker"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=1d&range=1d"

// Yahoo quotes symbols from the Yahoo Finance chart endpoint (the production
// price source; Sim replaces it in tests). Any transport, decode or missing-
// data failure surfaces as a plain error that the engine wraps into
// ErrPriceUnavailable.
type Yahoo struct {
	client *http.Client
}

func NewYahoo() *Yahoo {
	return &Yahoo{client: &http.Client{Timeout: 10 * time.Second}}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(yahooChartURL, symbol), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("User-Agent", "brokersim/1.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("chart endpoint returned %s", resp.Status)
	}

	var chart yahooChart
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return decimal.Zero, err
	}
	if chart.Chart.Error != nil {
		return decimal.Zero, fmt.Errorf("chart error: %s", chart.Chart.Error.Code)
	}
	if len(chart.Chart.Result) == 0 {
		return decimal.Zero, fmt.Errorf("no data for %s", symbol)
	}

	price := chart.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("no market price for %s", symbol)
	}
	return decimal.NewFromFloat(price), nil
}

var _ broker.PriceOracle = (*Yahoo)(nil)
