// Package executor places market orders and reads account holdings on the
// configured exchange.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fill is the outcome of an executed market order.
type Fill struct {
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Time     time.Time
}

// Executor abstracts order placement and holdings lookup for one exchange.
type Executor interface {
	// MarketBuy spends quoteAmount of the quote currency buying the symbol.
	MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal, clientOrderID string) (Fill, error)
	// MarketSell sells the given base quantity of the symbol.
	MarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (Fill, error)
	// GetHoldings returns the free balance of the given asset.
	GetHoldings(ctx context.Context, asset string) (decimal.Decimal, error)
}

var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "BTC", "ETH"}

// SplitSymbol splits a trading symbol like BTCUSDT into base and quote
// assets. Unrecognized quote suffixes fall back to USDT.
func SplitSymbol(symbol string) (base, quote string) {
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, "USDT"
}
