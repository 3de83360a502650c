// Package market builds point-in-time market context for symbols: price,
// technical and trend scores, and support/resistance levels.
package market

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Daly187/DalyKraken2.0-sub000/pkg/indicators"
)

// Provider fetches raw market data from an exchange.
type Provider interface {
	// GetPrice returns the last traded price for the symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetCandles fetches recent klines for the symbol.
	// interval is the kline interval (e.g. "1m", "5m", "1h").
	GetCandles(ctx context.Context, symbol string, interval string, limit int) ([]indicators.Candle, error)
}
