package market

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
	"github.com/Daly187/DalyKraken2.0-sub000/pkg/indicators"
)

const (
	defaultInterval    = "5m"
	defaultCandleLimit = 100
	fetchTimeout       = 30 * time.Second
)

// ContextBuilder assembles a domain.MarketContext from provider data.
type ContextBuilder struct {
	provider Provider
	interval string
	limit    int
}

// NewContextBuilder creates a builder with the default kline window.
func NewContextBuilder(provider Provider) *ContextBuilder {
	return &ContextBuilder{
		provider: provider,
		interval: defaultInterval,
		limit:    defaultCandleLimit,
	}
}

// Build fetches price and candles and derives scores and levels.
func (b *ContextBuilder) Build(ctx context.Context, symbol string) (domain.MarketContext, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	price, err := b.provider.GetPrice(ctx, symbol)
	if err != nil {
		return domain.MarketContext{}, errors.Wrapf(err, "failed to fetch price for %s", symbol)
	}

	candles, err := b.provider.GetCandles(ctx, symbol, b.interval, b.limit)
	if err != nil {
		return domain.MarketContext{}, errors.Wrapf(err, "failed to fetch candles for %s", symbol)
	}
	if len(candles) < indicators.MinCandles {
		return domain.MarketContext{}, errors.Errorf("insufficient kline data for %s: need at least %d, got %d",
			symbol, indicators.MinCandles, len(candles))
	}

	snap, err := indicators.Latest(candles)
	if err != nil {
		return domain.MarketContext{}, errors.Wrapf(err, "failed to calculate indicators for %s", symbol)
	}

	support, resistance := indicators.SupportResistance(candles[len(candles)-indicators.MinCandles:])

	return domain.MarketContext{
		Symbol:     symbol,
		Price:      price,
		TechScore:  TechScore(snap),
		TrendScore: TrendScore(snap),
		Support:    support,
		Resistance: resistance,
		FetchedAt:  time.Now(),
	}, nil
}

// TechScore maps momentum indicators onto a 0-100 scale. RSI14 is the base,
// shifted by 10 points in the direction of the MACD line.
func TechScore(snap indicators.Snapshot) float64 {
	score, _ := snap.RSI14.Float64()

	if snap.MACD.GreaterThan(decimal.Zero) {
		score += 10
	} else if snap.MACD.LessThan(decimal.Zero) {
		score -= 10
	}

	return clampScore(score)
}

// TrendScore maps moving average structure onto a 0-100 scale: 25 points
// for price above EMA20 and 25 for EMA20 above EMA50, starting from neutral.
func TrendScore(snap indicators.Snapshot) float64 {
	score := 50.0

	if snap.Close.GreaterThan(snap.EMA20) {
		score += 25
	} else {
		score -= 25
	}

	if snap.EMA20.GreaterThan(snap.EMA50) {
		score += 25
	} else {
		score -= 25
	}

	return clampScore(score)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
