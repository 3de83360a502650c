package market

import (
	"context"
	"fmt"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Daly187/DalyKraken2.0-sub000/pkg/indicators"
)

// BybitProvider implements Provider for Bybit spot markets.
type BybitProvider struct {
	client *bybit.Client
}

// NewBybitProvider creates a new Bybit market data provider.
func NewBybitProvider(client *bybit.Client) *BybitProvider {
	return &BybitProvider{client: client}
}

// GetPrice returns the last traded price for the symbol.
func (p *BybitProvider) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := bybit.SymbolV5(symbol)

	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &sym,
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch price from Bybit for %s", symbol)
	}

	if len(result.Result.Spot.List) == 0 {
		return decimal.Decimal{}, errors.Errorf("bybit API returned empty prices for %s", symbol)
	}

	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

// GetCandles fetches kline data from Bybit.
func (p *BybitProvider) GetCandles(ctx context.Context, symbol string, interval string, limit int) ([]indicators.Candle, error) {
	// Note: Bybit kline API implementation is pending
	return nil, fmt.Errorf("bybit kline provider is not yet implemented - please use Binance for trend-gated bots")
}
