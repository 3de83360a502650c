package executor

import (
	"context"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BybitExecutor implements Executor for Bybit spot markets on the unified
// account.
type BybitExecutor struct {
	client *bybit.Client
}

// NewBybitExecutor creates a new Bybit order executor.
func NewBybitExecutor(client *bybit.Client) *BybitExecutor {
	return &BybitExecutor{client: client}
}

// MarketBuy places a market buy. Bybit spot market buys are sized in the
// quote currency already.
func (e *BybitExecutor) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal, clientOrderID string) (Fill, error) {
	quoteAmount = quoteAmount.RoundFloor(4)

	res, err := e.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(symbol),
		Side:        bybit.SideBuy,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         quoteAmount.String(),
		OrderLinkID: &clientOrderID,
	})
	if err != nil {
		return Fill{}, errors.Wrapf(err, "failed to create buy order for %s", symbol)
	}

	return e.fillFromTicker(ctx, symbol, quoteAmount, res.Result.OrderID, true)
}

// MarketSell places a market sell sized in the base currency.
func (e *BybitExecutor) MarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (Fill, error) {
	quantity = quantity.RoundFloor(4)

	res, err := e.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(symbol),
		Side:        bybit.SideSell,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         quantity.String(),
		OrderLinkID: &clientOrderID,
	})
	if err != nil {
		return Fill{}, errors.Wrapf(err, "failed to create sell order for %s", symbol)
	}

	return e.fillFromTicker(ctx, symbol, quantity, res.Result.OrderID, false)
}

// GetHoldings returns the asset balance on the unified account.
func (e *BybitExecutor) GetHoldings(ctx context.Context, asset string) (decimal.Decimal, error) {
	res, err := e.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to get bybit wallet balance")
	}

	if len(res.Result.List) == 0 {
		return decimal.Zero, nil
	}

	for _, coin := range res.Result.List[0].Coin {
		if string(coin.Coin) == asset {
			balance, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return decimal.Zero, errors.Wrap(err, "failed to parse balance")
			}
			return balance, nil
		}
	}

	return decimal.Zero, nil
}

// fillFromTicker estimates the executed fill from the current ticker price.
// The Bybit V5 create-order response carries no execution details, so the
// fill is approximated immediately after placement.
func (e *BybitExecutor) fillFromTicker(ctx context.Context, symbol string, amount decimal.Decimal, orderID string, quoteSized bool) (Fill, error) {
	sym := bybit.SymbolV5(symbol)

	tickers, err := e.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &sym,
	})
	if err != nil {
		return Fill{}, errors.Wrapf(err, "order %s placed but price lookup failed", orderID)
	}
	if len(tickers.Result.Spot.List) == 0 {
		return Fill{}, errors.Errorf("order %s placed but no ticker returned for %s", orderID, symbol)
	}

	price, err := decimal.NewFromString(tickers.Result.Spot.List[0].LastPrice)
	if err != nil {
		return Fill{}, errors.Wrap(err, "failed to parse ticker price")
	}

	fill := Fill{OrderID: orderID, Price: price, Time: time.Now()}
	if quoteSized {
		if price.GreaterThan(decimal.Zero) {
			fill.Quantity = amount.Div(price)
		}
	} else {
		fill.Quantity = amount
	}

	return fill, nil
}
