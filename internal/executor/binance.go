package executor

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BinanceExecutor implements Executor for Binance spot markets.
type BinanceExecutor struct {
	client *binance.Client
}

// NewBinanceExecutor creates a new Binance order executor.
func NewBinanceExecutor(client *binance.Client) *BinanceExecutor {
	return &BinanceExecutor{client: client}
}

// MarketBuy places a market buy sized in the quote currency.
func (e *BinanceExecutor) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal, clientOrderID string) (Fill, error) {
	quoteAmount = quoteAmount.RoundFloor(4)

	res, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quoteAmount.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return Fill{}, errors.Wrapf(err, "failed to create buy order for %s", symbol)
	}

	return fillFromResponse(res)
}

// MarketSell places a market sell sized in the base currency.
func (e *BinanceExecutor) MarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (Fill, error) {
	quantity = quantity.RoundFloor(4)

	res, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return Fill{}, errors.Wrapf(err, "failed to create sell order for %s", symbol)
	}

	return fillFromResponse(res)
}

// GetHoldings returns the free spot balance of the given asset.
func (e *BinanceExecutor) GetHoldings(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to get binance account balance")
	}

	for _, balance := range account.Balances {
		if balance.Asset == asset {
			free, err := decimal.NewFromString(balance.Free)
			if err != nil {
				return decimal.Zero, errors.Wrap(err, "failed to parse balance")
			}
			return free, nil
		}
	}

	return decimal.Zero, nil
}

// fillFromResponse aggregates the partial fills of a market order into the
// total executed quantity and its weighted average price.
func fillFromResponse(res *binance.CreateOrderResponse) (Fill, error) {
	totalQty := decimal.Zero
	totalCost := decimal.Zero

	for _, f := range res.Fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return Fill{}, errors.Wrap(err, "failed to parse fill price")
		}
		qty, err := decimal.NewFromString(f.Quantity)
		if err != nil {
			return Fill{}, errors.Wrap(err, "failed to parse fill quantity")
		}
		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(price.Mul(qty))
	}

	fill := Fill{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Time:    time.Unix(0, res.TransactTime*int64(time.Millisecond)),
	}
	if totalQty.GreaterThan(decimal.Zero) {
		fill.Quantity = totalQty
		fill.Price = totalCost.Div(totalQty)
	}

	return fill, nil
}
