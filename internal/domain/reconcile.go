package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WeightedAveragePrice folds a new fill into an existing cost basis.
// With no prior holdings the result is simply the fill price.
func WeightedAveragePrice(avgPrice, heldQty, fillPrice, fillQty decimal.Decimal) decimal.Decimal {
	totalQty := heldQty.Add(fillQty)
	if totalQty.LessThanOrEqual(decimal.Zero) {
		return avgPrice
	}
	if heldQty.LessThanOrEqual(decimal.Zero) || avgPrice.LessThanOrEqual(decimal.Zero) {
		return fillPrice
	}
	totalCost := avgPrice.Mul(heldQty).Add(fillPrice.Mul(fillQty))
	return totalCost.Div(totalQty)
}

// Metrics is the derived financial view of a bot, computed from live
// exchange holdings and the recorded average purchase price. Holdings are
// the source of truth: invested capital is always holdings times average
// price, never a separately accumulated counter, so partial exits can
// never leave the two out of sync.
type Metrics struct {
	Holdings        decimal.Decimal `json:"holdings"`
	AveragePrice    decimal.Decimal `json:"average_price"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPct   decimal.Decimal `json:"unrealized_pct"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	HoldingsStale   bool            `json:"holdings_stale,omitempty"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// Reconcile computes bot metrics from exchange holdings at the given price.
func Reconcile(bot *BotInstance, holdings, currentPrice decimal.Decimal, stale bool, now time.Time) Metrics {
	m := Metrics{
		Holdings:      holdings,
		AveragePrice:  bot.AveragePurchasePrice,
		HoldingsStale: stale,
		ComputedAt:    now,
	}

	if holdings.GreaterThan(decimal.Zero) && bot.AveragePurchasePrice.GreaterThan(decimal.Zero) {
		m.TotalInvested = holdings.Mul(bot.AveragePurchasePrice)
		m.TakeProfitPrice = TakeProfitPrice(bot.AveragePurchasePrice, bot.Config.TpTarget)
	}

	if holdings.GreaterThan(decimal.Zero) && currentPrice.GreaterThan(decimal.Zero) {
		m.CurrentValue = holdings.Mul(currentPrice)
		m.UnrealizedPnL = m.CurrentValue.Sub(m.TotalInvested)
		if m.TotalInvested.GreaterThan(decimal.Zero) {
			m.UnrealizedPct = m.UnrealizedPnL.Div(m.TotalInvested).Mul(hundred)
		}
	}

	return m
}
