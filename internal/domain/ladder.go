package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const percentageMultiplier = 100

var hundred = decimal.NewFromInt(percentageMultiplier)

// LadderStep is the computed trigger for one ladder entry.
type LadderStep struct {
	// TriggerPrice is the price at or below which the entry may fire.
	// Zero for the initial entry, which has no price condition.
	TriggerPrice decimal.Decimal
	// OrderAmount is the quote-currency size of the entry order.
	OrderAmount decimal.Decimal
	// DropPercent is the required drop relative to the previous fill.
	DropPercent decimal.Decimal
}

// NextEntry computes the trigger price and order size for entry number n
// (1-based; n=1 is the initial entry). The ladder is relative to the last
// fill: each re-entry requires a drop of stepPercent·stepMultiplier^(n-2)
// from the previous fill price, and sizes grow by tradeMultiplier^(n-1).
// Multipliers of exactly 1 degenerate to fixed steps and fixed sizes.
func NextEntry(cfg BotConfig, entryNumber int, lastFillPrice decimal.Decimal) (LadderStep, error) {
	if entryNumber < 1 {
		return LadderStep{}, fmt.Errorf("entryNumber must be >= 1, got %d", entryNumber)
	}
	if entryNumber > cfg.MaxEntries() {
		return LadderStep{}, fmt.Errorf("entryNumber %d exceeds ladder budget of %d", entryNumber, cfg.MaxEntries())
	}

	amount := cfg.InitialOrderAmount.Mul(cfg.TradeMultiplier.Pow(decimal.NewFromInt(int64(entryNumber - 1))))

	if entryNumber == 1 {
		return LadderStep{OrderAmount: amount, DropPercent: decimal.Zero}, nil
	}

	if lastFillPrice.LessThanOrEqual(decimal.Zero) {
		return LadderStep{}, fmt.Errorf("lastFillPrice must be positive for re-entry %d, got %s", entryNumber, lastFillPrice.String())
	}

	drop := cfg.StepPercent.Mul(cfg.StepMultiplier.Pow(decimal.NewFromInt(int64(entryNumber - 2))))
	trigger := lastFillPrice.Mul(one.Sub(drop.Div(hundred)))

	return LadderStep{
		TriggerPrice: trigger,
		OrderAmount:  amount,
		DropPercent:  drop,
	}, nil
}

// PercentageDiff returns the percentage difference of current vs reference.
func PercentageDiff(current, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).Div(reference).Mul(hundred)
}
