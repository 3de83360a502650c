package domain

import (
	"github.com/shopspring/decimal"
)

// ExitPolicy selects the bearish-trend rule that ends the hold phase.
// The source UI only shows the price-retrace rule explicitly, so the trend
// reversal condition stays configurable instead of hardcoded.
type ExitPolicy int

const (
	// BearishWhenBoth treats the trend as reversed when both scores drop
	// below neutral. Default.
	BearishWhenBoth ExitPolicy = iota
	// BearishWhenEither treats the trend as reversed when either score
	// drops below neutral.
	BearishWhenEither
)

// Bearish applies the policy to a market context.
func (p ExitPolicy) Bearish(mkt MarketContext) bool {
	if p == BearishWhenEither {
		return mkt.TechScore < neutralScore || mkt.TrendScore < neutralScore
	}
	return mkt.TechScore < neutralScore && mkt.TrendScore < neutralScore
}

// RetraceMode selects how far price must fall back after the take-profit
// level has been reached before the retrace exit fires.
type RetraceMode int

const (
	// RetraceThroughTp exits only once price drops back below the
	// take-profit level. Default.
	RetraceThroughTp RetraceMode = iota
	// RetraceAnyPullback exits on the first pullback from the high recorded
	// after the take-profit level, even while price is still above it.
	RetraceAnyPullback
)

// Exit reasons.
const (
	ExitReasonTrendReversal = "trend_reversal_after_tp"
	ExitReasonTpRetrace     = "price_retraced_through_tp"
)

// ExitDecision is the outcome of exit evaluation.
type ExitDecision struct {
	Exit   bool
	Reason string
	// WaitingForExit is set while the bot holds above TP with a bullish
	// trend; it drives the display projection, not a state transition.
	WaitingForExit bool
	// TpTouched tells the caller to latch BotInstance.TpReached.
	TpTouched bool
	// Peak is the current price while holding above TP. The caller keeps
	// the running maximum in BotInstance.TpPeakPrice.
	Peak decimal.Decimal
}

// TakeProfitPrice returns the price at which the average cost basis yields
// the configured minimum profit percentage.
func TakeProfitPrice(avgPrice, tpTarget decimal.Decimal) decimal.Decimal {
	return avgPrice.Mul(one.Add(tpTarget.Div(hundred)))
}

// EvaluateExit implements the hold-while-bullish profit-taking policy:
// once price reaches the take-profit level the bot keeps holding while the
// trend stays bullish, and exits when the trend reverses or when price
// retraces per the configured mode. A plain threshold cross never triggers
// an exit on its own.
func EvaluateExit(bot *BotInstance, mkt MarketContext, policy ExitPolicy, retrace RetraceMode) ExitDecision {
	if bot.Status != StatusActive {
		return ExitDecision{}
	}
	if bot.AveragePurchasePrice.LessThanOrEqual(decimal.Zero) {
		return ExitDecision{}
	}

	tp := TakeProfitPrice(bot.AveragePurchasePrice, bot.Config.TpTarget)

	if mkt.Price.GreaterThanOrEqual(tp) {
		if policy.Bearish(mkt) {
			return ExitDecision{Exit: true, Reason: ExitReasonTrendReversal, TpTouched: true}
		}
		if retrace == RetraceAnyPullback && bot.TpReached &&
			bot.TpPeakPrice.GreaterThan(decimal.Zero) && mkt.Price.LessThan(bot.TpPeakPrice) {
			return ExitDecision{Exit: true, Reason: ExitReasonTpRetrace, TpTouched: true}
		}
		return ExitDecision{WaitingForExit: true, TpTouched: true, Peak: mkt.Price}
	}

	// below TP: exit only if price had been above it before
	if bot.TpReached {
		return ExitDecision{Exit: true, Reason: ExitReasonTpRetrace}
	}

	return ExitDecision{}
}
