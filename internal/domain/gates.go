package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Gate block reasons, ordered by evaluation priority.
const (
	GateReasonPaused           = "paused"
	GateReasonMaxEntries       = "max_entries_reached"
	GateReasonTrendMisaligned  = "trend_misaligned"
	GateReasonWaitingSupport   = "waiting_for_support"
	GateReasonCooldown         = "cooldown"
	GateReasonPriceNotReached  = "price_drop_not_reached"
	GateReasonOrderOutstanding = "order_outstanding"
)

// GateDecision is the outcome of entry gate evaluation.
type GateDecision struct {
	Ready  bool
	Reason string
	// Step carries the computed ladder step when Ready.
	Step LadderStep
	// Remaining is the cooldown left; set only for the cooldown reason.
	Remaining time.Duration
}

// Message renders the operator-facing explanation for a blocked gate.
func (g GateDecision) Message() string {
	switch g.Reason {
	case GateReasonCooldown:
		return fmt.Sprintf("Cooldown: %s remaining", g.Remaining.Round(time.Second))
	case GateReasonMaxEntries:
		return "Max entries reached"
	case GateReasonTrendMisaligned:
		return "Trend misaligned"
	case GateReasonWaitingSupport:
		return "Waiting for support"
	case GateReasonPriceNotReached:
		return "Price drop not reached"
	case GateReasonOrderOutstanding:
		return "Order outstanding"
	case GateReasonPaused:
		return "Paused"
	case "":
		return "Ready"
	default:
		return g.Reason
	}
}

// EvaluateEntry decides whether the bot may place its next entry order.
// Pure: the clock is injected, and identical inputs yield identical
// decisions. The first blocking condition wins, mirroring the priority of
// the operator-facing messages.
//
// Trend alignment is a hard gate on entering the position at all, so it
// applies to the initial entry and to re-entries alike. Support, cooldown
// and the price trigger only throttle additional entries into an already
// open position.
func EvaluateEntry(bot *BotInstance, mkt MarketContext, now time.Time) GateDecision {
	if bot.Status != StatusActive {
		return GateDecision{Reason: GateReasonPaused}
	}

	if bot.HasPendingEntry() {
		return GateDecision{Reason: GateReasonOrderOutstanding}
	}

	filled := bot.FilledEntryCount()
	if filled >= bot.Config.MaxEntries() {
		return GateDecision{Reason: GateReasonMaxEntries}
	}

	if bot.Config.TrendAlignmentEnabled && !mkt.TrendAligned() {
		return GateDecision{Reason: GateReasonTrendMisaligned}
	}

	step, err := NextEntry(bot.Config, filled+1, bot.LastFillPrice())
	if err != nil {
		// budget is checked above; this only fires on corrupted state
		return GateDecision{Reason: GateReasonMaxEntries}
	}

	if filled > 0 {
		if bot.Config.SupportResistanceEnabled {
			if !mkt.HasSupport() || mkt.Price.GreaterThan(mkt.Support) {
				return GateDecision{Reason: GateReasonWaitingSupport}
			}
		}

		if delay := bot.Config.ReEntryDelay(); delay > 0 && !bot.LastEntryTime.IsZero() {
			readyAt := bot.LastEntryTime.Add(delay)
			if readyAt.After(now) {
				return GateDecision{Reason: GateReasonCooldown, Remaining: readyAt.Sub(now)}
			}
		}

		if mkt.Price.GreaterThan(step.TriggerPrice) {
			return GateDecision{Reason: GateReasonPriceNotReached}
		}
	}

	if mkt.Price.LessThanOrEqual(decimal.Zero) {
		return GateDecision{Reason: GateReasonPriceNotReached}
	}

	return GateDecision{Ready: true, Step: step}
}
