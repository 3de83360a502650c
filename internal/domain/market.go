package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketContext is a point-in-time view of the market for one symbol.
// Scores are 0-100; 50 is the neutral line used by the trend gate.
type MarketContext struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	TechScore  float64         `json:"tech_score"`
	TrendScore float64         `json:"trend_score"`
	Support    decimal.Decimal `json:"support"`
	Resistance decimal.Decimal `json:"resistance"`

	// Stale marks a value served from cache after a failed refresh.
	Stale     bool      `json:"stale,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

const neutralScore = 50

// TrendAligned reports whether both scores sit at or above the neutral line.
// This is the hard entry gate condition.
func (m MarketContext) TrendAligned() bool {
	return m.TechScore >= neutralScore && m.TrendScore >= neutralScore
}

// HasSupport reports whether a support level is known.
func (m MarketContext) HasSupport() bool {
	return m.Support.GreaterThan(decimal.Zero)
}
