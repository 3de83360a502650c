// Package domain defines the core data structures and pure decision logic
// of the DCA bot engine.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a bot instance.
type Status int

const (
	StatusActive Status = iota
	StatusPaused
	StatusExiting
	StatusExitFailed
	StatusCompleted
	StatusStopped
)

const (
	statusStringActive     = "active"
	statusStringPaused     = "paused"
	statusStringExiting    = "exiting"
	statusStringExitFailed = "exit_failed"
	statusStringCompleted  = "completed"
	statusStringStopped    = "stopped"
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return statusStringActive
	case StatusPaused:
		return statusStringPaused
	case StatusExiting:
		return statusStringExiting
	case StatusExitFailed:
		return statusStringExitFailed
	case StatusCompleted:
		return statusStringCompleted
	case StatusStopped:
		return statusStringStopped
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is an end state the bot never
// leaves on its own.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case statusStringActive:
		return StatusActive, nil
	case statusStringPaused:
		return StatusPaused, nil
	case statusStringExiting:
		return StatusExiting, nil
	case statusStringExitFailed:
		return StatusExitFailed, nil
	case statusStringCompleted:
		return StatusCompleted, nil
	case statusStringStopped:
		return StatusStopped, nil
	default:
		return 0, fmt.Errorf("unknown status: %q", s)
	}
}

// MarshalJSON encodes the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the status from its string form.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// EntryStatus is the state of a single ladder entry order.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryFilled  EntryStatus = "filled"
	EntryFailed  EntryStatus = "failed"
)

// BotConfig holds the operator-editable parameters of a bot.
type BotConfig struct {
	InitialOrderAmount       decimal.Decimal `json:"initial_order_amount"`
	TradeMultiplier          decimal.Decimal `json:"trade_multiplier"`
	ReEntryCount             int             `json:"re_entry_count"`
	StepPercent              decimal.Decimal `json:"step_percent"`
	StepMultiplier           decimal.Decimal `json:"step_multiplier"`
	TpTarget                 decimal.Decimal `json:"tp_target"`
	ExitPercentage           decimal.Decimal `json:"exit_percentage"`
	ReEntryDelayMinutes      int             `json:"re_entry_delay_minutes"`
	SupportResistanceEnabled bool            `json:"support_resistance_enabled"`
	TrendAlignmentEnabled    bool            `json:"trend_alignment_enabled"`
}

var one = decimal.NewFromInt(1)

// Validate rejects malformed configs. Evaluators assume a validated config,
// so this is the only place parameter errors can surface.
func (c BotConfig) Validate() error {
	if c.InitialOrderAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("initialOrderAmount must be positive, got %s", c.InitialOrderAmount.String())
	}
	if c.TradeMultiplier.LessThan(one) {
		return fmt.Errorf("tradeMultiplier must be >= 1, got %s", c.TradeMultiplier.String())
	}
	if c.ReEntryCount < 1 {
		return fmt.Errorf("reEntryCount must be >= 1, got %d", c.ReEntryCount)
	}
	if c.StepPercent.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("stepPercent must be positive, got %s", c.StepPercent.String())
	}
	if c.StepMultiplier.LessThan(one) {
		return fmt.Errorf("stepMultiplier must be >= 1, got %s", c.StepMultiplier.String())
	}
	if c.TpTarget.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("tpTarget must be positive, got %s", c.TpTarget.String())
	}
	if c.ExitPercentage.LessThanOrEqual(decimal.Zero) || c.ExitPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("exitPercentage must be in (0, 100], got %s", c.ExitPercentage.String())
	}
	if c.ReEntryDelayMinutes < 0 {
		return fmt.Errorf("reEntryDelay must be >= 0 minutes, got %d", c.ReEntryDelayMinutes)
	}
	return nil
}

// ReEntryDelay returns the cooldown between consecutive entries.
func (c BotConfig) ReEntryDelay() time.Duration {
	return time.Duration(c.ReEntryDelayMinutes) * time.Minute
}

// MaxEntries returns the total entry budget: the initial entry plus re-entries.
func (c BotConfig) MaxEntries() int {
	return c.ReEntryCount + 1
}

// BotEntry records a single ladder entry.
type BotEntry struct {
	EntryNumber int             `json:"entry_number"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	Status      EntryStatus     `json:"status"`
	OrderID     string          `json:"order_id,omitempty"`
	Time        time.Time       `json:"time"`
}

// BotInstance is one per-symbol DCA automaton.
type BotInstance struct {
	ID     string    `json:"id"`
	Symbol string    `json:"symbol"`
	Config BotConfig `json:"config"`
	Status Status    `json:"status"`

	Entries              []BotEntry      `json:"entries"`
	AveragePurchasePrice decimal.Decimal `json:"average_purchase_price"`
	LastEntryTime        time.Time       `json:"last_entry_time"`

	// TpReached latches once price closes at or above the take-profit price,
	// enabling the retrace exit rule.
	TpReached bool `json:"tp_reached"`

	// TpPeakPrice is the highest price seen while holding above the
	// take-profit level. Drives the any-pullback retrace mode.
	TpPeakPrice decimal.Decimal `json:"tp_peak_price"`

	ExitFailureReason string    `json:"exit_failure_reason,omitempty"`
	ExitFailureTime   time.Time `json:"exit_failure_time,omitempty"`
	ExitAttempts      int       `json:"exit_attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBotInstance creates a validated active bot for the given symbol.
func NewBotInstance(id, symbol string, cfg BotConfig, now time.Time) (*BotInstance, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot config: %w", err)
	}
	return &BotInstance{
		ID:                   id,
		Symbol:               symbol,
		Config:               cfg,
		Status:               StatusActive,
		Entries:              make([]BotEntry, 0),
		AveragePurchasePrice: decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// FilledEntryCount returns the number of filled entries. This is the bot's
// currentEntryCount: pending and failed orders do not consume the budget.
func (b *BotInstance) FilledEntryCount() int {
	n := 0
	for _, e := range b.Entries {
		if e.Status == EntryFilled {
			n++
		}
	}
	return n
}

// FilledQuantity returns the total base quantity bought across filled
// entries.
func (b *BotInstance) FilledQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, e := range b.Entries {
		if e.Status == EntryFilled {
			total = total.Add(e.Quantity)
		}
	}
	return total
}

// HasPendingEntry reports whether an entry order is awaiting its outcome.
func (b *BotInstance) HasPendingEntry() bool {
	for _, e := range b.Entries {
		if e.Status == EntryPending {
			return true
		}
	}
	return false
}

// LastFillPrice returns the price of the most recent filled entry,
// or zero when no entry has filled yet.
func (b *BotInstance) LastFillPrice() decimal.Decimal {
	for i := len(b.Entries) - 1; i >= 0; i-- {
		if b.Entries[i].Status == EntryFilled {
			return b.Entries[i].Price
		}
	}
	return decimal.Zero
}

// ApplyBuyFill appends a filled entry and folds it into the weighted average
// purchase price. Entry fills never change the bot status.
func (b *BotInstance) ApplyBuyFill(entry BotEntry, heldQuantity decimal.Decimal) {
	entry.Status = EntryFilled
	b.Entries = append(b.Entries, entry)
	b.AveragePurchasePrice = WeightedAveragePrice(b.AveragePurchasePrice, heldQuantity, entry.Price, entry.Quantity)
	b.LastEntryTime = entry.Time
	b.UpdatedAt = entry.Time
}

// FailPendingEntries marks every pending entry as failed and reports how
// many were changed. Used after a restart, when the outcome of an in-flight
// order was lost; failed entries do not consume the budget, so the next
// evaluation places the order again.
func (b *BotInstance) FailPendingEntries() int {
	n := 0
	for i := range b.Entries {
		if b.Entries[i].Status == EntryPending {
			b.Entries[i].Status = EntryFailed
			n++
		}
	}
	return n
}

// ResetCycle wipes the recorded position so a restarted bot begins a fresh
// ladder: entries, average price and the take-profit latches all reset.
func (b *BotInstance) ResetCycle() {
	b.Entries = make([]BotEntry, 0)
	b.AveragePurchasePrice = decimal.Zero
	b.LastEntryTime = time.Time{}
	b.ClearTpLatch()
}

// ClearTpLatch resets the take-profit latch and its recorded peak, so a
// new hold phase must touch TP again before the retrace rule can fire.
func (b *BotInstance) ClearTpLatch() {
	b.TpReached = false
	b.TpPeakPrice = decimal.Zero
}

// ClearExitFailure resets exit failure bookkeeping. Called on every
// transition that leaves the exiting/exit_failed pair.
func (b *BotInstance) ClearExitFailure() {
	b.ExitFailureReason = ""
	b.ExitFailureTime = time.Time{}
	b.ExitAttempts = 0
}

// DisplayStatus projects the operator-facing status. It is derived on read,
// never persisted: an active bot whose price sits at or above the current
// take-profit price is shown as waiting_for_exit.
func (b *BotInstance) DisplayStatus(currentPrice decimal.Decimal) string {
	if b.Status != StatusActive {
		return b.Status.String()
	}
	if b.AveragePurchasePrice.GreaterThan(decimal.Zero) && currentPrice.GreaterThan(decimal.Zero) {
		tp := TakeProfitPrice(b.AveragePurchasePrice, b.Config.TpTarget)
		if currentPrice.GreaterThanOrEqual(tp) {
			return "waiting_for_exit"
		}
	}
	return statusStringActive
}
