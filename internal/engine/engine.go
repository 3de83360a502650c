// Package engine orchestrates bot lifecycles: it evaluates entry gates and
// exit conditions on every tick, places orders, and keeps the persistent
// state in sync.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/executor"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/market"
)

// Store persists bot snapshots.
type Store interface {
	Save(bot *domain.BotInstance) error
	Delete(botID string) error
	Load() (map[string]*domain.BotInstance, error)
}

// ContextSource supplies fresh market context for a symbol.
// *market.ContextBuilder is the production implementation.
type ContextSource interface {
	Build(ctx context.Context, symbol string) (domain.MarketContext, error)
}

// Common operation errors.
var (
	ErrBotNotFound   = errors.New("bot not found")
	ErrInvalidStatus = errors.New("operation not allowed in current status")
)

// Options tunes engine behavior.
type Options struct {
	// ExitPolicy selects the bearish-trend rule for ending the hold phase.
	ExitPolicy domain.ExitPolicy
	// RetraceMode selects how far price must pull back after the
	// take-profit level before the retrace exit fires.
	RetraceMode domain.RetraceMode
	// MaxExitAttempts bounds automatic retries of a failing exit order
	// before the bot is parked as exit_failed.
	MaxExitAttempts int
	// ExitRetryInterval is the backoff base for in-tick exit retries.
	ExitRetryInterval time.Duration
}

const (
	defaultMaxExitAttempts   = 10
	defaultExitRetryInterval = time.Second
)

// Engine owns all bot runners and serializes operations per bot.
type Engine struct {
	logger   *zap.Logger
	store    Store
	exec     executor.Executor
	contexts *market.Cache[domain.MarketContext]
	holdings *market.Cache[decimal.Decimal]
	opts     Options

	mu      sync.RWMutex
	runners map[string]*botRunner
}

// botRunner pairs a bot with its own lock. All mutations of the bot go
// through this lock, so a tick and an operator action never interleave.
type botRunner struct {
	mu  sync.Mutex
	bot *domain.BotInstance
}

// New creates an engine and recovers bots from the store.
func New(
	logger *zap.Logger,
	store Store,
	exec executor.Executor,
	source ContextSource,
	cacheTTL time.Duration,
	opts Options,
) (*Engine, error) {
	if opts.MaxExitAttempts <= 0 {
		opts.MaxExitAttempts = defaultMaxExitAttempts
	}
	if opts.ExitRetryInterval <= 0 {
		opts.ExitRetryInterval = defaultExitRetryInterval
	}

	e := &Engine{
		logger:  logger,
		store:   store,
		exec:    exec,
		opts:    opts,
		runners: make(map[string]*botRunner),
	}

	e.contexts = market.NewCache(func(ctx context.Context, symbol string) (domain.MarketContext, error) {
		return source.Build(ctx, symbol)
	}, cacheTTL)
	e.holdings = market.NewCache(func(ctx context.Context, asset string) (decimal.Decimal, error) {
		return exec.GetHoldings(ctx, asset)
	}, cacheTTL)

	loaded, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to recover bots from store")
	}
	for id, bot := range loaded {
		// orders that were in flight during the previous run have an
		// unknown outcome; marking them failed unblocks evaluation and
		// lets the next tick place the entry again
		if n := bot.FailPendingEntries(); n > 0 {
			bot.UpdatedAt = time.Now().UTC()
			if err := store.Save(bot); err != nil {
				return nil, errors.Wrap(err, "failed to persist recovered bot")
			}
			logger.Warn("marked stranded pending entries as failed",
				zap.String("bot_id", id),
				zap.Int("count", n))
		}
		e.runners[id] = &botRunner{bot: bot}
	}
	if len(loaded) > 0 {
		logger.Info("recovered bots from store", zap.Int("count", len(loaded)))
	}

	return e, nil
}

// CreateBot registers a new active bot for the symbol.
func (e *Engine) CreateBot(symbol string, cfg domain.BotConfig) (*domain.BotInstance, error) {
	bot, err := domain.NewBotInstance(uuid.NewString(), symbol, cfg, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := e.store.Save(bot); err != nil {
		return nil, errors.Wrap(err, "failed to persist new bot")
	}

	e.mu.Lock()
	e.runners[bot.ID] = &botRunner{bot: bot}
	e.mu.Unlock()

	e.logger.Info("bot created",
		zap.String("bot_id", bot.ID),
		zap.String("symbol", symbol))

	return bot, nil
}

// Pause suspends entry and exit evaluation for the bot.
func (e *Engine) Pause(botID string) error {
	return e.withBot(botID, func(bot *domain.BotInstance) error {
		if bot.Status != domain.StatusActive {
			return errors.Wrapf(ErrInvalidStatus, "cannot pause bot in status %s", bot.Status)
		}
		bot.Status = domain.StatusPaused
		bot.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Resume reactivates a bot. Defined for any state that is not already
// active or mid-exit, so completed and stopped bots can be restarted.
// A completed bot restarts with a fresh ladder; a stopped bot keeps its
// position but must touch TP again before the retrace exit can fire.
func (e *Engine) Resume(botID string) error {
	return e.withBot(botID, func(bot *domain.BotInstance) error {
		switch bot.Status {
		case domain.StatusActive, domain.StatusExiting:
			return errors.Wrapf(ErrInvalidStatus, "cannot resume bot in status %s", bot.Status)
		case domain.StatusCompleted:
			bot.ResetCycle()
		case domain.StatusStopped:
			bot.ClearTpLatch()
		}
		bot.Status = domain.StatusActive
		bot.ClearExitFailure()
		bot.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Stop permanently stops the bot without selling the position.
func (e *Engine) Stop(botID string) error {
	return e.withBot(botID, func(bot *domain.BotInstance) error {
		if bot.Status == domain.StatusCompleted || bot.Status == domain.StatusStopped {
			return errors.Wrapf(ErrInvalidStatus, "bot already in terminal status %s", bot.Status)
		}
		bot.Status = domain.StatusStopped
		bot.ClearExitFailure()
		bot.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Delete removes the bot entirely. Terminal and idle bots only.
func (e *Engine) Delete(botID string) error {
	e.mu.Lock()
	runner, ok := e.runners[botID]
	if ok {
		delete(e.runners, botID)
	}
	e.mu.Unlock()

	if !ok {
		return ErrBotNotFound
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()

	if err := e.store.Delete(botID); err != nil {
		return errors.Wrap(err, "failed to delete bot from store")
	}

	e.logger.Info("bot deleted", zap.String("bot_id", botID))
	return nil
}

// UpdateConfig replaces the bot config. The new config applies from the
// next evaluation; recorded entries are untouched.
func (e *Engine) UpdateConfig(botID string, cfg domain.BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid bot config")
	}
	return e.withBot(botID, func(bot *domain.BotInstance) error {
		if bot.Status == domain.StatusCompleted || bot.Status == domain.StatusStopped {
			return errors.Wrapf(ErrInvalidStatus, "cannot reconfigure bot in terminal status %s", bot.Status)
		}
		bot.Config = cfg
		bot.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// ManualExit forces the bot into the exiting state. The sell itself happens
// on the next evaluation.
func (e *Engine) ManualExit(botID string) error {
	return e.withBot(botID, func(bot *domain.BotInstance) error {
		if bot.Status != domain.StatusActive && bot.Status != domain.StatusPaused {
			return errors.Wrapf(ErrInvalidStatus, "cannot exit bot in status %s", bot.Status)
		}
		bot.Status = domain.StatusExiting
		bot.ClearExitFailure()
		bot.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// RetryExit moves an exit_failed bot back to exiting with a fresh retry
// budget.
func (e *Engine) RetryExit(botID string) error {
	return e.withBot(botID, func(bot *domain.BotInstance) error {
		if bot.Status != domain.StatusExitFailed {
			return errors.Wrapf(ErrInvalidStatus, "cannot retry exit for bot in status %s", bot.Status)
		}
		bot.Status = domain.StatusExiting
		bot.ClearExitFailure()
		bot.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// withBot runs fn under the bot's lock and persists the result.
func (e *Engine) withBot(botID string, fn func(bot *domain.BotInstance) error) error {
	e.mu.RLock()
	runner, ok := e.runners[botID]
	e.mu.RUnlock()
	if !ok {
		return ErrBotNotFound
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()

	if err := fn(runner.bot); err != nil {
		return err
	}
	return errors.Wrap(e.store.Save(runner.bot), "failed to persist bot")
}

// BotView is the operator-facing projection of one bot.
type BotView struct {
	Bot           domain.BotInstance   `json:"bot"`
	DisplayStatus string               `json:"display_status"`
	GateMessage   string               `json:"gate_message,omitempty"`
	Metrics       domain.Metrics       `json:"metrics"`
	Market        domain.MarketContext `json:"market"`
}

// GetBotView assembles the full view of a bot, including reconciled
// metrics derived from live holdings.
func (e *Engine) GetBotView(ctx context.Context, botID string) (BotView, error) {
	e.mu.RLock()
	runner, ok := e.runners[botID]
	e.mu.RUnlock()
	if !ok {
		return BotView{}, ErrBotNotFound
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()

	return e.buildView(ctx, runner.bot), nil
}

// ListBots returns views of all registered bots sorted by creation time.
func (e *Engine) ListBots(ctx context.Context) []BotView {
	e.mu.RLock()
	runners := make([]*botRunner, 0, len(e.runners))
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.mu.RUnlock()

	views := make([]BotView, 0, len(runners))
	for _, r := range runners {
		r.mu.Lock()
		views = append(views, e.buildView(ctx, r.bot))
		r.mu.Unlock()
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].Bot.CreatedAt.Before(views[j].Bot.CreatedAt)
	})

	return views
}

// buildView reconciles metrics and projections. Callers hold the bot lock.
func (e *Engine) buildView(ctx context.Context, bot *domain.BotInstance) BotView {
	view := BotView{Bot: *bot}

	mkt, mktStale, err := e.contexts.Get(ctx, bot.Symbol)
	if err != nil {
		e.logger.Warn("market context unavailable for view",
			zap.String("bot_id", bot.ID), zap.Error(err))
	} else {
		mkt.Stale = mktStale
		view.Market = mkt
	}

	base, _ := executor.SplitSymbol(bot.Symbol)
	holdings, holdingsStale, err := e.holdings.Get(ctx, base)
	if err != nil {
		e.logger.Warn("holdings unavailable for view",
			zap.String("bot_id", bot.ID), zap.Error(err))
		// fall back to recorded fills so the view stays usable
		holdings = bot.FilledQuantity()
		holdingsStale = true
	}

	now := time.Now().UTC()
	view.Metrics = domain.Reconcile(bot, holdings, mkt.Price, holdingsStale, now)
	view.DisplayStatus = bot.DisplayStatus(mkt.Price)

	if bot.Status == domain.StatusActive {
		view.GateMessage = domain.EvaluateEntry(bot, mkt, now).Message()
	}

	return view
}
