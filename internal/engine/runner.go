package engine

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/executor"
	"github.com/Daly187/DalyKraken2.0-sub000/pkg/retrier"
)

// EvaluateAll runs one evaluation pass over every bot. Bots are evaluated
// concurrently; each bot is serialized by its own lock.
func (e *Engine) EvaluateAll(ctx context.Context) {
	e.mu.RLock()
	runners := make([]*botRunner, 0, len(e.runners))
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		r := r
		wg.Add(1)
		gopool.Go(func() {
			defer wg.Done()
			e.evaluate(ctx, r)
		})
	}
	wg.Wait()
}

// EvaluateBot runs a single evaluation pass for one bot, outside the
// regular tick schedule.
func (e *Engine) EvaluateBot(ctx context.Context, botID string) error {
	e.mu.RLock()
	runner, ok := e.runners[botID]
	e.mu.RUnlock()
	if !ok {
		return ErrBotNotFound
	}

	e.evaluate(ctx, runner)
	return nil
}

func (e *Engine) evaluate(ctx context.Context, r *botRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bot := r.bot
	logger := e.logger.With(zap.String("bot_id", bot.ID), zap.String("symbol", bot.Symbol))

	switch bot.Status {
	case domain.StatusActive, domain.StatusExiting:
	default:
		return
	}

	// exits need no market context, only holdings
	if bot.Status == domain.StatusExiting {
		e.attemptExit(ctx, logger, bot)
		return
	}

	mkt, stale, err := e.contexts.Get(ctx, bot.Symbol)
	if err != nil {
		logger.Warn("skipping evaluation, market context unavailable", zap.Error(err))
		return
	}
	mkt.Stale = stale

	exit := domain.EvaluateExit(bot, mkt, e.opts.ExitPolicy, e.opts.RetraceMode)
	latch := exit.TpTouched && !bot.TpReached
	newPeak := exit.Peak.GreaterThan(bot.TpPeakPrice)
	if latch || newPeak {
		if latch {
			bot.TpReached = true
		}
		if newPeak {
			bot.TpPeakPrice = exit.Peak
		}
		bot.UpdatedAt = time.Now().UTC()
		if err := e.store.Save(bot); err != nil {
			logger.Error("failed to persist TP latch", zap.Error(err))
		}
	}
	if exit.Exit {
		logger.Info("exit condition met",
			zap.String("reason", exit.Reason),
			zap.String("price", mkt.Price.String()))
		bot.Status = domain.StatusExiting
		bot.UpdatedAt = time.Now().UTC()
		if err := e.store.Save(bot); err != nil {
			logger.Error("failed to persist exiting status", zap.Error(err))
			return
		}
		e.attemptExit(ctx, logger, bot)
		return
	}

	decision := domain.EvaluateEntry(bot, mkt, time.Now().UTC())
	if !decision.Ready {
		logger.Debug("entry blocked", zap.String("reason", decision.Reason))
		return
	}

	if mkt.Stale {
		logger.Debug("entry ready but market data is stale, holding off")
		return
	}

	e.placeEntry(ctx, logger, bot, decision.Step)
}

// placeEntry records a pending entry, places the buy, and folds the fill
// into the bot. The pending record keeps the at-most-one-outstanding-order
// rule intact across crashes.
func (e *Engine) placeEntry(ctx context.Context, logger *zap.Logger, bot *domain.BotInstance, step domain.LadderStep) {
	clientOrderID := "dca-" + uuid.NewString()
	entryNumber := bot.FilledEntryCount() + 1
	now := time.Now().UTC()

	bot.Entries = append(bot.Entries, domain.BotEntry{
		EntryNumber: entryNumber,
		OrderAmount: step.OrderAmount,
		Status:      domain.EntryPending,
		OrderID:     clientOrderID,
		Time:        now,
	})
	if err := e.store.Save(bot); err != nil {
		logger.Error("failed to persist pending entry, aborting order", zap.Error(err))
		bot.Entries = bot.Entries[:len(bot.Entries)-1]
		return
	}

	fill, err := e.exec.MarketBuy(ctx, bot.Symbol, step.OrderAmount, clientOrderID)

	// resolve the pending record either way
	idx := len(bot.Entries) - 1
	if err != nil {
		logger.Error("entry order failed",
			zap.Int("entry_number", entryNumber),
			zap.Error(err))
		bot.Entries[idx].Status = domain.EntryFailed
		bot.UpdatedAt = time.Now().UTC()
		if saveErr := e.store.Save(bot); saveErr != nil {
			logger.Error("failed to persist failed entry", zap.Error(saveErr))
		}
		return
	}

	heldQty := bot.FilledQuantity()
	bot.Entries = bot.Entries[:idx]
	bot.ApplyBuyFill(domain.BotEntry{
		EntryNumber: entryNumber,
		Price:       fill.Price,
		Quantity:    fill.Quantity,
		OrderAmount: step.OrderAmount,
		OrderID:     fill.OrderID,
		Time:        fill.Time,
	}, heldQty)

	base, _ := executor.SplitSymbol(bot.Symbol)
	e.holdings.Invalidate(base)

	logger.Info("entry filled",
		zap.Int("entry_number", entryNumber),
		zap.String("price", fill.Price.String()),
		zap.String("quantity", fill.Quantity.String()),
		zap.String("avg_price", bot.AveragePurchasePrice.String()))

	if err := e.store.Save(bot); err != nil {
		logger.Error("failed to persist entry fill", zap.Error(err))
	}
}

// attemptExit sells the configured share of current holdings. Transient
// rejections keep the bot exiting and are retried on later ticks; permanent
// rejections and an exhausted retry budget park it as exit_failed.
func (e *Engine) attemptExit(ctx context.Context, logger *zap.Logger, bot *domain.BotInstance) {
	base, _ := executor.SplitSymbol(bot.Symbol)

	// sell quantity must come from fresh holdings, not from cache
	e.holdings.Invalidate(base)
	holdings, stale, err := e.holdings.Get(ctx, base)
	if err != nil || stale {
		// a balance lookup outage is not an order rejection: skip this
		// tick without touching the retry budget and try again on the next
		logger.Warn("skipping exit attempt, holdings unavailable", zap.Error(err))
		return
	}

	quantity := holdings.Mul(bot.Config.ExitPercentage).Div(decimal.NewFromInt(100))
	if quantity.LessThanOrEqual(decimal.Zero) {
		// nothing left to sell, the position is already gone
		logger.Info("no holdings left to exit, completing bot")
		e.completeExit(logger, bot)
		return
	}

	r := retrier.New(
		retrier.WithMaxRetries(2),
		retrier.WithInitialInterval(e.opts.ExitRetryInterval),
		retrier.WithRetryIf(func(err error) bool {
			return executor.Classify(err) == executor.FailureTransient
		}),
	)

	clientOrderID := "exit-" + uuid.NewString()
	fill, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (executor.Fill, error) {
		return e.exec.MarketSell(ctx, bot.Symbol, quantity, clientOrderID)
	})
	if err != nil {
		e.recordExitFailure(logger, bot, err.Error())
		if executor.Classify(err) == executor.FailurePermanent {
			logger.Error("exit order rejected permanently", zap.Error(err))
			e.parkExitFailed(logger, bot)
		} else if bot.ExitAttempts >= e.opts.MaxExitAttempts {
			logger.Error("exit retry budget exhausted", zap.Int("attempts", bot.ExitAttempts))
			e.parkExitFailed(logger, bot)
		} else {
			logger.Warn("exit order failed, will retry",
				zap.Int("attempts", bot.ExitAttempts),
				zap.Error(err))
		}
		return
	}

	e.holdings.Invalidate(base)

	logger.Info("exit order filled",
		zap.String("price", fill.Price.String()),
		zap.String("quantity", fill.Quantity.String()))

	e.completeExit(logger, bot)
}

func (e *Engine) recordExitFailure(logger *zap.Logger, bot *domain.BotInstance, reason string) {
	bot.ExitAttempts++
	bot.ExitFailureReason = reason
	bot.ExitFailureTime = time.Now().UTC()
	bot.UpdatedAt = bot.ExitFailureTime
	if err := e.store.Save(bot); err != nil {
		logger.Error("failed to persist exit failure", zap.Error(err))
	}
}

func (e *Engine) parkExitFailed(logger *zap.Logger, bot *domain.BotInstance) {
	bot.Status = domain.StatusExitFailed
	bot.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(bot); err != nil {
		logger.Error("failed to persist exit_failed status", zap.Error(err))
	}
}

func (e *Engine) completeExit(logger *zap.Logger, bot *domain.BotInstance) {
	bot.Status = domain.StatusCompleted
	bot.ClearExitFailure()
	bot.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(bot); err != nil {
		logger.Error("failed to persist completed status", zap.Error(err))
	}
}
