package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/executor"
)

type memStore struct {
	mu   sync.Mutex
	bots map[string]*domain.BotInstance
}

func newMemStore() *memStore {
	return &memStore{bots: make(map[string]*domain.BotInstance)}
}

func (s *memStore) Save(bot *domain.BotInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := *bot
	s.bots[bot.ID] = &snapshot
	return nil
}

func (s *memStore) Delete(botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, botID)
	return nil
}

func (s *memStore) Load() (map[string]*domain.BotInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*domain.BotInstance, len(s.bots))
	for id, bot := range s.bots {
		snapshot := *bot
		out[id] = &snapshot
	}
	return out, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	buys     []decimal.Decimal
	sells    []decimal.Decimal
	buyErr   error
	sellErr  error
	holdErr  error
	holdings decimal.Decimal
	price    decimal.Decimal
}

func (f *fakeExecutor) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal, clientOrderID string) (executor.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return executor.Fill{}, f.buyErr
	}
	f.buys = append(f.buys, quoteAmount)
	qty := quoteAmount.Div(f.price)
	f.holdings = f.holdings.Add(qty)
	return executor.Fill{OrderID: clientOrderID, Price: f.price, Quantity: qty, Time: time.Now()}, nil
}

func (f *fakeExecutor) MarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (executor.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return executor.Fill{}, f.sellErr
	}
	f.sells = append(f.sells, quantity)
	f.holdings = f.holdings.Sub(quantity)
	return executor.Fill{OrderID: clientOrderID, Price: f.price, Quantity: quantity, Time: time.Now()}, nil
}

func (f *fakeExecutor) GetHoldings(ctx context.Context, asset string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holdErr != nil {
		return decimal.Zero, f.holdErr
	}
	return f.holdings, nil
}

type fakeSource struct {
	mu  sync.Mutex
	mkt domain.MarketContext
	err error
}

func (f *fakeSource) Build(ctx context.Context, symbol string) (domain.MarketContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.MarketContext{}, f.err
	}
	mkt := f.mkt
	mkt.Symbol = symbol
	mkt.FetchedAt = time.Now()
	return mkt, nil
}

func (f *fakeSource) set(mkt domain.MarketContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkt = mkt
}

func testBotConfig() domain.BotConfig {
	return domain.BotConfig{
		InitialOrderAmount: decimal.NewFromInt(10),
		TradeMultiplier:    decimal.NewFromInt(2),
		ReEntryCount:       3,
		StepPercent:        decimal.NewFromInt(1),
		StepMultiplier:     decimal.NewFromInt(2),
		TpTarget:           decimal.NewFromInt(3),
		ExitPercentage:     decimal.NewFromInt(100),
	}
}

func bullishContext(price int64) domain.MarketContext {
	return domain.MarketContext{
		Price:      decimal.NewFromInt(price),
		TechScore:  60,
		TrendScore: 60,
	}
}

// cacheTTL of 0 keeps every Get fetching fresh data in tests.
func newTestEngine(t *testing.T, exec *fakeExecutor, source *fakeSource) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore()
	eng, err := New(zap.NewNop(), store, exec, source, 0, Options{
		MaxExitAttempts:   3,
		ExitRetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return eng, store
}

func TestEngine_CreateAndList(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, store := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, bot.Status)

	views := eng.ListBots(context.Background())
	require.Len(t, views, 1)
	require.Equal(t, bot.ID, views[0].Bot.ID)

	store.mu.Lock()
	_, persisted := store.bots[bot.ID]
	store.mu.Unlock()
	require.True(t, persisted)
}

func TestEngine_CreateBotRejectsBadConfig(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	eng, _ := newTestEngine(t, exec, &fakeSource{mkt: bullishContext(100)})

	cfg := testBotConfig()
	cfg.InitialOrderAmount = decimal.Zero
	_, err := eng.CreateBot("BTCUSDT", cfg)
	require.Error(t, err)
}

func TestEngine_InitialEntryOnFirstTick(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	eng.EvaluateAll(context.Background())

	require.Len(t, exec.buys, 1)
	require.True(t, exec.buys[0].Equal(decimal.NewFromInt(10)))

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, 1, view.Bot.FilledEntryCount())
	require.True(t, view.Bot.AveragePurchasePrice.Equal(decimal.NewFromInt(100)))
}

func TestEngine_ReEntryOnDrop(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	eng.EvaluateAll(context.Background())
	require.Len(t, exec.buys, 1)

	// trigger for entry 2 is 99; no re-entry at 99.5
	mkt := bullishContext(100)
	mkt.Price, _ = decimal.NewFromString("99.5")
	source.set(mkt)
	exec.mu.Lock()
	exec.price = mkt.Price
	exec.mu.Unlock()
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.buys, 1)

	source.set(bullishContext(98))
	exec.mu.Lock()
	exec.price = decimal.NewFromInt(98)
	exec.mu.Unlock()
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.buys, 2)
	require.True(t, exec.buys[1].Equal(decimal.NewFromInt(20)))

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, 2, view.Bot.FilledEntryCount())
}

func TestEngine_HoldThenExitOnRetrace(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	eng.EvaluateAll(context.Background())
	require.Len(t, exec.buys, 1)

	// price above TP (103), trend bullish: bot keeps holding
	source.set(bullishContext(110))
	eng.EvaluateAll(context.Background())
	require.Empty(t, exec.sells)

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, view.Bot.Status)
	require.Equal(t, "waiting_for_exit", view.DisplayStatus)
	require.True(t, view.Bot.TpReached)

	// retrace below TP triggers the sell
	source.set(bullishContext(102))
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.sells, 1)

	view, err = eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, view.Bot.Status)
}

func TestEngine_ExitOnTrendReversal(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	eng.EvaluateAll(context.Background())

	bearish := bullishContext(110)
	bearish.TechScore = 40
	bearish.TrendScore = 40
	source.set(bearish)
	eng.EvaluateAll(context.Background())

	require.Len(t, exec.sells, 1)
	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, view.Bot.Status)
}

func TestEngine_TransientExitFailureKeepsExiting(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	eng.EvaluateAll(context.Background())

	exec.mu.Lock()
	exec.sellErr = errors.New("Insufficient funds")
	exec.mu.Unlock()

	require.NoError(t, eng.ManualExit(bot.ID))
	eng.EvaluateAll(context.Background())

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusExiting, view.Bot.Status)
	require.Contains(t, view.Bot.ExitFailureReason, "Insufficient funds")
	require.Greater(t, view.Bot.ExitAttempts, 0)
}

func TestEngine_PermanentExitFailureParksBot(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	eng.EvaluateAll(context.Background())

	exec.mu.Lock()
	exec.sellErr = errors.New("Invalid order parameters")
	exec.mu.Unlock()

	require.NoError(t, eng.ManualExit(bot.ID))
	eng.EvaluateAll(context.Background())

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusExitFailed, view.Bot.Status)

	// operator retries after fixing the problem
	exec.mu.Lock()
	exec.sellErr = nil
	exec.mu.Unlock()

	require.NoError(t, eng.RetryExit(bot.ID))
	eng.EvaluateAll(context.Background())

	view, err = eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, view.Bot.Status)
	require.Zero(t, view.Bot.ExitAttempts)
}

func TestEngine_ExitRetryBudgetExhausted(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	eng.EvaluateAll(context.Background())

	exec.mu.Lock()
	exec.sellErr = errors.New("Insufficient funds")
	exec.mu.Unlock()

	require.NoError(t, eng.ManualExit(bot.ID))
	for i := 0; i < 5; i++ {
		eng.EvaluateAll(context.Background())
	}

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusExitFailed, view.Bot.Status)
}

func TestEngine_HoldingsOutageSkipsExitAttempt(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	eng.EvaluateAll(context.Background())

	exec.mu.Lock()
	exec.holdErr = errors.New("exchange balance API down")
	exec.mu.Unlock()

	require.NoError(t, eng.ManualExit(bot.ID))

	// more ticks than the retry budget allows for order rejections
	for i := 0; i < 5; i++ {
		eng.EvaluateAll(context.Background())
	}

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusExiting, view.Bot.Status)
	require.Zero(t, view.Bot.ExitAttempts)
	require.Empty(t, view.Bot.ExitFailureReason)

	// balance lookups recover, the exit completes on its own
	exec.mu.Lock()
	exec.holdErr = nil
	exec.mu.Unlock()
	eng.EvaluateAll(context.Background())

	require.Len(t, exec.sells, 1)
	view, err = eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, view.Bot.Status)
}

func TestEngine_RecoveryResolvesStrandedPendingEntry(t *testing.T) {
	store := newMemStore()
	bot, err := domain.NewBotInstance("bot-1", "BTCUSDT", testBotConfig(), time.Now().UTC())
	require.NoError(t, err)
	bot.Entries = append(bot.Entries, domain.BotEntry{
		EntryNumber: 1,
		Status:      domain.EntryPending,
		OrderID:     "dca-lost-in-restart",
	})
	require.NoError(t, store.Save(bot))

	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, err := New(zap.NewNop(), store, exec, source, 0, Options{
		MaxExitAttempts:   3,
		ExitRetryInterval: time.Millisecond,
	})
	require.NoError(t, err)

	view, err := eng.GetBotView(context.Background(), "bot-1")
	require.NoError(t, err)
	require.False(t, view.Bot.HasPendingEntry())
	require.Equal(t, domain.EntryFailed, view.Bot.Entries[0].Status)

	// the gate is clear, so the next tick places the entry again
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.buys, 1)

	view, err = eng.GetBotView(context.Background(), "bot-1")
	require.NoError(t, err)
	require.Equal(t, 1, view.Bot.FilledEntryCount())
}

func TestEngine_AnyPullbackRetraceExit(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	store := newMemStore()
	eng, err := New(zap.NewNop(), store, exec, source, 0, Options{
		RetraceMode:       domain.RetraceAnyPullback,
		MaxExitAttempts:   3,
		ExitRetryInterval: time.Millisecond,
	})
	require.NoError(t, err)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	eng.EvaluateAll(context.Background())

	// price above TP (103): the peak is recorded, no sell yet
	source.set(bullishContext(110))
	eng.EvaluateAll(context.Background())
	require.Empty(t, exec.sells)

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.True(t, view.Bot.TpPeakPrice.Equal(decimal.NewFromInt(110)))

	// pullback to 104: still above TP, below the peak
	source.set(bullishContext(104))
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.sells, 1)

	view, err = eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, view.Bot.Status)
}

func TestEngine_ResumeCompletedStartsFreshCycle(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)
	eng.EvaluateAll(context.Background())

	source.set(bullishContext(110))
	eng.EvaluateAll(context.Background())

	source.set(bullishContext(102))
	exec.mu.Lock()
	exec.price = decimal.NewFromInt(102)
	exec.mu.Unlock()
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.sells, 1)

	require.NoError(t, eng.Resume(bot.ID))

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, view.Bot.Status)
	require.False(t, view.Bot.TpReached)
	require.Zero(t, view.Bot.FilledEntryCount())
	require.True(t, view.Bot.AveragePurchasePrice.IsZero())

	// trading below the old TP starts a new ladder instead of re-exiting
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.sells, 1)
	require.Len(t, exec.buys, 2)
}

func TestEngine_PauseResumeStop(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	require.NoError(t, eng.Pause(bot.ID))
	eng.EvaluateAll(context.Background())
	require.Empty(t, exec.buys, "paused bot must not trade")

	require.ErrorIs(t, errors.Cause(eng.Pause(bot.ID)), ErrInvalidStatus)

	require.NoError(t, eng.Resume(bot.ID))
	eng.EvaluateAll(context.Background())
	require.Len(t, exec.buys, 1)

	require.NoError(t, eng.Stop(bot.ID))
	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusStopped, view.Bot.Status)

	require.ErrorIs(t, errors.Cause(eng.Stop(bot.ID)), ErrInvalidStatus)

	// resume restarts even a stopped bot
	require.NoError(t, eng.Resume(bot.ID))
	view, err = eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, view.Bot.Status)
}

func TestEngine_DeleteRemovesBot(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	eng, store := newTestEngine(t, exec, &fakeSource{mkt: bullishContext(100)})

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	require.NoError(t, eng.Delete(bot.ID))
	require.ErrorIs(t, eng.Delete(bot.ID), ErrBotNotFound)

	_, err = eng.GetBotView(context.Background(), bot.ID)
	require.ErrorIs(t, err, ErrBotNotFound)

	store.mu.Lock()
	_, exists := store.bots[bot.ID]
	store.mu.Unlock()
	require.False(t, exists)
}

func TestEngine_UpdateConfig(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	eng, _ := newTestEngine(t, exec, &fakeSource{mkt: bullishContext(100)})

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	cfg := testBotConfig()
	cfg.TpTarget = decimal.NewFromInt(5)
	require.NoError(t, eng.UpdateConfig(bot.ID, cfg))

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.True(t, view.Bot.Config.TpTarget.Equal(decimal.NewFromInt(5)))

	cfg.InitialOrderAmount = decimal.Zero
	require.Error(t, eng.UpdateConfig(bot.ID, cfg))
}

func TestEngine_RecoversFromStore(t *testing.T) {
	store := newMemStore()
	bot, err := domain.NewBotInstance("bot-1", "BTCUSDT", testBotConfig(), time.Now().UTC())
	require.NoError(t, err)
	bot.Status = domain.StatusPaused
	require.NoError(t, store.Save(bot))

	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	eng, err := New(zap.NewNop(), store, exec, &fakeSource{mkt: bullishContext(100)}, 0, Options{})
	require.NoError(t, err)

	view, err := eng.GetBotView(context.Background(), "bot-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaused, view.Bot.Status)
}

func TestEngine_FailedEntryDoesNotConsumeBudget(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100), buyErr: errors.New("rate limit exceeded")}
	source := &fakeSource{mkt: bullishContext(100)}
	eng, _ := newTestEngine(t, exec, source)

	bot, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	eng.EvaluateAll(context.Background())

	view, err := eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, 0, view.Bot.FilledEntryCount())
	require.Len(t, view.Bot.Entries, 1)
	require.Equal(t, domain.EntryFailed, view.Bot.Entries[0].Status)

	// next tick tries again
	exec.mu.Lock()
	exec.buyErr = nil
	exec.mu.Unlock()
	eng.EvaluateAll(context.Background())

	view, err = eng.GetBotView(context.Background(), bot.ID)
	require.NoError(t, err)
	require.Equal(t, 1, view.Bot.FilledEntryCount())
}

func TestEngine_MarketOutageSkipsEvaluation(t *testing.T) {
	exec := &fakeExecutor{price: decimal.NewFromInt(100)}
	source := &fakeSource{err: errors.New("exchange down")}
	eng, _ := newTestEngine(t, exec, source)

	_, err := eng.CreateBot("BTCUSDT", testBotConfig())
	require.NoError(t, err)

	eng.EvaluateAll(context.Background())
	require.Empty(t, exec.buys)
}
