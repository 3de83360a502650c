// Command dcaengine runs the DCA ladder bot engine with its management API.
// It supports Binance and Bybit spot markets and can be configured via a
// YAML file, CLI arguments, or the interactive setup wizard.
//
// Usage:
//
//	dcaengine --config config.yaml
//	dcaengine --setup
//	dcaengine (uses CLI arguments)
//
// Required environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Daly187/DalyKraken2.0-sub000/config"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/engine"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/executor"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/market"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/setup"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/storage/bots"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/web"
)

func main() {
	// .env is optional, real environment variables take precedence
	_ = godotenv.Load()

	cfg, err := resolveConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	provider, exec, err := buildPlatform(cfg.Platform)
	if err != nil {
		logger.Fatal("failed to initialize exchange client", zap.Error(err))
	}

	store, err := bots.NewWALStore(cfg.WALDir)
	if err != nil {
		logger.Fatal("failed to open bot store", zap.Error(err))
	}
	defer store.Close()

	eng, err := engine.New(logger, store, exec, market.NewContextBuilder(provider), cfg.MarketCacheTTL, engine.Options{
		ExitPolicy:      cfg.ExitPolicy(),
		RetraceMode:     cfg.RetraceMode(),
		MaxExitAttempts: cfg.MaxExitAttempts,
	})
	if err != nil {
		logger.Fatal("failed to create engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seedBots(ctx, eng, cfg.Bots, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.NewScheduler(eng, cfg.TickInterval, logger).Run(ctx)
	})
	g.Go(func() error {
		return web.NewServer(cfg.ListenAddr, eng, logger).Start(ctx)
	})

	logger.Info("engine started",
		zap.String("platform", cfg.Platform),
		zap.String("listen", cfg.ListenAddr),
		zap.Duration("tick_interval", cfg.TickInterval))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("engine stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func resolveConfig() (config.Config, error) {
	if len(os.Args) > 1 && (os.Args[1] == "--setup" || os.Args[1] == "-setup") {
		if err := setup.RunTUI(); err != nil {
			return config.Config{}, err
		}
		return config.FromFile("config.gen.yaml")
	}
	return config.Get()
}

func buildPlatform(platform string) (market.Provider, executor.Executor, error) {
	switch platform {
	case "binance":
		apiKey := os.Getenv("BINANCE_API_KEY")
		apiSecret := os.Getenv("BINANCE_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			log.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
		client := binance.NewClient(apiKey, apiSecret)
		return market.NewBinanceProvider(client), executor.NewBinanceExecutor(client), nil
	case "bybit":
		apiKey := os.Getenv("BYBIT_API_KEY")
		apiSecret := os.Getenv("BYBIT_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			log.Fatal("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
		client := bybit.NewClient().WithAuth(apiKey, apiSecret)
		return market.NewBybitProvider(client), executor.NewBybitExecutor(client), nil
	default:
		log.Fatalf("unsupported platform %q", platform)
	}
	return nil, nil, nil
}

// seedBots creates configured bots that do not exist yet. A bot counts as
// existing when a non-terminal bot for the same symbol is already registered.
func seedBots(ctx context.Context, eng *engine.Engine, seeds []config.BotSeed, logger *zap.Logger) {
	if len(seeds) == 0 {
		return
	}

	existing := make(map[string]bool)
	for _, view := range eng.ListBots(ctx) {
		if !view.Bot.Status.Terminal() {
			existing[view.Bot.Symbol] = true
		}
	}

	for _, seed := range seeds {
		if existing[seed.Symbol] {
			logger.Info("bot for symbol already exists, skipping seed", zap.String("symbol", seed.Symbol))
			continue
		}
		bot, err := eng.CreateBot(seed.Symbol, seed.Config)
		if err != nil {
			logger.Error("failed to seed bot", zap.String("symbol", seed.Symbol), zap.Error(err))
			continue
		}
		logger.Info("seeded bot", zap.String("symbol", seed.Symbol), zap.String("id", bot.ID))
	}
}
