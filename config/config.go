// Package config loads engine configuration from a yaml file or CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
)

// Defaults applied when a setting is omitted.
const (
	DefaultPlatform        = "binance"
	DefaultListenAddr      = ":8080"
	DefaultTickInterval    = 5 * time.Minute
	DefaultWALDir          = "./wal/bots"
	DefaultMarketCacheTTL  = 30 * time.Second
	DefaultMaxExitAttempts = 10
	DefaultExitBearishMode = "both"
	DefaultExitRetraceMode = "through_tp"
)

// Config is the resolved engine configuration.
type Config struct {
	Platform        string
	ListenAddr      string
	TickInterval    time.Duration
	WALDir          string
	MarketCacheTTL  time.Duration
	MaxExitAttempts int
	ExitBearishMode string
	ExitRetraceMode string
	Bots            []BotSeed
}

// BotSeed declares a bot to create at startup if it does not exist yet.
type BotSeed struct {
	Symbol string
	Config domain.BotConfig
}

// ExitPolicy maps the configured bearish mode onto the domain policy.
func (c Config) ExitPolicy() domain.ExitPolicy {
	if c.ExitBearishMode == "either" {
		return domain.BearishWhenEither
	}
	return domain.BearishWhenBoth
}

// RetraceMode maps the configured retrace mode onto the domain rule.
func (c Config) RetraceMode() domain.RetraceMode {
	if c.ExitRetraceMode == "any_pullback" {
		return domain.RetraceAnyPullback
	}
	return domain.RetraceThroughTp
}

type ConfigTmp struct {
	Platform        string        `yaml:"platform"`
	ListenAddr      string        `yaml:"listen_addr"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	WALDir          string        `yaml:"wal_dir"`
	MarketCacheTTL  time.Duration `yaml:"market_cache_ttl"`
	MaxExitAttempts int           `yaml:"max_exit_attempts"`
	ExitBearishMode string        `yaml:"exit_bearish_mode"`
	ExitRetraceMode string        `yaml:"exit_retrace_mode"`
	Bots            []BotSeedTmp  `yaml:"bots"`
}

type BotSeedTmp struct {
	Symbol                   string `yaml:"symbol"`
	InitialOrderAmount       string `yaml:"initial_order_amount"`
	TradeMultiplier          string `yaml:"trade_multiplier,omitempty"`
	ReEntryCount             int    `yaml:"re_entry_count"`
	StepPercent              string `yaml:"step_percent"`
	StepMultiplier           string `yaml:"step_multiplier,omitempty"`
	TpTarget                 string `yaml:"tp_target"`
	ExitPercentage           string `yaml:"exit_percentage,omitempty"`
	ReEntryDelayMinutes      int    `yaml:"re_entry_delay_minutes,omitempty"`
	SupportResistanceEnabled bool   `yaml:"support_resistance_enabled,omitempty"`
	TrendAlignmentEnabled    bool   `yaml:"trend_alignment_enabled,omitempty"`
}

// Get resolves configuration from --config yaml when provided, otherwise
// from CLI flags.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	platform := flag.String("platform", DefaultPlatform, "trading platform: binance or bybit")
	listenAddr := flag.String("listen", DefaultListenAddr, "API listen address")
	tickInterval := flag.Duration("tickinterval", DefaultTickInterval, "bot evaluation interval")
	walDir := flag.String("waldir", DefaultWALDir, "bot state WAL directory")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	cfg := Config{
		Platform:        *platform,
		ListenAddr:      *listenAddr,
		TickInterval:    *tickInterval,
		WALDir:          *walDir,
		MarketCacheTTL:  DefaultMarketCacheTTL,
		MaxExitAttempts: DefaultMaxExitAttempts,
		ExitBearishMode: DefaultExitBearishMode,
		ExitRetraceMode: DefaultExitRetraceMode,
	}
	return cfg, validate(cfg)
}

// FromFile loads configuration from the yaml file at path.
func FromFile(path string) (Config, error) {
	return getYaml(path)
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Platform:        tmp.Platform,
		ListenAddr:      tmp.ListenAddr,
		TickInterval:    tmp.TickInterval,
		WALDir:          tmp.WALDir,
		MarketCacheTTL:  tmp.MarketCacheTTL,
		MaxExitAttempts: tmp.MaxExitAttempts,
		ExitBearishMode: tmp.ExitBearishMode,
		ExitRetraceMode: tmp.ExitRetraceMode,
	}

	if cfg.Platform == "" {
		cfg.Platform = DefaultPlatform
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.WALDir == "" {
		cfg.WALDir = DefaultWALDir
	}
	if cfg.MarketCacheTTL <= 0 {
		cfg.MarketCacheTTL = DefaultMarketCacheTTL
	}
	if cfg.MaxExitAttempts <= 0 {
		cfg.MaxExitAttempts = DefaultMaxExitAttempts
	}
	if cfg.ExitBearishMode == "" {
		cfg.ExitBearishMode = DefaultExitBearishMode
	}
	if cfg.ExitRetraceMode == "" {
		cfg.ExitRetraceMode = DefaultExitRetraceMode
	}

	for _, seed := range tmp.Bots {
		botCfg, err := parseBotSeed(seed)
		if err != nil {
			return Config{}, fmt.Errorf("invalid bot seed for symbol %q: %w", seed.Symbol, err)
		}
		cfg.Bots = append(cfg.Bots, BotSeed{Symbol: seed.Symbol, Config: botCfg})
	}

	return cfg, validate(cfg)
}

func parseBotSeed(seed BotSeedTmp) (domain.BotConfig, error) {
	if seed.Symbol == "" {
		return domain.BotConfig{}, fmt.Errorf("symbol is required")
	}

	cfg := domain.BotConfig{
		ReEntryCount:             seed.ReEntryCount,
		ReEntryDelayMinutes:      seed.ReEntryDelayMinutes,
		SupportResistanceEnabled: seed.SupportResistanceEnabled,
		TrendAlignmentEnabled:    seed.TrendAlignmentEnabled,
	}

	var err error
	if cfg.InitialOrderAmount, err = parseDecimal(seed.InitialOrderAmount, ""); err != nil {
		return domain.BotConfig{}, fmt.Errorf("incorrect 'initial_order_amount' param: %w", err)
	}
	if cfg.TradeMultiplier, err = parseDecimal(seed.TradeMultiplier, "1"); err != nil {
		return domain.BotConfig{}, fmt.Errorf("incorrect 'trade_multiplier' param: %w", err)
	}
	if cfg.StepPercent, err = parseDecimal(seed.StepPercent, ""); err != nil {
		return domain.BotConfig{}, fmt.Errorf("incorrect 'step_percent' param: %w", err)
	}
	if cfg.StepMultiplier, err = parseDecimal(seed.StepMultiplier, "1"); err != nil {
		return domain.BotConfig{}, fmt.Errorf("incorrect 'step_multiplier' param: %w", err)
	}
	if cfg.TpTarget, err = parseDecimal(seed.TpTarget, ""); err != nil {
		return domain.BotConfig{}, fmt.Errorf("incorrect 'tp_target' param: %w", err)
	}
	if cfg.ExitPercentage, err = parseDecimal(seed.ExitPercentage, "100"); err != nil {
		return domain.BotConfig{}, fmt.Errorf("incorrect 'exit_percentage' param: %w", err)
	}

	return cfg, cfg.Validate()
}

func parseDecimal(value, fallback string) (decimal.Decimal, error) {
	if value == "" {
		value = fallback
	}
	if value == "" {
		return decimal.Decimal{}, fmt.Errorf("value is required")
	}
	return decimal.NewFromString(value)
}

func validate(cfg Config) error {
	switch cfg.Platform {
	case "binance", "bybit":
	default:
		return fmt.Errorf("unsupported platform %q, expected binance or bybit", cfg.Platform)
	}
	switch cfg.ExitBearishMode {
	case "both", "either":
	default:
		return fmt.Errorf("unsupported exit_bearish_mode %q, expected both or either", cfg.ExitBearishMode)
	}
	switch cfg.ExitRetraceMode {
	case "through_tp", "any_pullback":
	default:
		return fmt.Errorf("unsupported exit_retrace_mode %q, expected through_tp or any_pullback", cfg.ExitRetraceMode)
	}
	return nil
}
