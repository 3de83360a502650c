// Package setup provides the terminal wizard that generates the engine
// configuration file.
package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Daly187/DalyKraken2.0-sub000/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		platform         string
		listenAddr       string
		tickIntervalStr  string
		symbol           string
		initialAmountStr string
		tradeMultStr     string
		reEntryCountStr  string
		stepPercentStr   string
		stepMultStr      string
		tpTargetStr      string
		delayMinutesStr  string
		supportGate      bool
		trendGate        bool
		bearishMode      string
		retraceMode      string
		confirm          bool
	)

	// defaults
	listenAddr = ":8080"
	tickIntervalStr = "1m"
	initialAmountStr = "10"
	tradeMultStr = "2"
	reEntryCountStr = "5"
	stepPercentStr = "1.5"
	stepMultStr = "1.2"
	tpTargetStr = "3"
	delayMinutesStr = "30"
	bearishMode = "both"
	retraceMode = "through_tp"
	trendGate = true

	// step 1: welcome + platform
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("DCA ENGINE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's get your ladder bots running.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PLATFORM"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange Platform").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&platform),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2: engine settings
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DCA ENGINE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: ENGINE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API Listen Address").
				Description("host:port for the management API (e.g. :8080)").
				Value(&listenAddr),
			huh.NewInput().
				Title("Evaluation Interval").
				Description("Duration string (e.g. 30s, 1m, 5m)").
				Value(&tickIntervalStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewSelect[string]().
				Title("Bearish Exit Rule").
				Description("When does a held take-profit position exit on trend?").
				Options(
					huh.NewOption("Both scores below 50", "both"),
					huh.NewOption("Either score below 50", "either"),
				).
				Value(&bearishMode),
			huh.NewSelect[string]().
				Title("Retrace Exit Rule").
				Description("How far must price pull back after take-profit?").
				Options(
					huh.NewOption("Back below the TP level", "through_tp"),
					huh.NewOption("Any pullback from the peak", "any_pullback"),
				).
				Value(&retraceMode),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 3: first bot
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DCA ENGINE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: FIRST BOT"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbol").
				Description("Exchange symbol (e.g. BTCUSDT)").
				Value(&symbol).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("symbol cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Initial Order Amount").
				Description("Quote currency size of the first entry (e.g. 10)").
				Value(&initialAmountStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Trade Multiplier").
				Description("Each entry is this times larger (e.g. 2)").
				Value(&tradeMultStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Re-Entry Count").
				Description("Additional entries after the first (e.g. 5)").
				Value(&reEntryCountStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Step Percent").
				Description("Price drop from last fill to trigger re-entry (e.g. 1.5)").
				Value(&stepPercentStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Step Multiplier").
				Description("Each drop requirement is this times larger (e.g. 1.2)").
				Value(&stepMultStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Take Profit %").
				Description("Profit over average price to arm the exit (e.g. 3)").
				Value(&tpTargetStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Re-Entry Delay Minutes").
				Description("Cooldown between entries, 0 to disable").
				Value(&delayMinutesStr),
			huh.NewConfirm().
				Title("Require trend alignment before entries?").
				Value(&trendGate),
			huh.NewConfirm().
				Title("Require price at support for re-entries?").
				Value(&supportGate),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DCA ENGINE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Platform: %s\nListen: %s\nInterval: %s\nSymbol: %s\nInitial: %s x%s\nSteps: %s%% x%s, %s re-entries\nTP: %s%%\n",
		platform, listenAddr, tickIntervalStr, symbol,
		initialAmountStr, tradeMultStr,
		stepPercentStr, stepMultStr, reEntryCountStr,
		tpTargetStr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	tickInterval, _ := time.ParseDuration(tickIntervalStr)
	reEntryCount, _ := strconv.Atoi(reEntryCountStr)
	delayMinutes, _ := strconv.Atoi(delayMinutesStr)

	cfgTmp := config.ConfigTmp{
		Platform:        platform,
		ListenAddr:      listenAddr,
		TickInterval:    tickInterval,
		ExitBearishMode: bearishMode,
		ExitRetraceMode: retraceMode,
		Bots: []config.BotSeedTmp{
			{
				Symbol:                   symbol,
				InitialOrderAmount:       initialAmountStr,
				TradeMultiplier:          tradeMultStr,
				ReEntryCount:             reEntryCount,
				StepPercent:              stepPercentStr,
				StepMultiplier:           stepMultStr,
				TpTarget:                 tpTargetStr,
				ReEntryDelayMinutes:      delayMinutes,
				SupportResistanceEnabled: supportGate,
				TrendAlignmentEnabled:    trendGate,
			},
		},
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting engine...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func validatePositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1")
	}
	return nil
}
