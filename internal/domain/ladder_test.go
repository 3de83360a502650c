package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testConfig() BotConfig {
	return BotConfig{
		InitialOrderAmount:  decimal.NewFromInt(10),
		TradeMultiplier:     decimal.NewFromInt(2),
		ReEntryCount:        3,
		StepPercent:         decimal.NewFromInt(1),
		StepMultiplier:      decimal.NewFromInt(2),
		TpTarget:            decimal.NewFromInt(3),
		ExitPercentage:      decimal.NewFromInt(100),
		ReEntryDelayMinutes: 0,
	}
}

func TestNextEntry_GeometricLadder(t *testing.T) {
	cfg := testConfig()

	// entry 1: no trigger, base amount
	step, err := NextEntry(cfg, 1, decimal.Zero)
	require.NoError(t, err)
	require.True(t, step.TriggerPrice.IsZero())
	require.True(t, step.OrderAmount.Equal(decimal.NewFromInt(10)), "got %s", step.OrderAmount)

	// entry 2: 1% below last fill of 100, doubled amount
	step, err = NextEntry(cfg, 2, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, step.DropPercent.Equal(decimal.NewFromInt(1)))
	require.True(t, step.TriggerPrice.Equal(decimal.NewFromInt(99)), "got %s", step.TriggerPrice)
	require.True(t, step.OrderAmount.Equal(decimal.NewFromInt(20)))

	// entry 3: 2% below the new last fill, doubled again
	step, err = NextEntry(cfg, 3, decimal.NewFromInt(99))
	require.NoError(t, err)
	require.True(t, step.DropPercent.Equal(decimal.NewFromInt(2)))
	expected, _ := decimal.NewFromString("97.02") // 99 * 0.98
	require.True(t, step.TriggerPrice.Equal(expected), "got %s", step.TriggerPrice)
	require.True(t, step.OrderAmount.Equal(decimal.NewFromInt(40)))
}

func TestNextEntry_TriggersAreRelativeToLastFill(t *testing.T) {
	cfg := testConfig()

	// a fill well below the trigger re-anchors the next step
	step, err := NextEntry(cfg, 2, decimal.NewFromInt(50))
	require.NoError(t, err)
	expected, _ := decimal.NewFromString("49.5")
	require.True(t, step.TriggerPrice.Equal(expected), "got %s", step.TriggerPrice)
}

func TestNextEntry_UnitMultipliersDegenerate(t *testing.T) {
	cfg := testConfig()
	cfg.TradeMultiplier = decimal.NewFromInt(1)
	cfg.StepMultiplier = decimal.NewFromInt(1)

	for n := 2; n <= cfg.MaxEntries(); n++ {
		step, err := NextEntry(cfg, n, decimal.NewFromInt(100))
		require.NoError(t, err)
		require.True(t, step.OrderAmount.Equal(decimal.NewFromInt(10)))
		require.True(t, step.DropPercent.Equal(decimal.NewFromInt(1)))
	}
}

func TestNextEntry_ExceedsBudget(t *testing.T) {
	cfg := testConfig() // budget = 4
	_, err := NextEntry(cfg, 5, decimal.NewFromInt(100))
	require.Error(t, err)
}

func TestNextEntry_ReEntryNeedsLastFill(t *testing.T) {
	cfg := testConfig()
	_, err := NextEntry(cfg, 2, decimal.Zero)
	require.Error(t, err)
}

func TestNextEntry_TriggerMonotonicallyDecreasing(t *testing.T) {
	cfg := testConfig()

	last := decimal.NewFromInt(100)
	for n := 2; n <= cfg.MaxEntries(); n++ {
		step, err := NextEntry(cfg, n, last)
		require.NoError(t, err)
		require.True(t, step.TriggerPrice.LessThan(last),
			"entry %d trigger %s not below last fill %s", n, step.TriggerPrice, last)
		last = step.TriggerPrice
	}
}

func TestPercentageDiff(t *testing.T) {
	diff := PercentageDiff(decimal.NewFromInt(110), decimal.NewFromInt(100))
	require.True(t, diff.Equal(decimal.NewFromInt(10)))

	diff = PercentageDiff(decimal.NewFromInt(90), decimal.NewFromInt(100))
	require.True(t, diff.Equal(decimal.NewFromInt(-10)))

	require.True(t, PercentageDiff(decimal.NewFromInt(1), decimal.Zero).IsZero())
}
