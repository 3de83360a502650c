// Package indicators wraps the stream-based cinar indicator library with
// slice-in, slice-out helpers used by the market scoring layer.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

// Candle is one OHLC bar.
type Candle struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Snapshot holds the latest aligned indicator values for a symbol.
type Snapshot struct {
	EMA20 decimal.Decimal
	EMA50 decimal.Decimal
	MACD  decimal.Decimal
	RSI14 decimal.Decimal
	Close decimal.Decimal
}

// MinCandles is the minimum history needed for a full snapshot (EMA50 warmup).
const MinCandles = 50

// EMA calculates the Exponential Moving Average for the given period.
func EMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(decimalsToFloat64(closes))))

	return float64ToDecimals(out), nil
}

// RSI calculates the Relative Strength Index for the given period.
func RSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(decimalsToFloat64(closes))))

	return float64ToDecimals(out), nil
}

// MACD calculates MACD line values.
func MACD(closes []decimal.Decimal) ([]decimal.Decimal, error) {
	if len(closes) < 26 {
		return nil, fmt.Errorf("not enough data points for MACD: need at least 26, got %d", len(closes))
	}

	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(helper.SliceToChan(decimalsToFloat64(closes)))
	// drain signal channel to prevent blocking
	go func() {
		for range signalChan {
		}
	}()
	out := helper.ChanToSlice(macdChan)

	return float64ToDecimals(out), nil
}

// Latest computes a snapshot of the most recent indicator values from the
// given candle history.
func Latest(candles []Candle) (Snapshot, error) {
	if len(candles) < MinCandles {
		return Snapshot{}, fmt.Errorf("not enough candles: need at least %d, got %d", MinCandles, len(candles))
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ema20, err := EMA(closes, 20)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to calculate EMA20: %w", err)
	}

	ema50, err := EMA(closes, 50)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to calculate EMA50: %w", err)
	}

	macd, err := MACD(closes)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to calculate MACD: %w", err)
	}

	rsi14, err := RSI(closes, 14)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to calculate RSI14: %w", err)
	}

	return Snapshot{
		EMA20: ema20[len(ema20)-1],
		EMA50: ema50[len(ema50)-1],
		MACD:  macd[len(macd)-1],
		RSI14: rsi14[len(rsi14)-1],
		Close: closes[len(closes)-1],
	}, nil
}

// SupportResistance returns the lowest low and the highest high of the
// given candle window.
func SupportResistance(candles []Candle) (support, resistance decimal.Decimal) {
	for i, c := range candles {
		if i == 0 {
			support, resistance = c.Low, c.High
			continue
		}
		if c.Low.LessThan(support) {
			support = c.Low
		}
		if c.High.GreaterThan(resistance) {
			resistance = c.High
		}
	}
	return support, resistance
}

// decimalsToFloat64 converts a slice of decimal.Decimal to []float64.
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

// float64ToDecimals converts a slice of float64 to []decimal.Decimal.
func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
