// Package strategy evaluates a pair's enabled entry-condition filters
// against its candle history and turns a consensus into a LONG/SHORT
// signal.
package strategy

import (
	"dcaengine/internal/indicator"
	"dcaengine/internal/models"
)

// ConditionResult records the per-filter verdict for one direction. A nil
// value means the filter was disabled for this run.
type ConditionResult map[string]*bool

// Report is the condition evaluation for both directions, kept around so
// the operator surface can explain why a signal did or didn't fire.
type Report struct {
	Long  ConditionResult
	Short ConditionResult
}

func ptr(b bool) *bool { return &b }

// Evaluate checks every enabled filter for direction against candles under
// settings. An empty (all-disabled) configuration never fires — there must
// be at least one active filter and all active filters must agree.
func Evaluate(candles []models.Candle, settings models.StrategySettings, direction string) (bool, ConditionResult) {
	checks := ConditionResult{}

	if settings.UseRSI {
		checks["RSI"] = ptr(checkRSI(candles, settings, direction))
	}
	if settings.UseEMATrendFilter {
		checks["EMA"] = ptr(checkEMATrend(candles, settings, direction))
	}
	if settings.UseADXFilter {
		checks["ADX"] = ptr(checkADX(candles, settings))
	}
	if settings.UseVolumeFilter {
		checks["Volume"] = ptr(checkVolumeSpike(candles, settings))
	}
	if settings.UseATRFilter {
		checks["ATR"] = ptr(checkATRFilter(candles, settings))
	}

	if len(checks) == 0 {
		return false, checks
	}
	for _, v := range checks {
		if !*v {
			return false, checks
		}
	}
	return true, checks
}

func checkRSI(candles []models.Candle, settings models.StrategySettings, direction string) bool {
	rsi, ok := indicator.RSI(candles, settings.RSIPeriod)
	if !ok {
		return false
	}
	if direction == models.DirectionLong {
		return rsi < settings.RSILevel
	}
	return rsi > settings.RSILevel
}

func checkEMATrend(candles []models.Candle, settings models.StrategySettings, direction string) bool {
	ema, ok := indicator.EMA(candles, settings.EMAPeriod)
	if !ok || len(candles) == 0 {
		return false
	}
	closePrice := candles[len(candles)-1].Close
	if direction == models.DirectionLong {
		return closePrice > ema
	}
	return closePrice < ema
}

func checkADX(candles []models.Candle, settings models.StrategySettings) bool {
	adx, ok := indicator.ADX(candles, settings.ADXPeriod)
	if !ok {
		return false
	}
	return adx > settings.ADXThreshold
}

func checkVolumeSpike(candles []models.Candle, settings models.StrategySettings) bool {
	if len(candles) < 2 {
		return false
	}
	current := candles[len(candles)-1].Volume

	history := candles[:len(candles)-1]
	if len(history) > 20 {
		history = history[len(history)-20:]
	}
	var sum float64
	for _, c := range history {
		sum += c.Volume
	}
	avg := sum / float64(len(history))
	if avg <= 0 {
		return false
	}
	return current > avg*settings.VolumeSpikeMultiplier
}

func checkATRFilter(candles []models.Candle, settings models.StrategySettings) bool {
	atr, ok := indicator.ATR(candles, settings.ADXPeriod)
	if !ok {
		return false
	}
	return atr > settings.ATRMinValue
}

// GenerateSignal returns the entry direction to take, or "" if neither
// side's conditions are satisfied. LONG is checked first, matching the
// original precedence when both sides somehow agree.
func GenerateSignal(candles []models.Candle, settings models.StrategySettings) (string, Report) {
	longOK, longChecks := Evaluate(candles, settings, models.DirectionLong)
	shortOK, shortChecks := Evaluate(candles, settings, models.DirectionShort)

	report := Report{Long: longChecks, Short: shortChecks}

	if longOK {
		return models.DirectionLong, report
	}
	if shortOK {
		return models.DirectionShort, report
	}
	return "", report
}
