// Package indicator computes the technical indicators the strategy engine
// conditions on, directly from closed candles.
package indicator

import "dcaengine/internal/models"

// RSI computes the relative strength index over the last period+1 candles,
// using the simple average gain and loss of those period closes (no Wilder
// smoothing). Returns false if there aren't enough candles yet.
func RSI(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	window := candles[len(candles)-period-1:]

	var gainSum, lossSum float64
	for i := 1; i < len(window); i++ {
		delta := window[i].Close - window[i-1].Close
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// EMA computes the exponential moving average over the full candle slice.
// Returns false if there are no candles.
func EMA(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) == 0 {
		return 0, false
	}
	k := 2.0 / (float64(period) + 1)
	ema := candles[0].Close
	for i := 1; i < len(candles); i++ {
		ema = candles[i].Close*k + ema*(1-k)
	}
	return ema, true
}

// ATR computes the average true range over the last period candles.
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	window := candles[len(candles)-period-1:]

	var trSum float64
	for i := 1; i < len(window); i++ {
		high, low, prevClose := window[i].High, window[i].Low, window[i-1].Close
		tr := high - low
		if v := abs(high - prevClose); v > tr {
			tr = v
		}
		if v := abs(low - prevClose); v > tr {
			tr = v
		}
		trSum += tr
	}
	return trSum / float64(period), true
}

// ADX computes the average directional index over the last period*2+1
// candles: a DX value from plain period-bar sums of +DM, -DM and true range
// for each of the period+1 windows, averaged with equal weight (no Wilder
// smoothing).
func ADX(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period*2+1 {
		return 0, false
	}
	window := candles[len(candles)-(period*2+1):]

	var plusDM, minusDM, trSum float64
	dxValues := make([]float64, 0, period)

	for start := 1; start+period <= len(window); start++ {
		plusDM, minusDM, trSum = 0, 0, 0
		for i := start; i < start+period; i++ {
			upMove := window[i].High - window[i-1].High
			downMove := window[i-1].Low - window[i].Low

			if upMove > downMove && upMove > 0 {
				plusDM += upMove
			}
			if downMove > upMove && downMove > 0 {
				minusDM += downMove
			}

			high, low, prevClose := window[i].High, window[i].Low, window[i-1].Close
			tr := high - low
			if v := abs(high - prevClose); v > tr {
				tr = v
			}
			if v := abs(low - prevClose); v > tr {
				tr = v
			}
			trSum += tr
		}

		if trSum == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		plusDI := 100 * plusDM / trSum
		minusDI := 100 * minusDM / trSum
		sumDI := plusDI + minusDI
		if sumDI == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		dxValues = append(dxValues, 100*abs(plusDI-minusDI)/sumDI)
	}

	if len(dxValues) == 0 {
		return 0, false
	}
	var sum float64
	for _, dx := range dxValues {
		sum += dx
	}
	return sum / float64(len(dxValues)), true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
