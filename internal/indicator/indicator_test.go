package indicator

import (
	"math"
	"testing"

	"dcaengine/internal/models"
)

func candlesFromCloses(closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return out
}

func TestRSI_NotEnoughData(t *testing.T) {
	_, ok := RSI(candlesFromCloses([]float64{1, 2}), 14)
	if ok {
		t.Fatal("expected false with insufficient candles")
	}
}

func TestRSI_AllGainsIs100(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	rsi, ok := RSI(candlesFromCloses(closes), 14)
	if !ok {
		t.Fatal("expected ok")
	}
	if rsi != 100 {
		t.Errorf("rsi = %v, want 100", rsi)
	}
}

func TestRSI_FlatSeriesWithNoLossesIs100(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100
	}
	rsi, ok := RSI(candlesFromCloses(closes), 14)
	if !ok {
		t.Fatal("expected ok")
	}
	if rsi != 100 {
		t.Errorf("rsi = %v, want 100 (zero loss defined as 100)", rsi)
	}
}

func TestEMA_SingleCandleEqualsClose(t *testing.T) {
	ema, ok := EMA(candlesFromCloses([]float64{42}), 10)
	if !ok || ema != 42 {
		t.Errorf("ema = %v, ok=%v, want 42/true", ema, ok)
	}
}

func TestEMA_TracksTrend(t *testing.T) {
	closes := []float64{10, 20, 30, 40, 50}
	ema, ok := EMA(candlesFromCloses(closes), 3)
	if !ok {
		t.Fatal("expected ok")
	}
	if ema <= 10 || ema >= 50 {
		t.Errorf("ema = %v, expected to be between first and last close", ema)
	}
}

func TestATR_NotEnoughData(t *testing.T) {
	_, ok := ATR(candlesFromCloses([]float64{1, 2}), 14)
	if ok {
		t.Fatal("expected false with insufficient candles")
	}
}

func TestATR_ZeroRangeIsZero(t *testing.T) {
	candles := make([]models.Candle, 15)
	for i := range candles {
		candles[i] = models.Candle{Open: 100, High: 100, Low: 100, Close: 100}
	}
	atr, ok := ATR(candles, 14)
	if !ok {
		t.Fatal("expected ok")
	}
	if atr != 0 {
		t.Errorf("atr = %v, want 0", atr)
	}
}

func TestADX_NotEnoughData(t *testing.T) {
	_, ok := ADX(candlesFromCloses([]float64{1, 2, 3}), 14)
	if ok {
		t.Fatal("expected false with insufficient candles")
	}
}

func TestADX_StrongTrendIsHigh(t *testing.T) {
	n := 40
	candles := make([]models.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		candles[i] = models.Candle{Open: price, High: price + 2, Low: price - 0.1, Close: price + 1.5}
		price += 1.5
	}
	adx, ok := ADX(candles, 14)
	if !ok {
		t.Fatal("expected ok")
	}
	if adx < 50 {
		t.Errorf("adx = %v, expected strong trend (>=50) for monotonic uptrend", adx)
	}
}

func TestAbsHelperViaATR(t *testing.T) {
	candles := []models.Candle{
		{Open: 100, High: 101, Low: 99, Close: 100},
		{Open: 100, High: 105, Low: 95, Close: 102},
	}
	atr, ok := ATR(candles, 1)
	if !ok {
		t.Fatal("expected ok")
	}
	if math.Abs(atr-10) > 1e-9 {
		t.Errorf("atr = %v, want 10", atr)
	}
}
