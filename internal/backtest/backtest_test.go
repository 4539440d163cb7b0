package backtest

import (
	"testing"

	"dcaengine/internal/models"
)

func sawtoothCandles(n int, start, amplitude float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		price := start
		if i%20 < 10 {
			price -= amplitude
		} else {
			price += amplitude
		}
		out[i] = models.Candle{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100}
	}
	return out
}

func flatCandles(n int, price float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 100}
	}
	return out
}

func TestRun_NoFiltersNeverOpensPosition(t *testing.T) {
	settings := models.DefaultStrategySettings()
	settings.UseRSI = false
	settings.UseEMATrendFilter = false
	settings.UseADXFilter = false
	settings.UseVolumeFilter = false
	settings.UseATRFilter = false

	engine := NewEngine(sawtoothCandles(300, 100, 5))
	report := engine.Run(settings, 25)

	if report.TotalTrades != 0 {
		t.Fatalf("expected no trades with every filter disabled, got %d", report.TotalTrades)
	}
}

func TestRun_TakeProfitClosesLongPosition(t *testing.T) {
	settings := models.DefaultStrategySettings()
	settings.UseRSI = false
	settings.UseEMATrendFilter = false
	settings.UseADXFilter = false
	settings.UseVolumeFilter = false
	settings.UseATRFilter = false
	settings.TakeProfitPct = 0.01
	settings.SafetyOrdersCount = 0

	candles := flatCandles(60, 100)
	engine := NewEngine(candles)
	engine.pos = &Position{
		Direction:      models.DirectionLong,
		TotalQty:       1,
		TotalCost:      100,
		AveragePrice:   100,
		LastOrderUSDT:  100,
		BreakEvenPrice: 100,
	}

	closed := engine.checkTakeProfit(settings, 101)
	if closed == nil {
		t.Fatal("expected take-profit to close the position")
	}
	if closed.Reason != "TP" {
		t.Errorf("expected reason TP, got %s", closed.Reason)
	}
	if closed.PNL <= 0 {
		t.Errorf("expected positive pnl on a take-profit exit, got %.6f", closed.PNL)
	}
}

func TestRun_SafetyOrderLowersAverageOnDrop(t *testing.T) {
	settings := models.DefaultStrategySettings()
	settings.SafetyStepPct = 1.0
	settings.VolumeMultiplier = 1.0
	settings.SafetyOrdersCount = 3

	engine := NewEngine(flatCandles(10, 100))
	engine.pos = &Position{
		Direction:      models.DirectionLong,
		TotalQty:       1,
		TotalCost:      100,
		AveragePrice:   100,
		LastOrderUSDT:  100,
		BreakEvenPrice: 100,
	}

	engine.dca(settings, 98)

	if engine.pos.SafetyOrdersUsed != 1 {
		t.Fatalf("expected one safety order, got %d", engine.pos.SafetyOrdersUsed)
	}
	if engine.pos.AveragePrice >= 100 {
		t.Errorf("expected average price to drop below 100, got %.6f", engine.pos.AveragePrice)
	}
}

func TestRun_SafetyOrderSkippedBeforeStepThreshold(t *testing.T) {
	settings := models.DefaultStrategySettings()
	settings.SafetyStepPct = 5.0
	settings.SafetyOrdersCount = 3

	engine := NewEngine(flatCandles(10, 100))
	engine.pos = &Position{
		Direction:      models.DirectionLong,
		TotalQty:       1,
		TotalCost:      100,
		AveragePrice:   100,
		LastOrderUSDT:  100,
		BreakEvenPrice: 100,
	}

	engine.dca(settings, 99)

	if engine.pos.SafetyOrdersUsed != 0 {
		t.Errorf("expected no safety order below the step threshold, got %d", engine.pos.SafetyOrdersUsed)
	}
}

func TestBuildReport_ComputesWinRateAndProfitFactor(t *testing.T) {
	trades := []Trade{
		{PNL: 10},
		{PNL: -5},
		{PNL: 20},
	}
	report := buildReport(trades)

	if report.TotalTrades != 3 {
		t.Fatalf("expected 3 trades, got %d", report.TotalTrades)
	}
	if report.WinRate < 66 || report.WinRate > 67 {
		t.Errorf("expected ~66.67%% win rate, got %.2f", report.WinRate)
	}
	if report.ProfitFactor != 6 {
		t.Errorf("expected profit factor 6 (30/5), got %.2f", report.ProfitFactor)
	}
	if report.TotalProfit != 25 {
		t.Errorf("expected total profit 25, got %.2f", report.TotalProfit)
	}
}

func TestOptimizer_RunGridSearchRanksByProfitFactor(t *testing.T) {
	candles := sawtoothCandles(300, 100, 3)
	base := models.DefaultStrategySettings()
	base.UseRSI = true
	base.UseEMATrendFilter = false
	base.UseADXFilter = false
	base.UseVolumeFilter = false
	base.UseATRFilter = false

	ranges := []ParameterRange{
		{Field: "RSILevel", Values: []float64{20, 30, 40}},
		{Field: "TakeProfitPct", Values: []float64{0.5, 1.0}},
	}

	opt := NewOptimizer(2)
	results := opt.RunGridSearch(candles, base, ranges, 25)

	if len(results) != 6 {
		t.Fatalf("expected 6 combinations, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].ProfitFactor < results[i].ProfitFactor {
			t.Fatalf("results not sorted by descending profit factor at index %d", i)
		}
	}

	top := TopResults(results, 2)
	if len(top) != 2 {
		t.Errorf("expected 2 top results, got %d", len(top))
	}
}

func TestApply_OverlaysOnlyNamedFields(t *testing.T) {
	base := models.DefaultStrategySettings()
	settings := Apply(base, Combination{"TakeProfitPct": 2.5, "SafetyOrdersCount": 5})

	if settings.TakeProfitPct != 2.5 {
		t.Errorf("expected TakeProfitPct overlay, got %.2f", settings.TakeProfitPct)
	}
	if settings.SafetyOrdersCount != 5 {
		t.Errorf("expected SafetyOrdersCount overlay, got %d", settings.SafetyOrdersCount)
	}
	if settings.StopLossPct != base.StopLossPct {
		t.Errorf("expected unrelated fields untouched, got %.2f", settings.StopLossPct)
	}
}
