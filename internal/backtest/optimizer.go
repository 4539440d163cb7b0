package backtest

import (
	"sort"
	"sync"

	"dcaengine/internal/models"
)

// ParameterRange lists the candidate values one strategy field can take
// during a grid search. Field is the Go field name on
// models.StrategySettings; Apply recognises RSIPeriod, RSILevel, EMAPeriod,
// ADXPeriod, ADXThreshold, TakeProfitPct, StopLossPct, SafetyOrdersCount,
// SafetyStepPct, VolumeMultiplier and BreakEvenAfterPercent, and skips any
// other name.
type ParameterRange struct {
	Field  string
	Values []float64
}

// Combination is one point in the grid: the field=value pairs Apply sets
// on top of a base settings struct before a backtest run.
type Combination map[string]float64

// Result is one grid-search point's outcome, ranked against its peers.
type Result struct {
	Index        int         `json:"index"`
	Params       Combination `json:"params"`
	TotalProfit  float64     `json:"total_profit"`
	WinRate      float64     `json:"win_rate"`
	MaxDrawdown  float64     `json:"max_drawdown"`
	ProfitFactor float64     `json:"profit_factor"`
	TotalTrades  int         `json:"total_trades"`
}

// Optimizer runs a bounded-parallelism grid search over candle history,
// evaluating every parameter combination with its own Engine instance so
// runs never share mutable state.
type Optimizer struct {
	maxParallel int
}

// NewOptimizer builds an optimizer that evaluates at most maxParallel
// combinations concurrently.
func NewOptimizer(maxParallel int) *Optimizer {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Optimizer{maxParallel: maxParallel}
}

// expand turns a set of per-field value ranges into the cartesian product
// of combinations, matching the grid the original optimizer's
// itertools.product built.
func expand(ranges []ParameterRange) []Combination {
	if len(ranges) == 0 {
		return nil
	}
	combos := []Combination{{}}
	for _, r := range ranges {
		var next []Combination
		for _, base := range combos {
			for _, v := range r.Values {
				c := make(Combination, len(base)+1)
				for k, bv := range base {
					c[k] = bv
				}
				c[r.Field] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

// Apply overlays a combination's field=value pairs onto base and returns
// the resulting settings.
func Apply(base models.StrategySettings, combo Combination) models.StrategySettings {
	settings := base
	for field, value := range combo {
		switch field {
		case "RSIPeriod":
			settings.RSIPeriod = int(value)
		case "RSILevel":
			settings.RSILevel = value
		case "EMAPeriod":
			settings.EMAPeriod = int(value)
		case "ADXPeriod":
			settings.ADXPeriod = int(value)
		case "ADXThreshold":
			settings.ADXThreshold = value
		case "TakeProfitPct":
			settings.TakeProfitPct = value
		case "StopLossPct":
			settings.StopLossPct = value
		case "SafetyOrdersCount":
			settings.SafetyOrdersCount = int(value)
		case "SafetyStepPct":
			settings.SafetyStepPct = value
		case "VolumeMultiplier":
			settings.VolumeMultiplier = value
		case "BreakEvenAfterPercent":
			settings.BreakEvenAfterPercent = value
		}
	}
	return settings
}

// RunGridSearch evaluates every combination of ranges against candles and
// startUSDT, running at most o.maxParallel backtests at once, and returns
// results ranked best-first: highest profit factor, then lowest drawdown,
// then highest total profit, matching the original ranking rule.
func (o *Optimizer) RunGridSearch(candles []models.Candle, base models.StrategySettings, ranges []ParameterRange, startUSDT float64) []Result {
	combos := expand(ranges)
	results := make([]Result, len(combos))

	sem := make(chan struct{}, o.maxParallel)
	var wg sync.WaitGroup

	for i, combo := range combos {
		wg.Add(1)
		go func(index int, c Combination) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			settings := Apply(base, c)
			engine := NewEngine(candles)
			report := engine.Run(settings, startUSDT)

			results[index] = Result{
				Index:        index + 1,
				Params:       c,
				TotalProfit:  report.TotalProfit,
				WinRate:      report.WinRate,
				MaxDrawdown:  report.MaxDrawdown,
				ProfitFactor: report.ProfitFactor,
				TotalTrades:  report.TotalTrades,
			}
		}(i, combo)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].ProfitFactor != results[j].ProfitFactor {
			return results[i].ProfitFactor > results[j].ProfitFactor
		}
		if results[i].MaxDrawdown != results[j].MaxDrawdown {
			return results[i].MaxDrawdown < results[j].MaxDrawdown
		}
		return results[i].TotalProfit > results[j].TotalProfit
	})
	return results
}

// TopResults returns the best n results, or all of them if n exceeds the
// result count.
func TopResults(results []Result, n int) []Result {
	if n <= 0 {
		return nil
	}
	if n > len(results) {
		n = len(results)
	}
	return results[:n]
}
