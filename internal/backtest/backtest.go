// Package backtest replays historical candles through the same signal and
// DCA rules the live worker uses, for strategy evaluation without an
// exchange connection.
package backtest

import (
	"dcaengine/internal/models"
	"dcaengine/internal/strategy"
)

// Position tracks an open simulated DCA position.
type Position struct {
	Direction        string
	TotalQty         float64
	TotalCost        float64
	AveragePrice     float64
	LastOrderUSDT    float64
	SafetyOrdersUsed int
	BreakEvenArmed   bool
	BreakEvenPrice   float64
}

// Trade is one closed simulated position.
type Trade struct {
	Direction  string  `json:"direction"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Qty        float64 `json:"qty"`
	PNL        float64 `json:"pnl"`
	Reason     string  `json:"reason"`
	OpenIndex  int     `json:"open_index"`
	CloseIndex int     `json:"close_index"`
}

// Report mirrors the summary a backtest run hands back to the operator.
type Report struct {
	TotalTrades   int     `json:"total_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalProfit   float64 `json:"total_profit"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	AverageProfit float64 `json:"average_profit"`
	AverageLoss   float64 `json:"average_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	Trades        []Trade `json:"trades"`
}

// Engine replays a fixed candle history against a single strategy
// configuration, one closed candle at a time, the same granularity the
// live worker reacts to.
type Engine struct {
	candles []models.Candle
	pos     *Position
}

// NewEngine builds a replay engine over candles, oldest first.
func NewEngine(candles []models.Candle) *Engine {
	return &Engine{candles: candles}
}

const minLookback = 50

// Run walks the candle history and produces a trade report for settings.
// Starting USDT is the size of the first entry order; DCA sizing, TP,
// break-even and the commission/PNL formula match the live worker exactly.
func (e *Engine) Run(settings models.StrategySettings, startUSDT float64) Report {
	var trades []Trade
	e.pos = nil
	openIndex := 0

	for i := minLookback; i < len(e.candles); i++ {
		window := e.candles[:i+1]
		price := e.candles[i].Close

		if e.pos == nil {
			direction, _ := strategy.GenerateSignal(window, settings)
			if direction == "" {
				continue
			}
			e.open(settings, direction, price, startUSDT)
			openIndex = i
			continue
		}

		var closed *Trade
		if settings.EnableFutures && settings.Mode == models.ModeFutures {
			closed = e.checkBreakEven(settings, price)
		}
		if closed == nil {
			closed = e.checkTakeProfit(settings, price)
		}
		if closed == nil {
			e.dca(settings, price)
			continue
		}
		closed.OpenIndex = openIndex
		closed.CloseIndex = i
		trades = append(trades, *closed)
	}

	return buildReport(trades)
}

func (e *Engine) open(settings models.StrategySettings, direction string, price, usdt float64) {
	qty := usdt / price
	commission := (settings.CommissionPct / 100) * qty * price
	e.pos = &Position{
		Direction:      direction,
		TotalQty:       qty,
		TotalCost:      qty*price + commission,
		AveragePrice:   (qty*price + commission) / qty,
		LastOrderUSDT:  usdt,
		BreakEvenPrice: price,
	}
}

func (e *Engine) dca(settings models.StrategySettings, price float64) {
	if e.pos.SafetyOrdersUsed >= settings.SafetyOrdersCount {
		return
	}
	step := settings.SafetyStepPct / 100
	shouldPlace := price <= e.pos.AveragePrice*(1-step)
	if e.pos.Direction == models.DirectionShort {
		shouldPlace = price >= e.pos.AveragePrice*(1+step)
	}
	if !shouldPlace {
		return
	}

	safetyUSDT := e.pos.LastOrderUSDT * settings.VolumeMultiplier
	qty := safetyUSDT / price
	commission := (settings.CommissionPct / 100) * qty * price

	e.pos.TotalQty += qty
	e.pos.TotalCost += qty*price + commission
	e.pos.AveragePrice = e.pos.TotalCost / e.pos.TotalQty
	e.pos.LastOrderUSDT = safetyUSDT
	e.pos.SafetyOrdersUsed++
	e.pos.BreakEvenPrice = e.pos.AveragePrice
}

func (e *Engine) checkBreakEven(settings models.StrategySettings, price float64) *Trade {
	if !e.pos.BreakEvenArmed {
		var profitPct float64
		if e.pos.Direction == models.DirectionLong {
			profitPct = (price - e.pos.AveragePrice) / e.pos.AveragePrice * 100
		} else {
			profitPct = (e.pos.AveragePrice - price) / e.pos.AveragePrice * 100
		}
		if profitPct >= settings.BreakEvenAfterPercent {
			e.pos.BreakEvenArmed = true
			e.pos.BreakEvenPrice = e.pos.AveragePrice
		}
		return nil
	}

	triggered := (e.pos.Direction == models.DirectionLong && price <= e.pos.BreakEvenPrice) ||
		(e.pos.Direction == models.DirectionShort && price >= e.pos.BreakEvenPrice)
	if !triggered {
		return nil
	}
	return e.close(settings, price, "BREAK_EVEN")
}

func (e *Engine) checkTakeProfit(settings models.StrategySettings, price float64) *Trade {
	var tp float64
	if e.pos.Direction == models.DirectionLong {
		tp = e.pos.AveragePrice * (1 + settings.TakeProfitPct/100)
	} else {
		tp = e.pos.AveragePrice * (1 - settings.TakeProfitPct/100)
	}

	hit := (e.pos.Direction == models.DirectionLong && price >= tp) ||
		(e.pos.Direction == models.DirectionShort && price <= tp)
	if !hit {
		return nil
	}
	return e.close(settings, price, "TP")
}

// close mirrors worker.closePosition's commission/PNL formula exactly.
func (e *Engine) close(settings models.StrategySettings, exitPrice float64, reason string) *Trade {
	qty := e.pos.TotalQty
	averagePrice := e.pos.AveragePrice
	totalCost := e.pos.TotalCost

	exitCommission := (settings.CommissionPct / 100) * qty * exitPrice
	var gross float64
	if e.pos.Direction == models.DirectionLong {
		gross = exitPrice * qty
	} else {
		gross = (2*averagePrice - exitPrice) * qty
	}
	pnl := (gross - exitCommission) - totalCost

	trade := &Trade{
		Direction:  e.pos.Direction,
		EntryPrice: averagePrice,
		ExitPrice:  exitPrice,
		Qty:        qty,
		PNL:        pnl,
		Reason:     reason,
	}
	e.pos = nil
	return trade
}

func buildReport(trades []Trade) Report {
	report := Report{TotalTrades: len(trades), Trades: trades}
	if len(trades) == 0 {
		return report
	}

	var wins, losses int
	var grossProfit, grossLoss float64
	var equity, peak, maxDrawdown float64

	for _, t := range trades {
		report.TotalProfit += t.PNL
		equity += t.PNL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDrawdown {
			maxDrawdown = dd
		}
		if t.PNL >= 0 {
			wins++
			grossProfit += t.PNL
		} else {
			losses++
			grossLoss += -t.PNL
		}
	}

	report.WinRate = float64(wins) / float64(len(trades)) * 100
	report.MaxDrawdown = maxDrawdown
	if wins > 0 {
		report.AverageProfit = grossProfit / float64(wins)
	}
	if losses > 0 {
		report.AverageLoss = grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		report.ProfitFactor = grossProfit / grossLoss
	}
	return report
}
