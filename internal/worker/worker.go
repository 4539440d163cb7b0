// Package worker implements the per-pair DCA state machine: one cooperative
// 1Hz loop per trading pair driving entries, safety orders, break-even and
// take-profit exits.
package worker

import (
	"context"
	"sync"
	"time"

	"dcaengine/internal/exchange"
	"dcaengine/internal/models"
	"dcaengine/internal/order"
	"dcaengine/internal/strategy"
	"dcaengine/pkg/utils"
)

const (
	tickInterval       = 1 * time.Second
	positionSyncPeriod = 30 * time.Second
)

// CandleSource is the subset of the market feed a worker reads from.
type CandleSource interface {
	Price(symbol string) (float64, bool)
	Candles(symbol string) []models.Candle
	Version(symbol string) uint64
}

// Callbacks lets the owning manager observe a worker without the worker
// holding a pointer back to it.
type Callbacks struct {
	OnTradeClosed    func(symbol string, pnl float64, market, direction string)
	OnPriceUpdate    func(symbol string, price float64)
	OnRuntimeUpdate  func(symbol string)
}

// Worker runs one pair's entire lifecycle: signal evaluation, DCA
// escalation, break-even and take-profit exits, and periodic reconciliation
// against the exchange.
type Worker struct {
	symbol   string
	exchange exchange.Exchange
	feed     CandleSource
	orders   *order.Manager
	callbacks Callbacks
	exposureProvider func() float64

	mu       sync.RWMutex
	settings models.StrategySettings
	pendingSettings *models.StrategySettings
	runtime  models.PairRuntime

	orderInProgress       bool
	safetyOrderInProgress bool
	futuresLeverage       int
	futuresMarginMode     string
	lastCandleVersion     uint64
	lastPositionSync      time.Time

	stop chan struct{}
	done chan struct{}

	log *utils.Logger
}

// New builds a stopped worker for symbol. Call Start to begin its loop.
func New(symbol string, ex exchange.Exchange, feed CandleSource, orders *order.Manager, settings models.StrategySettings, callbacks Callbacks, exposureProvider func() float64) *Worker {
	return &Worker{
		symbol:           symbol,
		exchange:         ex,
		feed:             feed,
		orders:           orders,
		callbacks:        callbacks,
		exposureProvider: exposureProvider,
		settings:         settings,
		runtime:          models.PairRuntime{State: models.StateIdle},
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
		log:              utils.L().WithComponent("worker").WithSymbol(symbol),
	}
}

// Symbol returns the pair this worker runs.
func (w *Worker) Symbol() string { return w.symbol }

// RuntimeSnapshot returns a copy of the current runtime state, safe to read
// concurrently with the running loop.
func (w *Worker) RuntimeSnapshot() models.PairRuntime {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runtime
}

// ApplyRuntimeState adopts a persisted runtime snapshot, e.g. on process
// restart, and marks the pair for a reconciliation pass against the
// exchange before trusting it.
func (w *Worker) ApplyRuntimeState(runtime models.PairRuntime) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runtime = runtime
	w.runtime.NeedsResync = true
}

// UpdateSettings swaps strategy settings immediately if flat, or defers the
// swap until the current position closes.
func (w *Worker) UpdateSettings(settings models.StrategySettings) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runtime.PositionOpen {
		w.pendingSettings = &settings
		return
	}
	w.settings = settings
}

// Start marks the worker running and launches its 1Hz loop. The loop exits
// once Stop is called or ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	w.runtime.IsRunning = true
	w.mu.Unlock()
	w.notifyRuntimeUpdate()
	w.log.Sugar().Infof("worker: %s started", w.symbol)

	go w.runLoop(ctx)
}

// Stop requests the loop goroutine to exit and waits for it to do so.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.runtime.IsRunning = false
	w.mu.Unlock()
	close(w.stop)
	<-w.done
	w.log.Sugar().Infof("worker: %s stopped", w.symbol)
	w.notifyRuntimeUpdate()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					w.log.Sugar().Warnf("worker: %s loop panic: %v", w.symbol, r)
				}
			}()
			w.tick(ctx)
		}()
	}
}

func (w *Worker) tick(ctx context.Context) {
	w.processClosedCandleIfNeeded(ctx)
	w.processDCA(ctx)
	w.checkBreakEven(ctx)
	w.checkTakeProfit(ctx)
	w.periodicPositionSync(ctx)

	if price, ok := w.feed.Price(w.symbol); ok && w.callbacks.OnPriceUpdate != nil {
		w.callbacks.OnPriceUpdate(w.symbol, price)
	}
}

func (w *Worker) notifyRuntimeUpdate() {
	if w.callbacks.OnRuntimeUpdate != nil {
		w.callbacks.OnRuntimeUpdate(w.symbol)
	}
}

func (w *Worker) isFuturesMode(settings models.StrategySettings) bool {
	return settings.EnableFutures && settings.Mode == models.ModeFutures
}

func (w *Worker) processClosedCandleIfNeeded(ctx context.Context) {
	version := w.feed.Version(w.symbol)
	if version == 0 || version == w.lastCandleVersion {
		return
	}
	w.lastCandleVersion = version

	w.mu.RLock()
	settings := w.settings
	positionOpen := w.runtime.PositionOpen
	orderInProgress := w.orderInProgress
	w.mu.RUnlock()

	minLen := settings.EMAPeriod
	if settings.RSIPeriod > minLen {
		minLen = settings.RSIPeriod
	}
	if settings.ADXPeriod > minLen {
		minLen = settings.ADXPeriod
	}

	candles := w.feed.Candles(w.symbol)
	if len(candles) < minLen {
		return
	}

	signal, _ := strategy.GenerateSignal(candles, settings)
	if signal == "" {
		return
	}
	w.log.Sugar().Infof("worker: %s %s signal", w.symbol, signal)
	recordSignal(w.symbol, signal)

	if signal == models.DirectionLong && !positionOpen && !orderInProgress {
		if w.isEntryBlocked(settings) {
			return
		}
		w.openInitialPosition(ctx, settings)
	}
}

func (w *Worker) isEntryBlocked(settings models.StrategySettings) bool {
	w.mu.RLock()
	lastClose := w.runtime.LastCloseTimestamp
	lastClosePrice := w.runtime.LastClosePrice
	w.mu.RUnlock()

	cooldownSec := settings.CooldownMinutes * 60
	if cooldownSec > 0 && float64(time.Now().Unix()-lastClose) < cooldownSec {
		w.log.Sugar().Infof("worker: %s cooldown active, skipping entry", w.symbol)
		recordEntryBlocked(w.symbol, "cooldown")
		return true
	}

	if price, ok := w.feed.Price(w.symbol); ok && lastClosePrice > 0 {
		deltaPct := absF(price-lastClosePrice) / lastClosePrice * 100
		if deltaPct < settings.AntiReentryThresholdPct {
			w.log.Sugar().Infof("worker: %s anti re-entry active, skipping entry", w.symbol)
			recordEntryBlocked(w.symbol, "anti_reentry")
			return true
		}
	}
	return false
}

func (w *Worker) openInitialPosition(ctx context.Context, settings models.StrategySettings) {
	w.mu.Lock()
	if w.runtime.PositionOpen || w.orderInProgress {
		w.mu.Unlock()
		return
	}
	if settings.RunMode == models.RunModeBacktest {
		w.mu.Unlock()
		return
	}

	isFutures := w.isFuturesMode(settings)
	if isFutures {
		w.runtime.Direction = settings.FuturesPositionSide
		w.runtime.Direction = normalizeDirection(w.runtime.Direction)
	} else {
		w.runtime.Direction = models.DirectionLong
	}
	w.mu.Unlock()

	if isFutures {
		w.ensureFuturesConfig(ctx, settings)
	}

	currentExposure := 0.0
	if w.exposureProvider != nil {
		currentExposure = w.exposureProvider()
	}
	leverage := 1
	if isFutures {
		leverage = settings.Leverage
	}

	baseUSDT, err := w.orders.CalculateEntrySizeUSDT(ctx, w.exchange, w.symbol, settings, isFutures, leverage, currentExposure)
	if err != nil {
		w.log.Sugar().Warnf("worker: %s entry sizing skipped: %v", w.symbol, err)
		return
	}

	w.mu.Lock()
	w.transitionToLocked(models.StateEntering)
	w.mu.Unlock()

	w.openOrderWithUSDT(ctx, settings, baseUSDT, "entry")
}

func (w *Worker) ensureFuturesConfig(ctx context.Context, settings models.StrategySettings) {
	w.mu.Lock()
	needsUpdate := w.futuresMarginMode != settings.MarginMode || w.futuresLeverage != settings.Leverage
	w.mu.Unlock()
	if !needsUpdate {
		return
	}
	if err := w.orders.ConfigureFutures(ctx, w.exchange, w.symbol, settings.Leverage, settings.MarginMode); err != nil {
		w.log.Sugar().Warnf("worker: %s futures config failed: %v", w.symbol, err)
		return
	}
	w.mu.Lock()
	w.futuresMarginMode = settings.MarginMode
	w.futuresLeverage = settings.Leverage
	w.mu.Unlock()
	w.log.Sugar().Infof("worker: %s futures config applied leverage=%d margin=%s", w.symbol, settings.Leverage, settings.MarginMode)
}

func (w *Worker) openOrderWithUSDT(ctx context.Context, settings models.StrategySettings, usdtAmount float64, kind string) {
	w.mu.Lock()
	if w.orderInProgress {
		w.mu.Unlock()
		return
	}
	w.orderInProgress = true
	w.runtime.LastOrderUSDT = usdtAmount
	direction := w.runtime.Direction
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.orderInProgress = false
		w.mu.Unlock()
	}()

	var qty, price float64
	isFutures := w.isFuturesMode(settings)

	switch {
	case settings.RunMode == models.RunModePaper:
		current, ok := w.feed.Price(w.symbol)
		if !ok || current <= 0 {
			w.revertFailedEntry()
			return
		}
		qty, price = usdtAmount/current, current
		w.log.Sugar().Infof("worker: %s paper order filled qty=%.6f price=%.6f", w.symbol, qty, price)
		recordOrderPlaced(w.symbol, kind, "ok")

	case isFutures:
		result, err := w.orders.OpenPositionFutures(ctx, w.exchange, w.symbol, direction, usdtAmount, settings.UseMarketOrder, settings.OrderTimeoutSec)
		if err != nil || result == nil {
			if err != nil {
				w.log.Sugar().Warnf("worker: %s futures entry failed: %v", w.symbol, err)
			}
			recordOrderPlaced(w.symbol, kind, "failed")
			w.revertFailedEntry()
			return
		}
		qty, price = result.Quantity, result.EntryPrice
		recordOrderPlaced(w.symbol, kind, "ok")

	default:
		result, err := w.orders.OpenPositionSpot(ctx, w.exchange, w.symbol, exchange.SideBuy, usdtAmount, settings.UseMarketOrder, settings.OrderTimeoutSec)
		if err != nil || result == nil {
			if err != nil {
				w.log.Sugar().Warnf("worker: %s spot entry failed: %v", w.symbol, err)
			}
			recordOrderPlaced(w.symbol, kind, "failed")
			w.revertFailedEntry()
			return
		}
		qty, price = result.Quantity, result.EntryPrice
		recordOrderPlaced(w.symbol, kind, "ok")
	}

	commission := (settings.CommissionPct / 100) * qty * price

	w.mu.Lock()
	w.transitionToLocked(models.StateOpen)
	w.runtime.PositionOpen = true
	if w.runtime.EntryPrice == 0 {
		w.runtime.EntryPrice = price
	}
	w.runtime.TotalQty += qty
	w.runtime.TotalCost += qty*price + commission
	w.runtime.AveragePrice = w.runtime.TotalCost / w.runtime.TotalQty
	w.recalculateTPLocked(settings)
	w.recalculateSLLocked(settings)
	w.runtime.BreakEvenPrice = w.runtime.AveragePrice
	w.mu.Unlock()

	if isFutures && settings.ProtectionOrdersOnExchange {
		w.refreshProtectionOrders(ctx, settings)
	}
	w.notifyRuntimeUpdate()
}

// recalculateTPLocked must be called with mu held.
func (w *Worker) recalculateTPLocked(settings models.StrategySettings) {
	if w.runtime.Direction == models.DirectionLong {
		w.runtime.TakeProfitPrice = w.runtime.AveragePrice * (1 + settings.TakeProfitPct/100)
	} else {
		w.runtime.TakeProfitPrice = w.runtime.AveragePrice * (1 - settings.TakeProfitPct/100)
	}
}

// recalculateSLLocked must be called with mu held.
func (w *Worker) recalculateSLLocked(settings models.StrategySettings) {
	if w.runtime.Direction == models.DirectionLong {
		w.runtime.StopLossPrice = w.runtime.AveragePrice * (1 - settings.StopLossPct/100)
	} else {
		w.runtime.StopLossPrice = w.runtime.AveragePrice * (1 + settings.StopLossPct/100)
	}
}

func (w *Worker) isSLActive(settings models.StrategySettings, safetyOrdersUsed int) bool {
	switch settings.StopLossMode {
	case models.StopLossModeOff:
		return false
	case models.StopLossModeAlways:
		return true
	case models.StopLossModeAfterLastSafety:
		return safetyOrdersUsed >= settings.SafetyOrdersCount
	default:
		return false
	}
}

func (w *Worker) refreshProtectionOrders(ctx context.Context, settings models.StrategySettings) {
	if !w.isFuturesMode(settings) {
		return
	}
	w.mu.Lock()
	if !w.runtime.PositionOpen {
		w.mu.Unlock()
		return
	}
	w.recalculateTPLocked(settings)
	slActive := w.isSLActive(settings, w.runtime.SafetyOrdersUsed)
	w.recalculateSLLocked(settings)
	direction := w.runtime.Direction
	qty := w.runtime.TotalQty
	tp := w.runtime.TakeProfitPrice
	sl := w.runtime.StopLossPrice
	w.mu.Unlock()

	err := w.orders.SetFuturesProtection(ctx, w.exchange, w.symbol, direction, qty, tp, slActive, sl, settings.ProtectionOrdersOnExchange)
	if err != nil {
		w.log.Sugar().Warnf("worker: %s protection refresh failed: %v", w.symbol, err)
		return
	}
	if settings.StopLossMode == models.StopLossModeAfterLastSafety && slActive {
		w.log.Sugar().Warnf("worker: %s emergency stop-loss active at %.6f", w.symbol, sl)
	}
}

func (w *Worker) cancelProtectionOrders(ctx context.Context, settings models.StrategySettings) {
	if !w.isFuturesMode(settings) {
		return
	}
	w.orders.CancelFuturesProtection(ctx, w.exchange, w.symbol)
}

func (w *Worker) processDCA(ctx context.Context) {
	w.mu.RLock()
	settings := w.currentSettingsLocked()
	positionOpen := w.runtime.PositionOpen
	safetyInProgress := w.safetyOrderInProgress
	orderInProgress := w.orderInProgress
	safetyUsed := w.runtime.SafetyOrdersUsed
	averagePrice := w.runtime.AveragePrice
	direction := w.runtime.Direction
	lastOrderUSDT := w.runtime.LastOrderUSDT
	w.mu.RUnlock()

	if !positionOpen || safetyInProgress || orderInProgress {
		return
	}
	if safetyUsed >= settings.SafetyOrdersCount {
		return
	}

	price, ok := w.feed.Price(w.symbol)
	if !ok || averagePrice <= 0 {
		return
	}

	step := settings.SafetyStepPct / 100
	shouldPlace := price <= averagePrice*(1-step)
	if direction == models.DirectionShort {
		shouldPlace = price >= averagePrice*(1+step)
	}
	if !shouldPlace {
		return
	}

	w.mu.Lock()
	w.safetyOrderInProgress = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.safetyOrderInProgress = false
		w.mu.Unlock()
	}()

	safetyUSDT := lastOrderUSDT * settings.VolumeMultiplier
	w.openOrderWithUSDT(ctx, settings, safetyUSDT, "safety_order")

	w.mu.RLock()
	stillOpen := w.runtime.PositionOpen
	w.mu.RUnlock()
	if !stillOpen {
		return
	}

	w.mu.Lock()
	w.runtime.SafetyOrdersUsed++
	w.runtime.BreakEvenPrice = w.runtime.AveragePrice
	safetyUsed = w.runtime.SafetyOrdersUsed
	newAverage := w.runtime.AveragePrice
	newTP := w.runtime.TakeProfitPrice
	w.mu.Unlock()
	w.log.Sugar().Infof("worker: %s safety order #%d placed, new average=%.6f new TP=%.6f", w.symbol, safetyUsed, newAverage, newTP)

	isFutures := w.isFuturesMode(settings)
	if isFutures && settings.ProtectionOrdersOnExchange && settings.StopLossMode == models.StopLossModeAfterLastSafety && safetyUsed >= settings.SafetyOrdersCount {
		w.mu.Lock()
		w.recalculateSLLocked(settings)
		sl := w.runtime.StopLossPrice
		w.mu.Unlock()
		w.log.Sugar().Warnf("worker: %s emergency stop-loss active at %.6f", w.symbol, sl)
	}
	if isFutures && settings.ProtectionOrdersOnExchange {
		w.refreshProtectionOrders(ctx, settings)
	}
	w.notifyRuntimeUpdate()
}

func (w *Worker) checkBreakEven(ctx context.Context) {
	w.mu.RLock()
	settings := w.currentSettingsLocked()
	positionOpen := w.runtime.PositionOpen
	w.mu.RUnlock()

	if !w.isFuturesMode(settings) || !positionOpen {
		return
	}

	price, ok := w.feed.Price(w.symbol)
	if !ok {
		return
	}

	w.mu.RLock()
	armed := w.runtime.BreakEvenArmed
	averagePrice := w.runtime.AveragePrice
	direction := w.runtime.Direction
	breakEvenPrice := w.runtime.BreakEvenPrice
	w.mu.RUnlock()

	if !armed {
		var profitPct float64
		if direction == models.DirectionLong {
			profitPct = (price - averagePrice) / averagePrice * 100
		} else {
			profitPct = (averagePrice - price) / averagePrice * 100
		}
		if profitPct >= settings.BreakEvenAfterPercent {
			w.mu.Lock()
			w.runtime.BreakEvenArmed = true
			w.runtime.BreakEvenPrice = w.runtime.AveragePrice
			w.mu.Unlock()
			w.log.Sugar().Infof("worker: %s break-even armed at %.2f%%", w.symbol, settings.BreakEvenAfterPercent)
			return
		}
		return
	}

	triggered := (direction == models.DirectionLong && price <= breakEvenPrice) ||
		(direction == models.DirectionShort && price >= breakEvenPrice)
	if triggered {
		w.log.Sugar().Infof("worker: %s break-even triggered, closing position", w.symbol)
		w.closePosition(ctx, settings, "BREAK_EVEN")
	}
}

func (w *Worker) checkTakeProfit(ctx context.Context) {
	w.mu.RLock()
	settings := w.currentSettingsLocked()
	positionOpen := w.runtime.PositionOpen
	tp := w.runtime.TakeProfitPrice
	direction := w.runtime.Direction
	w.mu.RUnlock()

	if !positionOpen || tp == 0 {
		return
	}
	price, ok := w.feed.Price(w.symbol)
	if !ok {
		return
	}

	if (direction == models.DirectionLong && price >= tp) || (direction == models.DirectionShort && price <= tp) {
		w.closePosition(ctx, settings, "TP")
	}
}

func (w *Worker) periodicPositionSync(ctx context.Context) {
	if time.Since(w.lastPositionSync) < positionSyncPeriod {
		return
	}
	w.lastPositionSync = time.Now()

	w.mu.RLock()
	settings := w.currentSettingsLocked()
	positionOpen := w.runtime.PositionOpen
	totalQty := w.runtime.TotalQty
	w.mu.RUnlock()

	market := exchange.MarketSpot
	if w.isFuturesMode(settings) {
		market = exchange.MarketFutures
	}

	pos, err := w.exchange.GetPosition(ctx, market, w.symbol)
	if err != nil {
		w.log.Sugar().Warnf("worker: %s position sync failed: %v", w.symbol, err)
		return
	}
	realQty := absF(pos.PositionAmt)

	if positionOpen && realQty == 0 {
		w.log.Sugar().Infof("worker: %s local position exists but exchange has none, resetting state", w.symbol)
		w.mu.Lock()
		w.runtime.ResetToFlat()
		w.transitionToLocked(models.StateIdle)
		w.mu.Unlock()
		w.notifyRuntimeUpdate()
		return
	}

	if positionOpen && w.isFuturesMode(settings) && absF(realQty-totalQty) > 1e-6 {
		w.mu.Lock()
		w.runtime.TotalQty = realQty
		w.runtime.AveragePrice = pos.EntryPrice
		w.runtime.TotalCost = w.runtime.AveragePrice * w.runtime.TotalQty
		w.recalculateTPLocked(settings)
		w.mu.Unlock()
		w.log.Sugar().Infof("worker: %s position resynced", w.symbol)
		w.notifyRuntimeUpdate()
	}
}

// CancelActiveOrder cancels this pair's resting entry/safety order, if any.
func (w *Worker) CancelActiveOrder(ctx context.Context) {
	w.orders.CancelOpenOrder(ctx, w.exchange, w.symbol)
}

// CancelAllOrders cancels every resting order for this pair on its market.
func (w *Worker) CancelAllOrders(ctx context.Context) {
	w.mu.RLock()
	settings := w.currentSettingsLocked()
	w.mu.RUnlock()
	market := exchange.MarketSpot
	if w.isFuturesMode(settings) {
		market = exchange.MarketFutures
	}
	w.orders.CancelAllOrdersForPair(ctx, w.exchange, w.symbol, market)
}

// RefreshProtection recomputes and re-submits this pair's exchange-side
// take-profit/stop-loss orders against its current average price, for use
// by the operator surface's manual "refresh protection" action.
func (w *Worker) RefreshProtection(ctx context.Context) {
	w.mu.RLock()
	settings := w.currentSettingsLocked()
	w.mu.RUnlock()
	if settings.ProtectionOrdersOnExchange {
		w.refreshProtectionOrders(ctx, settings)
	}
}

// ClosePositionNow force-closes the pair immediately, outside the normal
// TP/break-even flow. Used by the operator surface and the risk manager.
func (w *Worker) ClosePositionNow(ctx context.Context) {
	w.mu.Lock()
	settings := w.currentSettingsLocked()
	w.transitionToLocked(models.StateClosing)
	w.mu.Unlock()
	market := exchange.MarketSpot
	if w.isFuturesMode(settings) {
		market = exchange.MarketFutures
	}

	closed, err := w.orders.ClosePositionNow(ctx, w.exchange, w.symbol, market)
	if err != nil {
		w.log.Sugar().Warnf("worker: %s manual close failed: %v", w.symbol, err)
		w.revertFailedClose()
		return
	}
	if !closed {
		w.log.Sugar().Infof("worker: %s no open position", w.symbol)
		w.revertFailedClose()
		return
	}

	if w.callbacks.OnTradeClosed != nil {
		w.mu.RLock()
		direction := w.runtime.Direction
		w.mu.RUnlock()
		w.callbacks.OnTradeClosed(w.symbol, 0, string(market), direction)
	}

	price, _ := w.feed.Price(w.symbol)
	w.mu.Lock()
	w.runtime.LastCloseTimestamp = time.Now().Unix()
	w.runtime.LastClosePrice = price
	w.runtime.ResetToFlat()
	w.transitionToLocked(models.StateIdle)
	w.mu.Unlock()
	w.notifyRuntimeUpdate()
}

func (w *Worker) closePosition(ctx context.Context, settings models.StrategySettings, reason string) {
	w.mu.Lock()
	w.transitionToLocked(models.StateClosing)
	w.mu.Unlock()

	var exitPrice, qty float64

	switch {
	case settings.RunMode == models.RunModePaper:
		price, ok := w.feed.Price(w.symbol)
		if !ok {
			w.revertFailedClose()
			return
		}
		w.mu.RLock()
		qty = w.runtime.TotalQty
		w.mu.RUnlock()
		exitPrice = price
		w.log.Sugar().Infof("worker: %s paper position closed reason=%s", w.symbol, reason)

	case w.isFuturesMode(settings):
		w.cancelProtectionOrders(ctx, settings)
		result, err := w.orders.ClosePositionFutures(ctx, w.exchange, w.symbol)
		if err != nil || result == nil {
			if err != nil {
				w.log.Sugar().Warnf("worker: %s futures close failed: %v", w.symbol, err)
			}
			w.revertFailedClose()
			return
		}
		exitPrice, qty = result.ExitPrice, result.Quantity

	default:
		w.mu.RLock()
		qtyToClose := w.runtime.TotalQty
		w.mu.RUnlock()
		result, err := w.orders.ClosePositionSpot(ctx, w.exchange, w.symbol, qtyToClose)
		if err != nil || result == nil {
			if err != nil {
				w.log.Sugar().Warnf("worker: %s spot close failed: %v", w.symbol, err)
			}
			w.revertFailedClose()
			return
		}
		exitPrice, qty = result.ExitPrice, result.Quantity
	}

	w.mu.RLock()
	direction := w.runtime.Direction
	averagePrice := w.runtime.AveragePrice
	totalCost := w.runtime.TotalCost
	w.mu.RUnlock()

	exitCommission := (settings.CommissionPct / 100) * qty * exitPrice
	var gross float64
	if direction == models.DirectionLong {
		gross = exitPrice * qty
	} else {
		gross = (2*averagePrice - exitPrice) * qty
	}
	pnl := (gross - exitCommission) - totalCost
	w.log.Sugar().Infof("worker: %s position closed (%s), pnl=%.6f", w.symbol, reason, pnl)
	recordTradeClosed(w.symbol, reason, pnl)

	market := exchange.MarketSpot
	if w.isFuturesMode(settings) {
		market = exchange.MarketFutures
	}
	if w.callbacks.OnTradeClosed != nil {
		w.callbacks.OnTradeClosed(w.symbol, pnl, string(market), direction)
	}

	w.mu.Lock()
	w.runtime.LastCloseTimestamp = time.Now().Unix()
	w.runtime.LastClosePrice = exitPrice
	w.runtime.ResetToFlat()
	w.transitionToLocked(models.StateIdle)
	if w.pendingSettings != nil {
		w.settings = *w.pendingSettings
		w.pendingSettings = nil
		w.log.Sugar().Infof("worker: %s strategy settings updated after close", w.symbol)
	}
	w.mu.Unlock()
}

// revertFailedClose falls back to OPEN when a close attempt fails, since
// the position is still live on the exchange.
func (w *Worker) revertFailedClose() {
	w.mu.Lock()
	w.transitionToLocked(models.StateOpen)
	w.mu.Unlock()
}

// revertFailedEntry falls back to IDLE when an entry attempt fails before
// any position exists. A failed safety order on an already-open position
// leaves the state at OPEN.
func (w *Worker) revertFailedEntry() {
	w.mu.Lock()
	if w.runtime.State == models.StateEntering {
		w.transitionToLocked(models.StateIdle)
	}
	w.mu.Unlock()
}

// currentSettingsLocked must be called with mu held (read or write).
func (w *Worker) currentSettingsLocked() models.StrategySettings {
	return w.settings
}

// transitionToLocked moves runtime.State to `to` if the edge is legal. Must
// be called with mu held. An illegal edge is logged and left unchanged
// rather than silently forced, since that would mask a sequencing bug.
func (w *Worker) transitionToLocked(to string) {
	if w.runtime.State == to {
		return
	}
	if !models.CanTransition(w.runtime.State, to) {
		w.log.Sugar().Warnf("worker: %s illegal state transition %s -> %s", w.symbol, w.runtime.State, to)
		return
	}
	w.runtime.State = to
	recordState(w.symbol, to)
}

func normalizeDirection(side string) string {
	if side == models.PositionSideShort {
		return models.DirectionShort
	}
	return models.DirectionLong
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
