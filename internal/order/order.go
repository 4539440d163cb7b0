// Package order drives a pair's spot/futures order lifecycle: sizing,
// opening, closing, protection orders and fill polling.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dcaengine/internal/exchange"
	"dcaengine/internal/models"
	"dcaengine/pkg/utils"
)

var log = utils.L().WithComponent("order")

// ErrNoPrice is returned when sizing or opening a position needs a current
// price and none is cached yet.
var ErrNoPrice = errors.New("order: no current price available")

// ErrMaxExposure is returned when a new entry would push total exposure
// past the configured ceiling.
var ErrMaxExposure = errors.New("order: max exposure reached")

// PriceSource is the subset of the feed the order manager needs.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

type pendingOrder struct {
	market  exchange.Market
	symbol  string
	orderID string
}

// Manager places and tracks orders for every active pair. One Manager is
// shared across all pair workers.
type Manager struct {
	prices PriceSource

	mu     chan struct{} // binary semaphore guarding pending
	pending map[string]pendingOrder
}

// NewManager builds an order manager backed by prices for current-price
// lookups.
func NewManager(prices PriceSource) *Manager {
	m := &Manager{
		prices:  prices,
		mu:      make(chan struct{}, 1),
		pending: make(map[string]pendingOrder),
	}
	m.mu <- struct{}{}
	return m
}

func (m *Manager) lock()   { <-m.mu }
func (m *Manager) unlock() { m.mu <- struct{}{} }

// EntryResult is the outcome of a successfully opened position.
type EntryResult struct {
	OrderID    string
	Quantity   float64
	EntryPrice float64
}

// ExitResult is the outcome of a successfully closed position.
type ExitResult struct {
	ExitPrice float64
	Quantity  float64
}

// ConfigureFutures sets margin type then leverage, matching Binance's
// required call order.
func (m *Manager) ConfigureFutures(ctx context.Context, ex exchange.Exchange, symbol string, leverage int, marginMode string) error {
	apiMarginType := exchange.MarginTypeIsolated
	if marginMode == models.MarginModeCross {
		apiMarginType = exchange.MarginTypeCrossed
	}
	if err := ex.SetMarginType(ctx, symbol, apiMarginType); err != nil {
		return fmt.Errorf("set margin type: %w", err)
	}
	if err := ex.SetLeverage(ctx, symbol, leverage); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}

// CalculateEntrySizeUSDT sizes the next order in quote currency, honoring
// Fixed vs Risk-based sizing and the pair's max-exposure ceiling.
func (m *Manager) CalculateEntrySizeUSDT(ctx context.Context, ex exchange.Exchange, symbol string, settings models.StrategySettings, isFutures bool, leverage int, currentExposureUSDT float64) (float64, error) {
	currentPrice, ok := m.prices.Price(symbol)
	if !ok || currentPrice <= 0 {
		if isFutures {
			if p, err := ex.GetMarkPrice(ctx, symbol); err == nil && p > 0 {
				currentPrice = p
				ok = true
			}
		}
	}
	if !ok || currentPrice <= 0 {
		return 0, ErrNoPrice
	}

	balance, err := ex.GetBalance(ctx, "USDT")
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if balance <= 0 {
		return 0, fmt.Errorf("order: balance unavailable for %s", symbol)
	}

	maxExposureUSDT := balance * (settings.MaxTotalExposurePct / 100.0)

	var notionalUSDT float64
	if settings.PositionSizeMode == models.PositionSizeModeRisk {
		riskAmount := balance * (settings.RiskPerTradePct / 100.0)
		stopDistance := currentPrice * (settings.SafetyStepPct / 100.0)
		if minDistance := currentPrice * 0.001; stopDistance < minDistance {
			stopDistance = minDistance
		}
		positionQty := riskAmount / stopDistance
		baseNotional := positionQty * currentPrice
		if isFutures {
			lev := leverage
			if lev < 1 {
				lev = 1
			}
			notionalUSDT = baseNotional * float64(lev)
		} else {
			notionalUSDT = baseNotional
		}
	} else {
		notionalUSDT = settings.BaseOrderSizeUSDT
	}

	if currentExposureUSDT+notionalUSDT > maxExposureUSDT {
		return 0, ErrMaxExposure
	}
	return notionalUSDT, nil
}

// OpenPositionSpot places a spot buy/sell for amountUSDT notional and waits
// for a fill when a limit order is used.
func (m *Manager) OpenPositionSpot(ctx context.Context, ex exchange.Exchange, symbol, side string, amountUSDT float64, useMarket bool, timeoutSec int) (*EntryResult, error) {
	currentPrice, ok := m.prices.Price(symbol)
	if !ok || currentPrice <= 0 {
		return nil, ErrNoPrice
	}

	quantity := roundTo(amountUSDT/currentPrice, 6)
	if quantity <= 0 {
		return nil, fmt.Errorf("order: computed zero quantity for %s", symbol)
	}

	orderType := exchange.OrderTypeMarket
	price := 0.0
	if !useMarket {
		orderType = exchange.OrderTypeLimit
		price = currentPrice
	}

	result, err := ex.PlaceOrder(ctx, exchange.MarketSpot, symbol, side, orderType, quantity, price, false)
	if err != nil {
		return nil, fmt.Errorf("place spot order: %w", err)
	}

	m.lock()
	m.pending[symbol] = pendingOrder{market: exchange.MarketSpot, symbol: symbol, orderID: result.OrderID}
	m.unlock()

	if !useMarket {
		status, err := m.monitorOrder(ctx, ex, exchange.MarketSpot, symbol, result.OrderID, timeoutSec)
		if err != nil || status != exchange.OrderStatusFilled {
			log.Sugar().Infof("order: spot watchdog triggered for %s", symbol)
			m.CancelOpenOrder(ctx, ex, symbol)
			return nil, fmt.Errorf("order: spot order not filled within %ds", timeoutSec)
		}
	}

	statusData, err := ex.GetOrderStatus(ctx, exchange.MarketSpot, symbol, result.OrderID)
	m.lock()
	delete(m.pending, symbol)
	m.unlock()
	if err != nil {
		return nil, fmt.Errorf("get order status: %w", err)
	}

	executedQty := statusData.ExecutedQty
	if executedQty <= 0 {
		executedQty = quantity
	}
	entryPrice := currentPrice
	if statusData.CummulativeQuoteQty > 0 && executedQty > 0 {
		entryPrice = statusData.CummulativeQuoteQty / executedQty
	}

	return &EntryResult{OrderID: result.OrderID, Quantity: executedQty, EntryPrice: entryPrice}, nil
}

// ClosePositionSpot sells the given quantity at market.
func (m *Manager) ClosePositionSpot(ctx context.Context, ex exchange.Exchange, symbol string, quantity float64) (*ExitResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("order: non-positive quantity")
	}
	result, err := ex.PlaceOrder(ctx, exchange.MarketSpot, symbol, exchange.SideSell, exchange.OrderTypeMarket, quantity, 0, false)
	if err != nil {
		return nil, fmt.Errorf("close spot position: %w", err)
	}

	statusData, err := ex.GetOrderStatus(ctx, exchange.MarketSpot, symbol, result.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order status: %w", err)
	}
	executedQty := statusData.ExecutedQty
	if executedQty <= 0 {
		executedQty = quantity
	}
	exitPrice, _ := m.prices.Price(symbol)
	if statusData.CummulativeQuoteQty > 0 && executedQty > 0 {
		exitPrice = statusData.CummulativeQuoteQty / executedQty
	}
	log.Sugar().Infof("order: spot position closed for %s at %v", symbol, exitPrice)
	return &ExitResult{ExitPrice: exitPrice, Quantity: executedQty}, nil
}

// OpenPositionFutures opens (or adds to) a futures position in the given
// direction.
func (m *Manager) OpenPositionFutures(ctx context.Context, ex exchange.Exchange, symbol, direction string, usdtAmount float64, useMarket bool, timeoutSec int) (*EntryResult, error) {
	currentPrice, ok := m.prices.Price(symbol)
	if !ok || currentPrice <= 0 {
		if p, err := ex.GetMarkPrice(ctx, symbol); err == nil && p > 0 {
			currentPrice, ok = p, true
		}
	}
	if !ok || currentPrice <= 0 {
		return nil, ErrNoPrice
	}

	qty := roundTo(usdtAmount/currentPrice, 4)
	if qty <= 0 {
		return nil, fmt.Errorf("order: computed zero quantity for %s", symbol)
	}

	side := exchange.SideBuy
	if direction == models.DirectionShort {
		side = exchange.SideSell
	}
	orderType := exchange.OrderTypeMarket
	price := 0.0
	if !useMarket {
		orderType = exchange.OrderTypeLimit
		price = currentPrice
	}

	result, err := ex.PlaceOrder(ctx, exchange.MarketFutures, symbol, side, orderType, qty, price, false)
	if err != nil {
		return nil, fmt.Errorf("place futures order: %w", err)
	}

	m.lock()
	m.pending[symbol] = pendingOrder{market: exchange.MarketFutures, symbol: symbol, orderID: result.OrderID}
	m.unlock()

	if !useMarket {
		status, err := m.monitorOrder(ctx, ex, exchange.MarketFutures, symbol, result.OrderID, timeoutSec)
		if err != nil || status != exchange.OrderStatusFilled {
			log.Sugar().Infof("order: futures watchdog triggered for %s", symbol)
			m.CancelOpenOrder(ctx, ex, symbol)
			return nil, fmt.Errorf("order: futures order not filled within %ds", timeoutSec)
		}
	}

	orderData, err := ex.GetOrderStatus(ctx, exchange.MarketFutures, symbol, result.OrderID)
	m.lock()
	delete(m.pending, symbol)
	m.unlock()
	if err != nil {
		return nil, fmt.Errorf("get order status: %w", err)
	}

	executedQty := orderData.ExecutedQty
	if executedQty <= 0 {
		executedQty = qty
	}
	avgPrice := orderData.AvgPrice
	if avgPrice <= 0 {
		avgPrice = currentPrice
	}

	return &EntryResult{OrderID: result.OrderID, Quantity: executedQty, EntryPrice: avgPrice}, nil
}

// ClosePositionFutures reduces the current futures position to flat via a
// reduce-only market order.
func (m *Manager) ClosePositionFutures(ctx context.Context, ex exchange.Exchange, symbol string) (*ExitResult, error) {
	pos, err := ex.GetPosition(ctx, exchange.MarketFutures, symbol)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if pos.PositionAmt == 0 {
		return nil, nil
	}

	qty := abs(pos.PositionAmt)
	closeSide := exchange.SideSell
	if pos.PositionAmt < 0 {
		closeSide = exchange.SideBuy
	}

	result, err := ex.PlaceOrder(ctx, exchange.MarketFutures, symbol, closeSide, exchange.OrderTypeMarket, qty, 0, true)
	if err != nil {
		return nil, fmt.Errorf("close futures position: %w", err)
	}

	orderData, err := ex.GetOrderStatus(ctx, exchange.MarketFutures, symbol, result.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get order status: %w", err)
	}
	avgPrice := orderData.AvgPrice
	if avgPrice <= 0 {
		avgPrice, _ = m.prices.Price(symbol)
	}
	log.Sugar().Infof("order: futures position closed for %s at %v", symbol, avgPrice)
	return &ExitResult{ExitPrice: avgPrice, Quantity: qty}, nil
}

// SetFuturesProtection replaces any existing TP/SL with fresh reduce-only
// trigger orders.
func (m *Manager) SetFuturesProtection(ctx context.Context, ex exchange.Exchange, symbol, direction string, qty, tpPrice float64, slEnabled bool, slPrice float64, protectionEnabled bool) error {
	if !protectionEnabled || qty <= 0 {
		return nil
	}

	closeSide := exchange.SideSell
	if direction == models.DirectionShort {
		closeSide = exchange.SideBuy
	}

	if err := ex.CancelOpenOrders(ctx, exchange.MarketFutures, symbol); err != nil {
		return fmt.Errorf("cancel existing protection: %w", err)
	}
	if _, err := ex.PlaceTakeProfit(ctx, symbol, closeSide, qty, tpPrice); err != nil {
		return fmt.Errorf("place take profit: %w", err)
	}
	log.Sugar().Infof("order: take profit set at %.6f for %s", tpPrice, symbol)

	if slEnabled {
		if _, err := ex.PlaceStopLoss(ctx, symbol, closeSide, qty, slPrice); err != nil {
			return fmt.Errorf("place stop loss: %w", err)
		}
		log.Sugar().Infof("order: stop loss set at %.6f for %s", slPrice, symbol)
	}
	return nil
}

// CancelAllOrdersForPair cancels all resting orders on the given market for
// symbol.
func (m *Manager) CancelAllOrdersForPair(ctx context.Context, ex exchange.Exchange, symbol string, market exchange.Market) {
	if err := ex.CancelOpenOrders(ctx, market, symbol); err != nil {
		log.Sugar().Infof("order: failed to cancel all orders for %s: %v", symbol, err)
	}
}

// ClosePositionNow force-closes symbol immediately, canceling resting
// orders first.
func (m *Manager) ClosePositionNow(ctx context.Context, ex exchange.Exchange, symbol string, market exchange.Market) (bool, error) {
	m.CancelAllOrdersForPair(ctx, ex, symbol, market)

	if market == exchange.MarketFutures {
		result, err := m.ClosePositionFutures(ctx, ex, symbol)
		if err != nil {
			return false, err
		}
		return result != nil, nil
	}

	// Spot: close out whatever base-asset balance remains.
	baseAsset := stripQuote(symbol, "USDT")
	balance, err := ex.GetBalance(ctx, baseAsset)
	if err != nil {
		return false, fmt.Errorf("get balance: %w", err)
	}
	qty := roundTo(balance, 6)
	if qty <= 0 {
		return false, nil
	}
	if _, err := m.ClosePositionSpot(ctx, ex, symbol, qty); err != nil {
		return false, err
	}
	return true, nil
}

// CancelFuturesProtection clears any resting TP/SL orders for symbol.
func (m *Manager) CancelFuturesProtection(ctx context.Context, ex exchange.Exchange, symbol string) {
	if err := ex.CancelOpenOrders(ctx, exchange.MarketFutures, symbol); err != nil {
		log.Sugar().Infof("order: protection cancel error for %s: %v", symbol, err)
	}
}

// CancelOpenOrder cancels symbol's tracked pending order, if any.
func (m *Manager) CancelOpenOrder(ctx context.Context, ex exchange.Exchange, symbol string) {
	m.lock()
	info, ok := m.pending[symbol]
	delete(m.pending, symbol)
	m.unlock()
	if !ok {
		return
	}
	if err := ex.CancelOrder(ctx, info.market, info.symbol, info.orderID); err != nil {
		log.Sugar().Infof("order: failed to cancel order %s (%s): %v", info.orderID, symbol, err)
		return
	}
	log.Sugar().Infof("order: cancelled %s (%s)", info.orderID, symbol)
}

// monitorOrder polls order status once per second until filled or timeout.
func (m *Manager) monitorOrder(ctx context.Context, ex exchange.Exchange, market exchange.Market, symbol, orderID string, timeoutSec int) (string, error) {
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		statusData, err := ex.GetOrderStatus(ctx, market, symbol, orderID)
		if err != nil {
			log.Sugar().Infof("order: monitor error for %s #%s: %v", symbol, orderID, err)
		} else if statusData.Status == exchange.OrderStatusFilled {
			return exchange.OrderStatusFilled, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "TIMEOUT", nil
}

func roundTo(v float64, decimals int) float64 {
	mul := 1.0
	for i := 0; i < decimals; i++ {
		mul *= 10
	}
	return float64(int64(v*mul+0.5)) / mul
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func stripQuote(symbol, quote string) string {
	if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)]
	}
	return symbol
}
