// Package exchange provides the uniform trading-venue contract consumed by
// the order manager and pair worker, plus a Binance-like REST/WS adapter.
package exchange

import (
	"context"
	"errors"
	"time"
)

// Market identifies which account/product a request targets.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// Order side.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order type.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order status, mirroring the Binance-like vocabulary spec.md names.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// Margin types for futures.
const (
	MarginTypeCrossed  = "CROSSED"
	MarginTypeIsolated = "ISOLATED"
)

// ErrNotImplemented is returned by adapters that exist only as stubs.
var ErrNotImplemented = errors.New("exchange: not implemented")

// ExchangeError wraps a non-2xx REST response with enough context to decide
// whether a caller should retry.
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
}

func (e *ExchangeError) Error() string {
	return "exchange " + e.Exchange + ": " + e.Code + ": " + e.Message
}

// OrderResult is the immediate response to PlaceOrder.
type OrderResult struct {
	OrderID string
}

// OrderStatusResult is the outcome of polling an order.
type OrderStatusResult struct {
	Status              string
	ExecutedQty         float64
	CummulativeQuoteQty float64
	AvgPrice            float64
}

// PositionInfo reports a futures position; spot callers get a zero position.
type PositionInfo struct {
	PositionAmt float64 // signed: positive long, negative short
	EntryPrice  float64
}

// Exchange is the uniform capability surface spec.md §4.2 describes.
// Only the Binance-like adapter is fully implemented; other venues are
// stubs returning ErrNotImplemented, per spec.md's explicit scope note.
type Exchange interface {
	Name() string

	CheckConnection(ctx context.Context) (bool, error)
	GetBalance(ctx context.Context, asset string) (float64, error)

	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	PlaceOrder(ctx context.Context, market Market, symbol, side, orderType string, qty, price float64, reduceOnly bool) (*OrderResult, error)
	CancelOrder(ctx context.Context, market Market, symbol, orderID string) error
	CancelOpenOrders(ctx context.Context, market Market, symbol string) error
	GetOrderStatus(ctx context.Context, market Market, symbol, orderID string) (*OrderStatusResult, error)

	GetPosition(ctx context.Context, market Market, symbol string) (*PositionInfo, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error

	PlaceTakeProfit(ctx context.Context, symbol, side string, qty, triggerPrice float64) (*OrderResult, error)
	PlaceStopLoss(ctx context.Context, symbol, side string, qty, triggerPrice float64) (*OrderResult, error)

	FetchKlines(ctx context.Context, symbol, interval string, startTime time.Time, limit int) ([]Kline, error)
}

// Kline is one historical OHLCV bar as returned by the klines REST endpoint.
type Kline struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
