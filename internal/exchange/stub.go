package exchange

import (
	"context"
	"time"
)

// StubExchange satisfies Exchange for venues spec.md names but does not
// require full wiring. Every call fails with ErrNotImplemented so a pair
// can never be started against one by accident.
type StubExchange struct {
	name string
}

// NewStubExchange returns a stub adapter identified by name (e.g. "bybit",
// "okx").
func NewStubExchange(name string) *StubExchange {
	return &StubExchange{name: name}
}

func (s *StubExchange) Name() string { return s.name }

func (s *StubExchange) CheckConnection(ctx context.Context) (bool, error) {
	return false, ErrNotImplemented
}

func (s *StubExchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	return 0, ErrNotImplemented
}

func (s *StubExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, ErrNotImplemented
}

func (s *StubExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, ErrNotImplemented
}

func (s *StubExchange) PlaceOrder(ctx context.Context, market Market, symbol, side, orderType string, qty, price float64, reduceOnly bool) (*OrderResult, error) {
	return nil, ErrNotImplemented
}

func (s *StubExchange) CancelOrder(ctx context.Context, market Market, symbol, orderID string) error {
	return ErrNotImplemented
}

func (s *StubExchange) CancelOpenOrders(ctx context.Context, market Market, symbol string) error {
	return ErrNotImplemented
}

func (s *StubExchange) GetOrderStatus(ctx context.Context, market Market, symbol, orderID string) (*OrderStatusResult, error) {
	return nil, ErrNotImplemented
}

func (s *StubExchange) GetPosition(ctx context.Context, market Market, symbol string) (*PositionInfo, error) {
	return nil, ErrNotImplemented
}

func (s *StubExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return ErrNotImplemented
}

func (s *StubExchange) SetMarginType(ctx context.Context, symbol, marginType string) error {
	return ErrNotImplemented
}

func (s *StubExchange) PlaceTakeProfit(ctx context.Context, symbol, side string, qty, triggerPrice float64) (*OrderResult, error) {
	return nil, ErrNotImplemented
}

func (s *StubExchange) PlaceStopLoss(ctx context.Context, symbol, side string, qty, triggerPrice float64) (*OrderResult, error) {
	return nil, ErrNotImplemented
}

func (s *StubExchange) FetchKlines(ctx context.Context, symbol, interval string, startTime time.Time, limit int) ([]Kline, error) {
	return nil, ErrNotImplemented
}

var _ Exchange = (*StubExchange)(nil)
