// Package feed owns the single shared Binance websocket connection and the
// price/candle caches every pair worker reads from.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dcaengine/internal/models"
	"dcaengine/pkg/utils"
)

var log = utils.L().WithComponent("feed")

const (
	binanceWSURL    = "wss://stream.binance.com:9443/ws"
	reconnectDelay  = 3 * time.Second
	pingInterval    = 20 * time.Second
	connectTimeout  = 10 * time.Second
)

// Feed maintains one websocket connection to Binance, fans miniTicker and
// kline updates into per-symbol caches, and resubscribes the full symbol set
// on every reconnect.
type Feed struct {
	mu       sync.RWMutex
	conn     *websocket.Conn
	timeframe map[string]string // symbol -> kline interval
	prices   map[string]float64
	candles  map[string][]models.Candle
	versions map[string]uint64

	sendMu sync.Mutex

	closeCh chan struct{}
	closed  bool
}

// New returns an unconnected Feed. Call Run in a goroutine to start it.
func New() *Feed {
	return &Feed{
		timeframe: make(map[string]string),
		prices:    make(map[string]float64),
		candles:   make(map[string][]models.Candle),
		versions:  make(map[string]uint64),
		closeCh:   make(chan struct{}),
	}
}

// Subscribe adds symbol to the tracked set at the given kline interval and
// pushes a full resync to the exchange. Safe to call before Run; the first
// successful connect will pick up the subscription.
func (f *Feed) Subscribe(symbol, interval string) {
	f.mu.Lock()
	f.timeframe[symbol] = interval
	f.mu.Unlock()
	f.resync()
}

// Unsubscribe drops symbol from the tracked set and its cached state, sends
// an UNSUBSCRIBE for its streams when connected, then resyncs the remaining
// subscriptions.
func (f *Feed) Unsubscribe(symbol string) {
	f.mu.Lock()
	interval, tracked := f.timeframe[symbol]
	conn := f.conn
	delete(f.timeframe, symbol)
	delete(f.prices, symbol)
	delete(f.candles, symbol)
	delete(f.versions, symbol)
	f.mu.Unlock()
	if tracked && conn != nil {
		payload := map[string]interface{}{
			"method": "UNSUBSCRIBE",
			"params": []string{
				fmt.Sprintf("%s@miniTicker", strings.ToLower(symbol)),
				fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval),
			},
			"id": 2,
		}
		f.sendMu.Lock()
		if err := conn.WriteJSON(payload); err != nil {
			log.Sugar().Infof("feed: unsubscribe failed: %v", err)
		}
		f.sendMu.Unlock()
	}
	f.resync()
}

// Price returns the last observed close for symbol and whether it has ever
// been seen.
func (f *Feed) Price(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	return p, ok
}

// Candles returns a copy of the closed-candle ring buffer for symbol.
func (f *Feed) Candles(symbol string) []models.Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	src := f.candles[symbol]
	out := make([]models.Candle, len(src))
	copy(out, src)
	return out
}

// Version returns a counter bumped each time a closed candle is appended for
// symbol. Callers use it to detect new bars without diffing slices.
func (f *Feed) Version(symbol string) uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.versions[symbol]
}

// Run connects and reconnects forever until ctx is canceled or Close is
// called.
func (f *Feed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.closeCh:
			return
		default:
		}

		if err := f.connectAndListen(ctx); err != nil {
			log.Sugar().Infof("feed: connection lost: %v, reconnecting in %s", err, reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-f.closeCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops Run and tears down the active connection, if any.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	conn := f.conn
	f.mu.Unlock()

	close(f.closeCh)
	if conn != nil {
		conn.Close()
	}
}

func (f *Feed) connectAndListen(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, binanceWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	log.Sugar().Infof("feed: connected to binance websocket")
	f.resync()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	msgCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.closeCh:
			return nil
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			f.sendMu.Lock()
			_ = conn.WriteMessage(websocket.PingMessage, nil)
			f.sendMu.Unlock()
		case data := <-msgCh:
			f.handleMessage(data)
		}
	}
}

// resync pushes the full current subscription set. Binance combined-stream
// SUBSCRIBE payloads are idempotent, so a full resend after a reconnect (or
// after any Subscribe/Unsubscribe call) is simpler and safer than diffing.
func (f *Feed) resync() {
	f.mu.RLock()
	conn := f.conn
	symbols := make([]string, 0, len(f.timeframe))
	for symbol := range f.timeframe {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	params := make([]string, 0, len(symbols)*2)
	for _, symbol := range symbols {
		interval := f.timeframe[symbol]
		params = append(params,
			fmt.Sprintf("%s@miniTicker", strings.ToLower(symbol)),
			fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval),
		)
	}
	f.mu.RUnlock()

	if conn == nil || len(params) == 0 {
		return
	}

	payload := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     1,
	}

	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		log.Sugar().Infof("feed: resync failed: %v", err)
	}
}

type miniTickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		Open   string `json:"o"`
		High   string `json:"h"`
		Low    string `json:"l"`
		Close  string `json:"c"`
		Volume string `json:"v"`
		Start  int64  `json:"t"`
		Closed bool   `json:"x"`
	} `json:"k"`
}

func (f *Feed) handleMessage(data []byte) {
	var probe struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return
	}
	switch probe.EventType {
	case "miniTicker":
		var evt miniTickerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		price, err := strconv.ParseFloat(evt.Close, 64)
		if err != nil || evt.Symbol == "" {
			return
		}
		f.mu.Lock()
		f.prices[evt.Symbol] = price
		f.mu.Unlock()
	case "kline":
		var evt klineEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		if evt.Symbol == "" || !evt.Kline.Closed {
			return
		}
		open, err1 := strconv.ParseFloat(evt.Kline.Open, 64)
		high, err2 := strconv.ParseFloat(evt.Kline.High, 64)
		low, err3 := strconv.ParseFloat(evt.Kline.Low, 64)
		closeP, err4 := strconv.ParseFloat(evt.Kline.Close, 64)
		volume, err5 := strconv.ParseFloat(evt.Kline.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return
		}
		candle := models.Candle{
			OpenTime: evt.Kline.Start,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   volume,
		}

		f.mu.Lock()
		bars := append(f.candles[evt.Symbol], candle)
		if len(bars) > models.MaxCandlesRetained {
			bars = bars[len(bars)-models.MaxCandlesRetained:]
		}
		f.candles[evt.Symbol] = bars
		f.versions[evt.Symbol]++
		f.mu.Unlock()
	}
}
