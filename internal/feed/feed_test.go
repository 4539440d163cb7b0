package feed

import (
	"testing"
)

func TestFeed_SubscribeUnsubscribe(t *testing.T) {
	f := New()
	f.Subscribe("BTCUSDT", "1m")

	f.mu.RLock()
	_, tracked := f.timeframe["BTCUSDT"]
	f.mu.RUnlock()
	if !tracked {
		t.Fatal("expected BTCUSDT to be tracked after Subscribe")
	}

	f.Unsubscribe("BTCUSDT")
	f.mu.RLock()
	_, tracked = f.timeframe["BTCUSDT"]
	_, hasPrice := f.prices["BTCUSDT"]
	f.mu.RUnlock()
	if tracked || hasPrice {
		t.Fatal("expected BTCUSDT state cleared after Unsubscribe")
	}
}

func TestFeed_HandleMessage_MiniTicker(t *testing.T) {
	f := New()
	f.handleMessage([]byte(`{"e":"miniTicker","s":"BTCUSDT","c":"65000.12"}`))

	price, ok := f.Price("BTCUSDT")
	if !ok {
		t.Fatal("expected price to be cached")
	}
	if price != 65000.12 {
		t.Errorf("price = %v, want 65000.12", price)
	}
}

func TestFeed_HandleMessage_KlineIgnoredUntilClosed(t *testing.T) {
	f := New()
	f.handleMessage([]byte(`{"e":"kline","s":"BTCUSDT","k":{"o":"1","h":"2","l":"0.5","c":"1.5","v":"10","t":1000,"x":false}}`))
	if got := f.Candles("BTCUSDT"); len(got) != 0 {
		t.Fatalf("expected no candle appended for unclosed bar, got %d", len(got))
	}

	f.handleMessage([]byte(`{"e":"kline","s":"BTCUSDT","k":{"o":"1","h":"2","l":"0.5","c":"1.5","v":"10","t":1000,"x":true}}`))
	candles := f.Candles("BTCUSDT")
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if candles[0].Close != 1.5 {
		t.Errorf("close = %v, want 1.5", candles[0].Close)
	}
	if f.Version("BTCUSDT") != 1 {
		t.Errorf("version = %d, want 1", f.Version("BTCUSDT"))
	}
}

func TestFeed_CandleRingBufferBounded(t *testing.T) {
	f := New()
	for i := 0; i < 250; i++ {
		f.handleMessage([]byte(`{"e":"kline","s":"ETHUSDT","k":{"o":"1","h":"2","l":"0.5","c":"1.5","v":"10","t":1,"x":true}}`))
	}
	candles := f.Candles("ETHUSDT")
	if len(candles) != 200 {
		t.Fatalf("expected ring buffer capped at 200, got %d", len(candles))
	}
}

func TestFeed_Close_IsIdempotent(t *testing.T) {
	f := New()
	f.Close()
	f.Close()
}
