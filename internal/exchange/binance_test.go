package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc) (*Binance, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	b := NewBinance("key", "secret", 1000)
	b.spotBaseURL = srv.URL
	b.futuresBaseURL = srv.URL
	return b, srv
}

func TestBinance_CheckConnection(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ping" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, "{}")
	})
	defer srv.Close()

	ok, err := b.CheckConnection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
}

func TestBinance_GetBalance(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("signature") == "" {
			t.Errorf("expected signed request")
		}
		fmt.Fprint(w, `{"balances":[{"asset":"USDT","free":"123.45"},{"asset":"BTC","free":"1"}]}`)
	})
	defer srv.Close()

	balance, err := b.GetBalance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 123.45 {
		t.Errorf("balance = %v, want 123.45", balance)
	}
}

func TestBinance_PlaceOrder_Spot(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		fmt.Fprint(w, `{"orderId":42}`)
	})
	defer srv.Close()

	result, err := b.PlaceOrder(context.Background(), MarketSpot, "BTCUSDT", SideBuy, OrderTypeMarket, 0.01, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID != "42" {
		t.Errorf("orderID = %s, want 42", result.OrderID)
	}
}

func TestBinance_PlaceOrder_LimitRequiresPrice(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called when price is missing")
	})
	defer srv.Close()

	_, err := b.PlaceOrder(context.Background(), MarketSpot, "BTCUSDT", SideBuy, OrderTypeLimit, 0.01, 0, false)
	if err == nil {
		t.Fatal("expected error for missing price")
	}
}

func TestBinance_SetMarginType_NoNeedToChangeIsSuccess(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-4046,"msg":"No need to change margin type."}`)
	})
	defer srv.Close()

	if err := b.SetMarginType(context.Background(), "BTCUSDT", MarginTypeCrossed); err != nil {
		t.Fatalf("expected 'No need to change' to be treated as success, got %v", err)
	}
}

func TestBinance_GetOrderStatus_ErrorPropagates(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"internal error"}`)
	})
	defer srv.Close()

	_, err := b.GetOrderStatus(context.Background(), MarketSpot, "BTCUSDT", "1")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestBinance_GetPosition_SpotIsZero(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("spot market should not hit the network for positions")
	})
	defer srv.Close()

	pos, err := b.GetPosition(context.Background(), MarketSpot, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.PositionAmt != 0 {
		t.Errorf("expected zero position, got %v", pos.PositionAmt)
	}
}

func TestBinance_FetchKlines(t *testing.T) {
	b, srv := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1620000000000,"100.0","110.0","95.0","105.0","12.5",0,"0",0,"0","0","0"]]`)
	})
	defer srv.Close()

	klines, err := b.FetchKlines(context.Background(), "BTCUSDT", "1h", time.Unix(0, 0), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("expected 1 kline, got %d", len(klines))
	}
	if klines[0].Close != 105.0 {
		t.Errorf("close = %v, want 105.0", klines[0].Close)
	}
}

func TestStubExchange_ReturnsNotImplemented(t *testing.T) {
	s := NewStubExchange("bybit")
	if s.Name() != "bybit" {
		t.Errorf("name = %s, want bybit", s.Name())
	}
	if _, err := s.GetBalance(context.Background(), "USDT"); err != ErrNotImplemented {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
	if _, err := s.PlaceOrder(context.Background(), MarketSpot, "BTCUSDT", SideBuy, OrderTypeMarket, 1, 0, false); err != ErrNotImplemented {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
}

func TestFactory_New(t *testing.T) {
	ex := New("binance", Credentials{APIKey: "k", APISecret: "s"}, 8)
	if ex.Name() != "binance" {
		t.Errorf("expected binance adapter, got %s", ex.Name())
	}
	ex = New("okx", Credentials{}, 8)
	if ex.Name() != "okx" {
		t.Errorf("expected stub adapter named okx, got %s", ex.Name())
	}
}
