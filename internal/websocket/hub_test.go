package websocket

import (
	"sync"
	"testing"
	"time"

	"dcaengine/internal/models"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.com", false},
		{"http://localhost:8080", false},
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}
	for _, origin := range []string{"http://localhost:3000", "https://evil.com"} {
		if !checker.Check(origin) {
			t.Errorf("allowAll=true but Check(%q) = false", origin)
		}
	}
}

func TestHub_BroadcastPairUpdate(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	runtime := &models.PairRuntime{
		State:        models.StateOpen,
		PositionOpen: true,
		Direction:    models.DirectionLong,
		AveragePrice: 100,
		TotalQty:     1,
	}

	// Should not block or panic with zero subscribers.
	hub.BroadcastPairUpdate("BTCUSDT", runtime)
	hub.BroadcastPriceUpdate("BTCUSDT", 101.5)
	hub.BroadcastNotification(&models.Notification{Type: models.NotificationTypeEntry, Message: "entered"})
}

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.BroadcastPriceUpdate("BTCUSDT", float64(j))
			}
		}(i)
	}
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
}
