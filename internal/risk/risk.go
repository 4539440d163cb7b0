// Package risk implements the global consecutive-loss circuit breaker.
package risk

import (
	"sync"
	"time"

	"dcaengine/internal/models"
)

// maxConsecutiveLosses is the loss streak that trips the breaker.
const maxConsecutiveLosses = 3

// Manager tracks the consecutive-loss streak across all pairs and signals
// an emergency stop once the streak reaches maxConsecutiveLosses.
//
// This is a deliberately small surface: the margin-buffer and liquidation
// monitoring a multi-exchange arbitrage bot needs do not apply here, since a
// single-exchange DCA worker's own position reconciliation already catches
// a vanished position.
type Manager struct {
	mu                sync.Mutex
	consecutiveLosses int

	notificationChan chan<- *models.Notification
	onTrip           func()
}

// New builds a risk Manager. onTrip is invoked from the calling goroutine of
// RegisterTradeResult each time a result leaves the loss streak at or above
// maxConsecutiveLosses, until a win or Reset clears it; the caller stops all
// pairs from it.
func New(notificationChan chan<- *models.Notification, onTrip func()) *Manager {
	return &Manager{
		notificationChan: notificationChan,
		onTrip:           onTrip,
	}
}

// RegisterTradeResult records a closed trade's PnL and reports whether the
// loss streak is now at or above maxConsecutiveLosses.
func (m *Manager) RegisterTradeResult(symbol string, pnl float64) bool {
	m.mu.Lock()
	if pnl < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
	tripped := m.consecutiveLosses >= maxConsecutiveLosses
	streak := m.consecutiveLosses
	m.mu.Unlock()

	if !tripped {
		return false
	}

	m.notify(symbol, streak)
	if m.onTrip != nil {
		m.onTrip()
	}
	return true
}

// ConsecutiveLosses returns the current streak length.
func (m *Manager) ConsecutiveLosses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveLosses
}

// Reset clears the streak, e.g. after an operator acknowledges the stop.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveLosses = 0
}

func (m *Manager) notify(symbol string, streak int) {
	if m.notificationChan == nil {
		return
	}
	notif := &models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeRiskStop,
		Severity:  models.SeverityError,
		Pair:      symbol,
		Message:   "risk manager: consecutive loss limit reached, stopping all pairs",
		Meta: map[string]interface{}{
			"consecutive_losses": streak,
		},
	}
	select {
	case m.notificationChan <- notif:
	default:
	}
}
