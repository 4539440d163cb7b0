package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dcaengine/internal/models"
)

// Prometheus metrics for the per-pair state machine: signal counts, order
// outcomes, realized PNL and position state, mirroring the shape of the
// teacher's trading-core metrics but scoped to a single DCA worker.

var signalsEvaluated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcaengine",
		Subsystem: "worker",
		Name:      "signals_evaluated_total",
		Help:      "Number of LONG/SHORT entry signals produced by the strategy",
	},
	[]string{"symbol", "direction"},
)

var entriesBlocked = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcaengine",
		Subsystem: "worker",
		Name:      "entries_blocked_total",
		Help:      "Number of entry signals suppressed by cooldown or anti-reentry",
	},
	[]string{"symbol", "reason"},
)

var ordersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcaengine",
		Subsystem: "worker",
		Name:      "orders_placed_total",
		Help:      "Number of orders placed, by kind and result",
	},
	[]string{"symbol", "kind", "result"}, // kind: entry, safety_order; result: ok, failed
)

var safetyOrdersUsed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcaengine",
		Subsystem: "worker",
		Name:      "safety_orders_total",
		Help:      "Number of DCA safety orders placed",
	},
	[]string{"symbol"},
)

var tradesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcaengine",
		Subsystem: "worker",
		Name:      "trades_closed_total",
		Help:      "Number of positions closed, by reason",
	},
	[]string{"symbol", "reason"}, // reason: TP, BREAK_EVEN
)

var pnlRealized = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dcaengine",
		Subsystem: "worker",
		Name:      "pnl_realized_usdt_total",
		Help:      "Cumulative realized PNL in USDT, positive and negative trades tracked separately",
	},
	[]string{"symbol", "sign"}, // sign: gain, loss
)

var positionState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "dcaengine",
		Subsystem: "worker",
		Name:      "position_state",
		Help:      "Current state machine state (1=active, 0=inactive) per symbol/state label",
	},
	[]string{"symbol", "state"},
)

func recordSignal(symbol, direction string) {
	signalsEvaluated.WithLabelValues(symbol, direction).Inc()
}

func recordEntryBlocked(symbol, reason string) {
	entriesBlocked.WithLabelValues(symbol, reason).Inc()
}

func recordOrderPlaced(symbol, kind, result string) {
	ordersPlaced.WithLabelValues(symbol, kind, result).Inc()
	if kind == "safety_order" && result == "ok" {
		safetyOrdersUsed.WithLabelValues(symbol).Inc()
	}
}

func recordTradeClosed(symbol, reason string, pnl float64) {
	tradesClosed.WithLabelValues(symbol, reason).Inc()
	if pnl >= 0 {
		pnlRealized.WithLabelValues(symbol, "gain").Add(pnl)
	} else {
		pnlRealized.WithLabelValues(symbol, "loss").Add(-pnl)
	}
}

func recordState(symbol, state string) {
	for _, s := range []string{
		models.StateIdle, models.StateEntering, models.StateOpen,
		models.StateClosing, models.StateError,
	} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		positionState.WithLabelValues(symbol, s).Set(v)
	}
}
