package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dcaengine/internal/api/handlers"
	"dcaengine/internal/api/middleware"
	"dcaengine/internal/manager"
	"dcaengine/internal/websocket"
)

// Dependencies holds everything SetupRoutes needs to wire the operator
// HTTP surface onto the running engine.
type Dependencies struct {
	Mgr *manager.Manager
	Hub *websocket.Hub
}

// SetupRoutes wires the operator surface's fixed operation list onto an
// /api/v1 subrouter: add/remove/start/stop pair, edit settings, close-now,
// refresh/cancel protection, cancel orders, emergency-stop-all, backtest,
// optimize, apply-optimizer-result, plus the price-update event stream at
// /ws/stream, /health and /metrics.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	if deps != nil && deps.Mgr != nil {
		pairHandler := handlers.NewPairHandler(deps.Mgr)
		exchangeHandler := handlers.NewExchangeHandler(deps.Mgr)
		statsHandler := handlers.NewStatsHandler(deps.Mgr)
		backtestHandler := handlers.NewBacktestHandler(deps.Mgr)

		api := router.PathPrefix("/api/v1").Subrouter()

		// Pair lifecycle and operator actions
		api.HandleFunc("/pairs", pairHandler.GetPairs).Methods("GET")
		api.HandleFunc("/pairs", pairHandler.AddPair).Methods("POST")
		api.HandleFunc("/pairs/{symbol}", pairHandler.RemovePair).Methods("DELETE")
		api.HandleFunc("/pairs/{symbol}/start", pairHandler.StartPair).Methods("POST")
		api.HandleFunc("/pairs/{symbol}/stop", pairHandler.StopPair).Methods("POST")
		api.HandleFunc("/pairs/{symbol}/settings", pairHandler.GetPairSettings).Methods("GET")
		api.HandleFunc("/pairs/{symbol}/settings", pairHandler.UpdatePairSettings).Methods("PATCH")
		api.HandleFunc("/pairs/{symbol}/close", pairHandler.ClosePairNow).Methods("POST")
		api.HandleFunc("/pairs/{symbol}/cancel", pairHandler.CancelPairOrders).Methods("POST")
		api.HandleFunc("/pairs/{symbol}/refresh-protection", pairHandler.RefreshProtection).Methods("POST")

		// Backtest / optimizer
		api.HandleFunc("/pairs/{symbol}/backtest", backtestHandler.RunBacktest).Methods("POST")
		api.HandleFunc("/pairs/{symbol}/optimize", backtestHandler.RunOptimization).Methods("POST")
		api.HandleFunc("/pairs/{symbol}/optimize/apply", backtestHandler.ApplyOptimizerResult).Methods("POST")

		// Exchange credentials
		api.HandleFunc("/exchanges/{name}/credentials", exchangeHandler.SetCredentials).Methods("POST")

		// Aggregate stats and global safety actions
		api.HandleFunc("/stats", statsHandler.GetStats).Methods("GET")
		api.HandleFunc("/stats/settings", statsHandler.UpdateDefaultSettings).Methods("POST")
		api.HandleFunc("/emergency-stop", statsHandler.EmergencyStop).Methods("POST")
		api.HandleFunc("/close-all", statsHandler.CloseAll).Methods("POST")
	}

	// Price-update event stream
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		}).Methods("GET")
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("heap").ServeHTTP(w, r) })
	debug.HandleFunc("/goroutine", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("goroutine").ServeHTTP(w, r) })
	debug.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("block").ServeHTTP(w, r) })
	debug.HandleFunc("/allocs", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("allocs").ServeHTTP(w, r) })

	router.HandleFunc("/debug/runtime", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{`))
		w.Write([]byte(`"goroutines":` + itoa(runtime.NumGoroutine()) + `,`))
		w.Write([]byte(`"heap_alloc_mb":` + ftoa(float64(m.HeapAlloc)/1024/1024) + `,`))
		w.Write([]byte(`"heap_sys_mb":` + ftoa(float64(m.HeapSys)/1024/1024) + `,`))
		w.Write([]byte(`"num_gc":` + itoa(int(m.NumGC)) + `,`))
		w.Write([]byte(`"gc_pause_total_ms":` + ftoa(float64(m.PauseTotalNs)/1e6)))
		w.Write([]byte(`}`))
	}).Methods("GET")

	return router
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

func ftoa(f float64) string {
	i := int(f * 100)
	whole := i / 100
	frac := i % 100
	if frac < 0 {
		frac = -frac
	}
	fracStr := itoa(frac)
	if len(fracStr) == 1 {
		fracStr = "0" + fracStr
	}
	return itoa(whole) + "." + fracStr
}
