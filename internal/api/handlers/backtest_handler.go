package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"dcaengine/internal/backtest"
	"dcaengine/internal/manager"
	"dcaengine/internal/models"
)

// BacktestHandler exposes the operator surface's replay and grid-search
// optimization actions over a pair's retained candle history.
//
// Endpoints:
// - POST /api/v1/pairs/{symbol}/backtest        - run a single backtest
// - POST /api/v1/pairs/{symbol}/optimize        - run a grid-search
// - POST /api/v1/pairs/{symbol}/optimize/apply  - apply a grid-search result
type BacktestHandler struct {
	mgr *manager.Manager
}

func NewBacktestHandler(mgr *manager.Manager) *BacktestHandler {
	return &BacktestHandler{mgr: mgr}
}

// RunBacktestRequest is the body for POST /api/v1/pairs/{symbol}/backtest.
// Settings defaults to the pair's current strategy settings when omitted.
type RunBacktestRequest struct {
	Settings  *models.StrategySettings `json:"settings,omitempty"`
	StartUSDT float64                  `json:"start_usdt"`
}

func (h *BacktestHandler) RunBacktest(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req RunBacktestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
			return
		}
	}

	settings := h.mgr.GetPairStrategySettings(symbol)
	if req.Settings != nil {
		settings = *req.Settings
	}
	startUSDT := req.StartUSDT
	if startUSDT <= 0 {
		startUSDT = settings.BaseOrderSizeUSDT
	}

	report := h.mgr.RunBacktest(symbol, settings, startUSDT)
	respondWithJSON(w, http.StatusOK, report)
}

// RunOptimizationRequest is the body for POST /api/v1/pairs/{symbol}/optimize.
type RunOptimizationRequest struct {
	Settings    *models.StrategySettings  `json:"settings,omitempty"`
	StartUSDT   float64                   `json:"start_usdt"`
	MaxParallel int                       `json:"max_parallel"`
	TopN        int                       `json:"top_n"`
	Ranges      []backtest.ParameterRange `json:"ranges"`
}

func (h *BacktestHandler) RunOptimization(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req RunOptimizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return
	}
	if len(req.Ranges) == 0 {
		respondWithError(w, http.StatusBadRequest, "missing_ranges", "at least one parameter range is required", "")
		return
	}

	base := h.mgr.GetPairStrategySettings(symbol)
	if req.Settings != nil {
		base = *req.Settings
	}
	startUSDT := req.StartUSDT
	if startUSDT <= 0 {
		startUSDT = base.BaseOrderSizeUSDT
	}

	results := h.mgr.RunOptimization(symbol, base, req.Ranges, startUSDT, req.MaxParallel)
	if req.TopN > 0 {
		results = backtest.TopResults(results, req.TopN)
	}
	respondWithJSON(w, http.StatusOK, results)
}

// ApplyOptimizerResultRequest is the body for
// POST /api/v1/pairs/{symbol}/optimize/apply.
type ApplyOptimizerResultRequest struct {
	Params backtest.Combination `json:"params"`
}

func (h *BacktestHandler) ApplyOptimizerResult(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req ApplyOptimizerResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return
	}
	if len(req.Params) == 0 {
		respondWithError(w, http.StatusBadRequest, "missing_params", "params is required", "")
		return
	}

	settings := h.mgr.ApplyOptimizerResult(symbol, backtest.Result{Params: req.Params})
	respondWithJSON(w, http.StatusOK, settings)
}
