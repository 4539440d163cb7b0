package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"dcaengine/internal/manager"
	"dcaengine/internal/models"
)

// PairHandler manages the lifecycle of trading pairs: add/remove, start/stop,
// settings edits, and the manual close/cancel/refresh-protection actions.
//
// Endpoints:
// - GET    /api/v1/pairs                     - list pairs with runtime + stats
// - POST   /api/v1/pairs                     - add a pair
// - DELETE /api/v1/pairs/{symbol}             - remove a pair
// - POST   /api/v1/pairs/{symbol}/start       - start a pair
// - POST   /api/v1/pairs/{symbol}/stop        - stop a pair
// - GET    /api/v1/pairs/{symbol}/settings    - get per-pair strategy settings
// - PATCH  /api/v1/pairs/{symbol}/settings    - edit per-pair strategy settings
// - POST   /api/v1/pairs/{symbol}/close       - close-now
// - POST   /api/v1/pairs/{symbol}/cancel      - cancel resting orders
// - POST   /api/v1/pairs/{symbol}/refresh-protection - resubmit exchange TP/SL
type PairHandler struct {
	mgr *manager.Manager
}

func NewPairHandler(mgr *manager.Manager) *PairHandler {
	return &PairHandler{mgr: mgr}
}

// AddPairRequest is the body for POST /api/v1/pairs.
type AddPairRequest struct {
	Symbol   string `json:"symbol"`
	Mode     string `json:"mode"`
	Exchange string `json:"exchange"`
}

// PairResponse combines a pair's runtime state with its trade statistics.
type PairResponse struct {
	Symbol  string             `json:"symbol"`
	Runtime models.PairRuntime `json:"runtime"`
	Stats   *manager.PairStats `json:"stats,omitempty"`
}

func (h *PairHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	runtimes := h.mgr.ListPairs()
	stats := h.mgr.Statistics()

	response := make([]PairResponse, 0, len(runtimes))
	for symbol, runtime := range runtimes {
		s := stats[symbol]
		response = append(response, PairResponse{Symbol: symbol, Runtime: runtime, Stats: &s})
	}
	respondWithJSON(w, http.StatusOK, response)
}

func (h *PairHandler) AddPair(w http.ResponseWriter, r *http.Request) {
	var req AddPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return
	}
	if req.Symbol == "" {
		respondWithError(w, http.StatusBadRequest, "missing_symbol", "symbol is required", "")
		return
	}
	if req.Mode == "" {
		req.Mode = models.ModeSpot
	}
	if req.Exchange == "" {
		req.Exchange = "Binance"
	}

	wk := h.mgr.AddPair(req.Symbol, req.Mode, req.Exchange)
	respondWithJSON(w, http.StatusCreated, PairResponse{Symbol: wk.Symbol(), Runtime: wk.RuntimeSnapshot()})
}

func (h *PairHandler) RemovePair(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	h.mgr.RemovePair(r.Context(), symbol)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PairHandler) StartPair(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	h.mgr.StartPair(r.Context(), symbol)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "started"})
}

func (h *PairHandler) StopPair(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	h.mgr.StopPair(r.Context(), symbol)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "stopped"})
}

func (h *PairHandler) GetPairSettings(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondWithJSON(w, http.StatusOK, h.mgr.GetPairStrategySettings(symbol))
}

func (h *PairHandler) UpdatePairSettings(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	var settings models.StrategySettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return
	}
	h.mgr.UpdatePairStrategySettings(symbol, settings)
	respondWithJSON(w, http.StatusOK, settings)
}

func (h *PairHandler) ClosePairNow(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	h.mgr.ClosePairNow(r.Context(), symbol)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "close requested"})
}

func (h *PairHandler) CancelPairOrders(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	h.mgr.CancelPairOrders(r.Context(), symbol)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "orders canceled"})
}

func (h *PairHandler) RefreshProtection(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	h.mgr.RefreshPairProtection(r.Context(), symbol)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "protection refreshed"})
}
