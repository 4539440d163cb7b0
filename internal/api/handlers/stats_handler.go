package handlers

import (
	"encoding/json"
	"net/http"

	"dcaengine/internal/manager"
	"dcaengine/internal/models"
)

// StatsHandler exposes aggregate statistics and the global safety actions:
// emergency-stop-all and close-all-positions-now.
//
// Endpoints:
// - GET  /api/v1/stats                   - per-pair trade statistics
// - POST /api/v1/stats/settings          - update default strategy settings
// - POST /api/v1/emergency-stop          - stop every pair, canceling orders
// - POST /api/v1/close-all               - force-close every open position
type StatsHandler struct {
	mgr *manager.Manager
}

func NewStatsHandler(mgr *manager.Manager) *StatsHandler {
	return &StatsHandler{mgr: mgr}
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.mgr.Statistics())
}

func (h *StatsHandler) UpdateDefaultSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.StrategySettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return
	}
	h.mgr.UpdateStrategySettings(settings)
	respondWithJSON(w, http.StatusOK, settings)
}

func (h *StatsHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.mgr.EmergencyStop(r.Context())
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "emergency stop executed"})
}

func (h *StatsHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	h.mgr.CloseAllPositionsNow(r.Context())
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "close-all requested"})
}
