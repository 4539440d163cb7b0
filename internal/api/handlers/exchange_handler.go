package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"dcaengine/internal/manager"
)

// ExchangeHandler manages exchange API credentials.
//
// Endpoints:
// - POST /api/v1/exchanges/{name}/credentials - set API key/secret
type ExchangeHandler struct {
	mgr *manager.Manager
}

func NewExchangeHandler(mgr *manager.Manager) *ExchangeHandler {
	return &ExchangeHandler{mgr: mgr}
}

// SetCredentialsRequest is the body for POST /api/v1/exchanges/{name}/credentials.
type SetCredentialsRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (h *ExchangeHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req SetCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return
	}
	if req.APIKey == "" || req.APISecret == "" {
		respondWithError(w, http.StatusBadRequest, "missing_credentials", "api_key and api_secret are required", "")
		return
	}

	h.mgr.SetExchangeCredentials(name, req.APIKey, req.APISecret)
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "credentials updated"})
}
