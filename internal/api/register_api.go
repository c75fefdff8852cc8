// Package api implements the relay's HTTP surface: device registration,
// the game-event webhook and the operator diagnostics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
)

// TokenAPI serves registration and registry diagnostics.
type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

type RegisterRequest struct {
	Token string `json:"token"`
}

type RegisterResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	TotalDevices      int    `json:"total_devices"`
	AlreadyRegistered bool   `json:"already_registered"`
}

// RegisterHandler handles POST /register. Registration is idempotent: a
// repeat registration succeeds and reports the unchanged total.
func (api *TokenAPI) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	res, err := api.Store.Register(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidToken) {
			response.WriteJSONError(w, http.StatusBadRequest, "malformed token")
			return
		}
		api.Logger.Error("Token registration failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	api.Logger.Info("Token registered",
		"token", dispatch.Redact(req.Token),
		"already_registered", res.AlreadyPresent,
		"total", res.Total,
	)
	writeJSON(w, http.StatusOK, RegisterResponse{
		Status:            "success",
		Message:           "Token registered",
		TotalDevices:      res.Total,
		AlreadyRegistered: res.AlreadyPresent,
	})
}

type TokensResponse struct {
	Tokens []string `json:"tokens"`
	Count  int      `json:"count"`
}

// TokensHandler handles GET /tokens. Tokens are returned unredacted for
// operator debugging; deployments must restrict access to this route.
func (api *TokenAPI) TokensHandler(w http.ResponseWriter, r *http.Request) {
	tokens, err := api.Store.Snapshot(r.Context())
	if err != nil {
		api.Logger.Error("Token snapshot failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{Tokens: tokens, Count: len(tokens)})
}

// UnregisterHandler handles DELETE /tokens: the operator pruning path for
// tokens that keep failing delivery.
func (api *TokenAPI) UnregisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.Remove(r.Context(), req.Token); err != nil {
		api.Logger.Error("Token removal failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Token removed", "token", dispatch.Redact(req.Token))
	w.WriteHeader(http.StatusNoContent)
}

type ReloadResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// ForceReloadHandler handles POST /force_reload: discard in-memory state
// and re-read the backing store, for recovery after external edits.
func (api *TokenAPI) ForceReloadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := api.Store.Reload(ctx); err != nil {
		api.Logger.Error("Registry reload failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "reload failed")
		return
	}

	tokens, err := api.Store.Snapshot(ctx)
	if err != nil {
		api.Logger.Error("Token snapshot failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{Status: "success", Count: len(tokens)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
