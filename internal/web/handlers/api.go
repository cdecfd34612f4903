package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hystdevtv/pear/internal/guardian"
)

type Guard interface {
	Check(ctx context.Context) guardian.Result
}

// StatusHandler serves liveness and guardian state.
type StatusHandler struct {
	guard Guard
}

func NewStatusHandler(guard Guard) *StatusHandler {
	return &StatusHandler{guard: guard}
}

func (h *StatusHandler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleGuardian runs a guardian check. A blocked check is still a
// successful request; the body carries the verdict.
func (h *StatusHandler) HandleGuardian(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.guard.Check(r.Context()))
}

// jsonResponse is the envelope for all API JSON responses.
type jsonResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error,omitempty"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}
