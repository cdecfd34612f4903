package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hystdevtv/pear/internal/inbound"
)

const defaultIngestMaxBodyBytes int64 = 10 * 1024 * 1024

type Depositor interface {
	Deposit(ctx context.Context, doc inbound.Document) (string, error)
}

// IngestHandler accepts inbound documents over HTTP and stores them for
// the next batch run.
type IngestHandler struct {
	depositor    Depositor
	maxBodyBytes int64
}

func NewIngestHandler(depositor Depositor, maxBodyBytes int64) *IngestHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultIngestMaxBodyBytes
	}
	return &IngestHandler{depositor: depositor, maxBodyBytes: maxBodyBytes}
}

// HandleIngest expects the raw document JSON shape (subject, from_email,
// body, headers, raw_mime, ...) and answers 202 with the stored key.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var doc inbound.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}
	if doc.Source == "" {
		doc.Source = "http"
	}

	key, err := h.depositor.Deposit(r.Context(), doc)
	if err != nil {
		if errors.Is(err, inbound.ErrEmptyDocument) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
			return
		}
		slog.Error("failed to store inbound document", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusAccepted, jsonResponse{OK: true, Key: key})
}
