package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hystdevtv/pear/internal/guardian"
	"github.com/hystdevtv/pear/internal/inbound"
)

type mockDepositor struct {
	docs []inbound.Document
	err  error
}

func (m *mockDepositor) Deposit(_ context.Context, doc inbound.Document) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.docs = append(m.docs, doc)
	return "raw/01JTEST.json", nil
}

func TestIngestHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		maxBytes   int64
		depositErr error
		wantStatus int
		wantKey    string
	}{
		{name: "accepted", body: `{"subject":"Anfrage","from_email":"a@example.de","body":"Name: Anna"}`, wantStatus: http.StatusAccepted, wantKey: "raw/01JTEST.json"},
		{name: "invalid json", body: `{"subject":`, wantStatus: http.StatusBadRequest},
		{name: "too large", body: `{"body":"` + strings.Repeat("x", 200) + `"}`, maxBytes: 64, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "empty document", body: `{"subject":"x"}`, depositErr: inbound.ErrEmptyDocument, wantStatus: http.StatusBadRequest},
		{name: "storage failure", body: `{"body":"x"}`, depositErr: errors.New("bucket down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dep := &mockDepositor{err: tt.depositErr}
			h := NewIngestHandler(dep, tt.maxBytes)

			req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			h.HandleIngest(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			var resp jsonResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("response is not JSON: %v", err)
			}
			if resp.Key != tt.wantKey {
				t.Fatalf("key = %q, want %q", resp.Key, tt.wantKey)
			}
			if tt.wantStatus == http.StatusAccepted {
				if len(dep.docs) != 1 || dep.docs[0].Source != "http" || dep.docs[0].FromEmail != "a@example.de" {
					t.Fatalf("unexpected deposited docs: %+v", dep.docs)
				}
			}
		})
	}
}

type staticGuard struct {
	result guardian.Result
}

func (g staticGuard) Check(context.Context) guardian.Result { return g.result }

func TestStatusHandler(t *testing.T) {
	h := NewStatusHandler(staticGuard{result: guardian.Result{Allow: false, Action: guardian.ActionBlock, Level: guardian.LevelHigh, Reason: "too many pending cases"}})

	rr := httptest.NewRecorder()
	h.HandleHealthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("healthz: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.HandleGuardian(rr, httptest.NewRequest(http.MethodGet, "/api/v1/guardian", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("guardian: %d", rr.Code)
	}
	var got guardian.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Allow || got.Action != guardian.ActionBlock || got.Reason != "too many pending cases" {
		t.Fatalf("unexpected result: %+v", got)
	}
}
