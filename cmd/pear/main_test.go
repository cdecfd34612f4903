package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hystdevtv/pear/internal/auth"
	"github.com/hystdevtv/pear/internal/blob"
	"github.com/hystdevtv/pear/internal/casestore"
	"github.com/hystdevtv/pear/internal/config"
	"github.com/hystdevtv/pear/internal/guardian"
	"github.com/hystdevtv/pear/internal/inbound"
	"github.com/hystdevtv/pear/internal/models"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("hello", "case_id", "abc")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"case_id":"abc"`) {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
	newLogger(&buf, "info", "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	tokenCmd.SetOut(&out)
	if err := tokenCmd.RunE(tokenCmd, nil); err != nil {
		t.Fatalf("token: %v", err)
	}

	var token, hash string
	for _, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.HasPrefix(line, "token:"):
			token = strings.TrimSpace(strings.TrimPrefix(line, "token:"))
		case strings.HasPrefix(line, "INGEST_TOKEN_HASH="):
			hash = strings.Trim(strings.TrimPrefix(line, "INGEST_TOKEN_HASH="), "'")
		}
	}
	if token == "" || hash == "" {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if !auth.NewVerifier(hash).Verify(token) {
		t.Fatal("printed hash does not verify the printed token")
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Blob:           blob.Config{Backend: "memory"},
		Prefixes:       casestore.DefaultPrefixes(),
		RequiredFields: models.DefaultRequiredFields,
		RemindAfter:    48 * time.Hour,
		RemindEvery:    48 * time.Hour,
		Guardian:       guardian.DefaultConfig(),
	}
}

func TestNewApp_WithoutProcessing(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(), appOptions{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.batches != nil {
		t.Fatal("batch driver must only be wired for processing commands")
	}
	if res := a.guard.Check(context.Background()); !res.Allow {
		t.Fatalf("empty store should be allowed: %+v", res)
	}
	if _, err := a.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := a.depositor.Deposit(context.Background(), inbound.Document{FromEmail: "a@example.de", Body: "Hallo"}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func TestNewApp_ProcessingNeedsGeminiKey(t *testing.T) {
	_, err := newApp(context.Background(), testConfig(), appOptions{processing: true})
	if err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}
