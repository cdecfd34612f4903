package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hystdevtv/pear/internal/casestore"
	"github.com/hystdevtv/pear/internal/models"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pear.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 50 || cfg.BatchInterval != 5*time.Minute || cfg.SweepInterval != time.Hour {
		t.Fatalf("unexpected batch defaults: %+v", cfg)
	}
	if cfg.ExpireAfter != 336*time.Hour || cfg.RemindAfter != 48*time.Hour || cfg.NotifyCooldown != 24*time.Hour {
		t.Fatalf("unexpected lifecycle defaults: %+v", cfg)
	}
	if cfg.Guardian.MaxPendingCases != 500 || cfg.Guardian.SuspiciousSenderThreshold != 5 {
		t.Fatalf("unexpected guardian defaults: %+v", cfg.Guardian)
	}
	if len(cfg.RequiredFields) != len(models.DefaultRequiredFields) {
		t.Fatalf("required fields = %v", cfg.RequiredFields)
	}
	if len(cfg.MatchOrder) != 3 || cfg.MatchOrder[0] != casestore.MatchByTag {
		t.Fatalf("match order = %v", cfg.MatchOrder)
	}
	if cfg.Prefixes.Raw != "raw/" || cfg.Blob.Backend != "filesystem" {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.Prefixes, cfg.Blob)
	}
	if cfg.DatabaseURL != "sqlite://./data/pear.db" || cfg.SMTPEnabled || cfg.InboundSMTPEnabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !errors.Is(cfg.RequireExtraction(), ErrMissingCredential) {
		t.Fatal("missing GEMINI_API_KEY must be reported")
	}
}

func TestLoad_YAMLWithExpansionAndEnvOverride(t *testing.T) {
	path := writeYAML(t, `
gemini:
  api_key: ${PEAR_TEST_GEMINI_KEY}
  timeout: 30s
fields:
  required: [name, email, phone]
  match_order: [sender, tag]
storage:
  backend: s3
  s3:
    bucket: pear-inbox
    force_path_style: true
  prefixes:
    raw: inbox
batch:
  size: 20
lifecycle:
  expire_after: 72h
guardian:
  max_pending_cases: 42
smtp:
  host: smtp.example.de
  from: PEAR <pear@example.de>
  use_ssl: true
inbound_smtp:
  addr: ":2525"
  recipients: [kunden@pear.example]
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PEAR_TEST_GEMINI_KEY", "key-from-env")
	t.Setenv("BATCH_SIZE", "7")
	t.Setenv("SMTP_PORT", "465")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiAPIKey != "key-from-env" || cfg.ExtractTimeout != 30*time.Second {
		t.Fatalf("gemini settings: %q %s", cfg.GeminiAPIKey, cfg.ExtractTimeout)
	}
	if err := cfg.RequireExtraction(); err != nil {
		t.Fatalf("RequireExtraction: %v", err)
	}
	if cfg.BatchSize != 7 {
		t.Fatalf("env must override YAML, batch size = %d", cfg.BatchSize)
	}
	if len(cfg.RequiredFields) != 3 || cfg.RequiredFields[2] != models.FieldPhone {
		t.Fatalf("required = %v", cfg.RequiredFields)
	}
	if cfg.MatchOrder[0] != casestore.MatchBySender || len(cfg.MatchOrder) != 2 {
		t.Fatalf("match order = %v", cfg.MatchOrder)
	}
	if cfg.Blob.Backend != "s3" || cfg.Blob.S3Bucket != "pear-inbox" || !cfg.Blob.S3ForcePathStyle {
		t.Fatalf("blob = %+v", cfg.Blob)
	}
	if cfg.Prefixes.Raw != "inbox" || cfg.Prefixes.Pending != "pending/" {
		t.Fatalf("prefixes = %+v", cfg.Prefixes)
	}
	if cfg.ExpireAfter != 72*time.Hour || cfg.Guardian.MaxPendingCases != 42 {
		t.Fatalf("lifecycle/guardian = %s %d", cfg.ExpireAfter, cfg.Guardian.MaxPendingCases)
	}
	if !cfg.SMTPEnabled || !cfg.SMTPUseSSL || cfg.SMTPPort != 465 {
		t.Fatalf("smtp = %+v", cfg)
	}
	if !cfg.InboundSMTPEnabled || len(cfg.InboundSMTPRecipients) != 1 {
		t.Fatalf("inbound smtp = %q %v", cfg.InboundSMTPAddr, cfg.InboundSMTPRecipients)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad int", env: map[string]string{"BATCH_SIZE": "many"}, wantErr: "invalid BATCH_SIZE"},
		{name: "bad duration", env: map[string]string{"REMIND_AFTER": "2 days"}, wantErr: "invalid REMIND_AFTER"},
		{name: "unknown field", env: map[string]string{"REQUIRED_FIELDS": "name,shoe_size"}, wantErr: "invalid REQUIRED_FIELDS"},
		{name: "unknown strategy", env: map[string]string{"MATCH_ORDER": "tag,guess"}, wantErr: "invalid MATCH_ORDER"},
		{name: "smtp without from", env: map[string]string{"SMTP_HOST": "smtp.example.de"}, wantErr: "SMTP_FROM is required"},
		{name: "half credentials", env: map[string]string{"SMTP_USER": "pear"}, wantErr: "SMTP_USER and SMTP_PASS"},
		{name: "zero threshold", env: map[string]string{"MAX_PENDING_CASES": "-1"}, wantErr: "MAX_PENDING_CASES must be positive"},
		{name: "log format", env: map[string]string{"LOG_FORMAT": "xml"}, wantErr: "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
