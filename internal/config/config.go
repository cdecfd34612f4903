// Package config loads configuration from an optional YAML file, a .env
// file and environment variables. Environment variables win over the file,
// defaults come last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hystdevtv/pear/internal/blob"
	"github.com/hystdevtv/pear/internal/casestore"
	"github.com/hystdevtv/pear/internal/guardian"
	"github.com/hystdevtv/pear/internal/models"
)

// ErrMissingCredential is returned when a required secret is not configured.
var ErrMissingCredential = errors.New("missing credential")

type Config struct {
	GeminiAPIKey   string
	GeminiModel    string
	ExtractTimeout time.Duration

	RequiredFields []models.Field
	MatchOrder     []casestore.Strategy

	Blob     blob.Config
	Prefixes casestore.Prefixes

	BatchSize          int
	BatchInterval      time.Duration
	SweepInterval      time.Duration
	MaxAttachmentBytes int64

	NotifyCooldown time.Duration
	RemindAfter    time.Duration
	RemindEvery    time.Duration
	ExpireAfter    time.Duration

	Guardian guardian.Config
	RedisURL string

	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
	SMTPFrom    string
	SMTPUseSSL  bool
	SMTPEnabled bool

	DatabaseURL string

	Port               int
	IngestTokenHash    string
	IngestMaxBodyBytes int64
	RateLimitRPS       float64
	RateLimitBurst     int

	InboundSMTPAddr       string
	InboundSMTPDomain     string
	InboundSMTPRecipients []string
	InboundSMTPEnabled    bool

	LogLevel  string
	LogFormat string
}

// fileConfig mirrors the YAML structure for unmarshalling. Durations are
// Go duration strings.
type fileConfig struct {
	Gemini struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"gemini"`
	Fields struct {
		Required   []string `yaml:"required"`
		MatchOrder []string `yaml:"match_order"`
	} `yaml:"fields"`
	Storage struct {
		Backend string `yaml:"backend"`
		FSRoot  string `yaml:"fs_root"`
		S3      struct {
			Bucket          string `yaml:"bucket"`
			Region          string `yaml:"region"`
			Endpoint        string `yaml:"endpoint"`
			AccessKeyID     string `yaml:"access_key_id"`
			SecretAccessKey string `yaml:"secret_access_key"`
			ForcePathStyle  *bool  `yaml:"force_path_style"`
		} `yaml:"s3"`
		GCS struct {
			Bucket          string `yaml:"bucket"`
			CredentialsFile string `yaml:"credentials_file"`
		} `yaml:"gcs"`
		Prefixes struct {
			Raw       string `yaml:"raw"`
			Pending   string `yaml:"pending"`
			Responded string `yaml:"responded"`
			Complete  string `yaml:"complete"`
			Expired   string `yaml:"expired"`
		} `yaml:"prefixes"`
	} `yaml:"storage"`
	Batch struct {
		Size               int    `yaml:"size"`
		Interval           string `yaml:"interval"`
		SweepInterval      string `yaml:"sweep_interval"`
		MaxAttachmentBytes int64  `yaml:"max_attachment_bytes"`
	} `yaml:"batch"`
	Lifecycle struct {
		NotifyCooldown string `yaml:"notify_cooldown"`
		RemindAfter    string `yaml:"remind_after"`
		RemindEvery    string `yaml:"remind_every"`
		ExpireAfter    string `yaml:"expire_after"`
	} `yaml:"lifecycle"`
	Guardian struct {
		MaxEmailsPerMinute        int    `yaml:"max_emails_per_minute"`
		MaxEmailsPerHour          int    `yaml:"max_emails_per_hour"`
		MaxPendingCases           int    `yaml:"max_pending_cases"`
		SuspiciousSenderThreshold int    `yaml:"suspicious_sender_threshold"`
		LockdownDuration          string `yaml:"lockdown_duration"`
	} `yaml:"guardian"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	SMTP struct {
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
		User   string `yaml:"user"`
		Pass   string `yaml:"pass"`
		From   string `yaml:"from"`
		UseSSL *bool  `yaml:"use_ssl"`
	} `yaml:"smtp"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	HTTP struct {
		Port            int     `yaml:"port"`
		IngestTokenHash string  `yaml:"ingest_token_hash"`
		MaxBodyBytes    int64   `yaml:"max_body_bytes"`
		RateLimitRPS    float64 `yaml:"rate_limit_rps"`
		RateLimitBurst  int     `yaml:"rate_limit_burst"`
	} `yaml:"http"`
	InboundSMTP struct {
		Addr       string   `yaml:"addr"`
		Domain     string   `yaml:"domain"`
		Recipients []string `yaml:"recipients"`
	} `yaml:"inbound_smtp"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load builds the configuration. A .env file in the working directory is
// read first and never overrides variables already set. CONFIG_PATH names
// an optional YAML file; ${VAR} references in it are expanded.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var file fileConfig
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg, err := build(file)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(f fileConfig) (*Config, error) {
	var err error
	cfg := &Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", f.Gemini.APIKey),
		GeminiModel:  getEnv("GEMINI_MODEL", orString(f.Gemini.Model, "gemini-1.5-pro")),
	}

	durations := []struct {
		key      string
		fromFile string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"EXTRACT_TIMEOUT", f.Gemini.Timeout, 60 * time.Second, &cfg.ExtractTimeout},
		{"BATCH_INTERVAL", f.Batch.Interval, 5 * time.Minute, &cfg.BatchInterval},
		{"SWEEP_INTERVAL", f.Batch.SweepInterval, time.Hour, &cfg.SweepInterval},
		{"NOTIFY_COOLDOWN", f.Lifecycle.NotifyCooldown, 24 * time.Hour, &cfg.NotifyCooldown},
		{"REMIND_AFTER", f.Lifecycle.RemindAfter, 48 * time.Hour, &cfg.RemindAfter},
		{"REMIND_EVERY", f.Lifecycle.RemindEvery, 48 * time.Hour, &cfg.RemindEvery},
		{"EXPIRE_AFTER", f.Lifecycle.ExpireAfter, 14 * 24 * time.Hour, &cfg.ExpireAfter},
		{"LOCKDOWN_DURATION", f.Guardian.LockdownDuration, time.Hour, &cfg.Guardian.LockdownDuration},
	}
	for _, d := range durations {
		fallback, err := parseFileDuration(d.fromFile, d.fallback)
		if err != nil {
			return nil, fmt.Errorf("invalid %s in config file: %w", d.key, err)
		}
		if *d.dst, err = getDurationEnv(d.key, fallback); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	ints := []struct {
		key      string
		fromFile int
		fallback int
		dst      *int
	}{
		{"BATCH_SIZE", f.Batch.Size, 50, &cfg.BatchSize},
		{"MAX_EMAILS_PER_MINUTE", f.Guardian.MaxEmailsPerMinute, 10, &cfg.Guardian.MaxEmailsPerMinute},
		{"MAX_EMAILS_PER_HOUR", f.Guardian.MaxEmailsPerHour, 100, &cfg.Guardian.MaxEmailsPerHour},
		{"MAX_PENDING_CASES", f.Guardian.MaxPendingCases, 500, &cfg.Guardian.MaxPendingCases},
		{"SUSPICIOUS_SENDER_THRESHOLD", f.Guardian.SuspiciousSenderThreshold, 5, &cfg.Guardian.SuspiciousSenderThreshold},
		{"SMTP_PORT", f.SMTP.Port, 587, &cfg.SMTPPort},
		{"PORT", f.HTTP.Port, 8080, &cfg.Port},
		{"RATE_LIMIT_BURST", f.HTTP.RateLimitBurst, 5, &cfg.RateLimitBurst},
	}
	for _, i := range ints {
		if *i.dst, err = getIntEnv(i.key, orInt(i.fromFile, i.fallback)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", i.key, err)
		}
	}

	maxBody, err := getIntEnv("INGEST_MAX_BODY_BYTES", int(orInt64(f.HTTP.MaxBodyBytes, 10*1024*1024)))
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_MAX_BODY_BYTES: %w", err)
	}
	cfg.IngestMaxBodyBytes = int64(maxBody)

	maxAttachment, err := getIntEnv("MAX_ATTACHMENT_BYTES", int(orInt64(f.Batch.MaxAttachmentBytes, 5*1024*1024)))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_ATTACHMENT_BYTES: %w", err)
	}
	cfg.MaxAttachmentBytes = int64(maxAttachment)

	if cfg.RateLimitRPS, err = getFloatEnv("RATE_LIMIT_RPS", orFloat(f.HTTP.RateLimitRPS, 2.0)); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	required := getEnv("REQUIRED_FIELDS", strings.Join(f.Fields.Required, ","))
	if strings.TrimSpace(required) == "" {
		cfg.RequiredFields = models.DefaultRequiredFields
	} else if cfg.RequiredFields, err = models.ParseFields(required); err != nil {
		return nil, fmt.Errorf("invalid REQUIRED_FIELDS: %w", err)
	}
	if cfg.MatchOrder, err = casestore.ParseMatchOrder(getEnv("MATCH_ORDER", strings.Join(f.Fields.MatchOrder, ","))); err != nil {
		return nil, fmt.Errorf("invalid MATCH_ORDER: %w", err)
	}

	forcePathStyle, err := getBoolEnv("S3_FORCE_PATH_STYLE", orBool(f.Storage.S3.ForcePathStyle, false))
	if err != nil {
		return nil, fmt.Errorf("invalid S3_FORCE_PATH_STYLE: %w", err)
	}
	cfg.Blob = blob.Config{
		Backend:           getEnv("BLOB_BACKEND", orString(f.Storage.Backend, "filesystem")),
		FSRoot:            getEnv("BLOB_FS_ROOT", orString(f.Storage.FSRoot, "./data/blobs")),
		S3Bucket:          getEnv("S3_BUCKET", f.Storage.S3.Bucket),
		S3Region:          getEnv("S3_REGION", orString(f.Storage.S3.Region, "auto")),
		S3Endpoint:        getEnv("S3_ENDPOINT", f.Storage.S3.Endpoint),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", f.Storage.S3.AccessKeyID),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", f.Storage.S3.SecretAccessKey),
		S3ForcePathStyle:  forcePathStyle,
		GCSBucket:         getEnv("GCS_BUCKET", f.Storage.GCS.Bucket),
		GCSCredentials:    getEnv("GCS_CREDENTIALS_FILE", f.Storage.GCS.CredentialsFile),
	}
	cfg.Prefixes = casestore.Prefixes{
		Raw:       getEnv("RAW_PREFIX", orString(f.Storage.Prefixes.Raw, "raw/")),
		Pending:   getEnv("PENDING_PREFIX", orString(f.Storage.Prefixes.Pending, "pending/")),
		Responded: getEnv("RESPONDED_PREFIX", orString(f.Storage.Prefixes.Responded, "responded/")),
		Complete:  getEnv("COMPLETE_PREFIX", orString(f.Storage.Prefixes.Complete, "complete/")),
		Expired:   getEnv("EXPIRED_PREFIX", orString(f.Storage.Prefixes.Expired, "expired/")),
	}

	cfg.RedisURL = getEnv("REDIS_URL", f.Redis.URL)

	cfg.SMTPHost = getEnv("SMTP_HOST", f.SMTP.Host)
	cfg.SMTPUser = getEnv("SMTP_USER", f.SMTP.User)
	cfg.SMTPPass = getEnv("SMTP_PASS", f.SMTP.Pass)
	cfg.SMTPFrom = getEnv("SMTP_FROM", f.SMTP.From)
	if cfg.SMTPUseSSL, err = getBoolEnv("SMTP_USE_SSL", orBool(f.SMTP.UseSSL, false)); err != nil {
		return nil, fmt.Errorf("invalid SMTP_USE_SSL: %w", err)
	}
	cfg.SMTPEnabled = cfg.SMTPHost != ""

	cfg.DatabaseURL = getEnv("DATABASE_URL", orString(f.Database.URL, "sqlite://./data/pear.db"))

	cfg.IngestTokenHash = getEnv("INGEST_TOKEN_HASH", f.HTTP.IngestTokenHash)

	cfg.InboundSMTPAddr = getEnv("INBOUND_SMTP_ADDR", f.InboundSMTP.Addr)
	cfg.InboundSMTPDomain = getEnv("INBOUND_SMTP_DOMAIN", orString(f.InboundSMTP.Domain, "localhost"))
	cfg.InboundSMTPRecipients = getListEnv("INBOUND_SMTP_RECIPIENTS", f.InboundSMTP.Recipients)
	cfg.InboundSMTPEnabled = cfg.InboundSMTPAddr != ""

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", orString(f.Log.Level, "info")))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", orString(f.Log.Format, "json")))

	return cfg, nil
}

// Validate checks cross-field rules. The Gemini key is checked separately
// by RequireExtraction since only mail processing needs it.
func (c *Config) Validate() error {
	var errs []error
	if c.SMTPEnabled && strings.TrimSpace(c.SMTPFrom) == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}
	if (c.SMTPUser == "") != (c.SMTPPass == "") {
		errs = append(errs, fmt.Errorf("%w: SMTP_USER and SMTP_PASS must both be set or both be blank", ErrMissingCredential))
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"BATCH_SIZE", c.BatchSize > 0},
		{"BATCH_INTERVAL", c.BatchInterval > 0},
		{"SWEEP_INTERVAL", c.SweepInterval > 0},
		{"EXTRACT_TIMEOUT", c.ExtractTimeout > 0},
		{"NOTIFY_COOLDOWN", c.NotifyCooldown >= 0},
		{"REMIND_AFTER", c.RemindAfter > 0},
		{"REMIND_EVERY", c.RemindEvery > 0},
		{"EXPIRE_AFTER", c.ExpireAfter > 0},
		{"MAX_EMAILS_PER_MINUTE", c.Guardian.MaxEmailsPerMinute > 0},
		{"MAX_EMAILS_PER_HOUR", c.Guardian.MaxEmailsPerHour > 0},
		{"MAX_PENDING_CASES", c.Guardian.MaxPendingCases > 0},
		{"SUSPICIOUS_SENDER_THRESHOLD", c.Guardian.SuspiciousSenderThreshold > 0},
		{"LOCKDOWN_DURATION", c.Guardian.LockdownDuration > 0},
		{"PORT", c.Port > 0 && c.Port < 65536},
		{"SMTP_PORT", c.SMTPPort > 0 && c.SMTPPort < 65536},
		{"RATE_LIMIT_RPS", c.RateLimitRPS > 0},
		{"RATE_LIMIT_BURST", c.RateLimitBurst > 0},
		{"INGEST_MAX_BODY_BYTES", c.IngestMaxBodyBytes > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// RequireExtraction reports whether the extraction credentials are present.
func (c *Config) RequireExtraction() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is required", ErrMissingCredential)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getBoolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getListEnv(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFileDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orInt64(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func orFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func orBool(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
