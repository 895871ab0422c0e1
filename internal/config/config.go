package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	AuthModeNone = "none"
	AuthModeJWT  = "jwt"

	PDFRendererHTML   = "html"
	PDFRendererGofpdf = "gofpdf"
)

// Config holds the application configuration resolved from the environment.
type Config struct {
	Env      string // local | staging | production
	Port     int
	LogLevel string

	// Database
	DatabaseURL       string // runtime connection (pooled > url > direct)
	DatabaseURLRaw    string
	DatabaseURLPooled string
	DatabaseURLDirect string // migrations / DDL

	RunMigrationsOnStartup bool

	// HTTP
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	RateLimitRPS         int
	RateLimitBurst       int

	Blob BlobConfig

	// Reports
	ReportsMaxRangeDays      int
	GenerationTimeoutSeconds int
	PDFRenderer              string

	// Exports
	ExportChunkSize int
	ExportMaxRows   int

	// Scheduler
	SchedulerEnabled   bool
	SchedulerCron      string
	SchedulerBatchSize int

	// Auth
	AuthMode      string // none | jwt
	AuthRequired  bool
	JWTSecret     string
	JWTIssuer     string
	JWTTTLMinutes int

	// Mailer
	EmailSenderMode string // local | smtp | resend
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPUseTLS      bool
	ResendAPIKey    string
	ResendFrom      string

	// Warnings collects fallbacks applied while loading, logged once the logger exists.
	Warnings []string
}

// Load reads the configuration from environment variables.
func Load() *Config {
	cfg := &Config{}

	cfg.Env = firstNonEmpty(os.Getenv("APP_ENV"), os.Getenv("ENV"), "local")
	cfg.Port = envInt("PORT", 8080)
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "debug")

	// ---------- Database ----------
	cfg.DatabaseURLPooled = strings.TrimSpace(os.Getenv("DATABASE_URL_POOLED"))
	cfg.DatabaseURLRaw = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.DatabaseURLDirect = strings.TrimSpace(os.Getenv("DATABASE_URL_DIRECT"))
	cfg.DatabaseURL = firstNonEmpty(cfg.DatabaseURLPooled, cfg.DatabaseURLRaw, cfg.DatabaseURLDirect)
	cfg.RunMigrationsOnStartup = parseBoolEnv("RUN_MIGRATIONS_ON_STARTUP")

	// ---------- HTTP ----------
	cfg.CORSAllowedOrigins = parseCORSOrigins(os.Getenv("CORS_ALLOWED_ORIGINS"), cfg.Env)
	cfg.CORSAllowCredentials = parseBoolEnv("CORS_ALLOW_CREDENTIALS")
	cfg.RateLimitRPS = envInt("RATE_LIMIT_RPS", 0)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", 0)

	// ---------- Blob / S3 ----------
	presignTTL := envInt("S3_PRESIGN_TTL_SECONDS", 900)
	if presignTTL <= 0 {
		presignTTL = 900
	}
	reportsModeRaw := strings.ToLower(strings.TrimSpace(os.Getenv("REPORTS_MODE")))
	cfg.Blob = BlobConfig{
		Mode:           cfg.parseBlobMode("BLOB_MODE", BlobModeLocal),
		ReportsModeSet: reportsModeRaw != "",
		ReportsMode:    BlobModeLocal,
		S3: S3Config{
			Endpoint:          strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
			Region:            strings.TrimSpace(os.Getenv("S3_REGION")),
			Bucket:            strings.TrimSpace(os.Getenv("S3_BUCKET")),
			AccessKeyID:       strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
			SecretAccessKey:   strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
			PublicBaseURL:     strings.TrimSpace(os.Getenv("S3_PUBLIC_BASE_URL")),
			PresignTTLSeconds: presignTTL,
			PreferPublicURL:   parseBoolEnv("S3_PREFER_PUBLIC_URL"),
		},
	}
	if cfg.Blob.ReportsModeSet {
		cfg.Blob.ReportsMode = cfg.parseBlobMode("REPORTS_MODE", BlobModeLocal)
	}

	// ---------- Reports ----------
	cfg.ReportsMaxRangeDays = positiveOr(envInt("REPORTS_MAX_RANGE_DAYS", 365), 365)
	cfg.GenerationTimeoutSeconds = positiveOr(envInt("REPORTS_GENERATION_TIMEOUT_SECONDS", 300), 300)
	cfg.PDFRenderer = strings.ToLower(strings.TrimSpace(os.Getenv("REPORTS_PDF_RENDERER")))
	switch cfg.PDFRenderer {
	case "":
		cfg.PDFRenderer = PDFRendererHTML
	case PDFRendererHTML, PDFRendererGofpdf:
	default:
		cfg.warnf("unknown REPORTS_PDF_RENDERER=%q, fallback to %s", cfg.PDFRenderer, PDFRendererHTML)
		cfg.PDFRenderer = PDFRendererHTML
	}

	// ---------- Exports ----------
	cfg.ExportChunkSize = clamp(envInt("EXPORT_CHUNK_SIZE", 100), 10, 500)
	cfg.ExportMaxRows = positiveOr(envInt("EXPORT_MAX_ROWS", 50000), 50000)

	// ---------- Scheduler ----------
	cfg.SchedulerEnabled = parseBoolEnv("SCHEDULER_ENABLED")
	cfg.SchedulerCron = firstNonEmpty(strings.TrimSpace(os.Getenv("SCHEDULER_CRON")), "@every 1m")
	cfg.SchedulerBatchSize = positiveOr(envInt("SCHEDULER_BATCH_SIZE", 50), 50)

	// ---------- Auth ----------
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeNone
	}
	if cfg.AuthMode != AuthModeNone && cfg.AuthMode != AuthModeJWT {
		cfg.warnf("unknown AUTH_MODE=%q, fallback to none", cfg.AuthMode)
		cfg.AuthMode = AuthModeNone
	}
	cfg.AuthRequired = cfg.AuthMode != AuthModeNone && parseBoolEnv("AUTH_REQUIRED")
	cfg.JWTSecret = firstNonEmpty(os.Getenv("JWT_SECRET"), "change_me")
	if cfg.JWTSecret == "change_me" && cfg.Env != "local" {
		cfg.warnf("JWT_SECRET is set to 'change_me' in non-local environment")
	}
	cfg.JWTIssuer = firstNonEmpty(os.Getenv("JWT_ISSUER"), "agent-portal")
	cfg.JWTTTLMinutes = positiveOr(envInt("JWT_TTL_MINUTES", 10080), 10080)

	// ---------- Mailer ----------
	cfg.EmailSenderMode = strings.ToLower(strings.TrimSpace(os.Getenv("EMAIL_SENDER_MODE")))
	if cfg.EmailSenderMode == "" {
		cfg.EmailSenderMode = "local"
	}
	if cfg.EmailSenderMode != "local" && cfg.EmailSenderMode != "smtp" && cfg.EmailSenderMode != "resend" {
		cfg.warnf("unknown EMAIL_SENDER_MODE=%q, fallback to local", cfg.EmailSenderMode)
		cfg.EmailSenderMode = "local"
	}
	cfg.SMTPHost = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	cfg.SMTPPort = positiveOr(envInt("SMTP_PORT", 587), 587)
	cfg.SMTPUsername = strings.TrimSpace(os.Getenv("SMTP_USERNAME"))
	cfg.SMTPPassword = strings.TrimSpace(os.Getenv("SMTP_PASSWORD"))
	cfg.SMTPFrom = firstNonEmpty(strings.TrimSpace(os.Getenv("SMTP_FROM")), "Agent Portal <reports@localhost>")
	cfg.SMTPUseTLS = parseBoolEnv("SMTP_USE_TLS")
	cfg.ResendAPIKey = strings.TrimSpace(os.Getenv("RESEND_API_KEY"))
	cfg.ResendFrom = firstNonEmpty(strings.TrimSpace(os.Getenv("RESEND_FROM")), "Agent Portal <onboarding@resend.dev>")

	return cfg
}

// Validate returns the fatal configuration problems for the current environment.
func (c *Config) Validate() []string {
	var problems []string
	isProd := c.Env == "production" || c.Env == "staging"

	if c.Blob.Mode == BlobModeS3 || c.Blob.EffectiveReportsMode() == BlobModeS3 {
		if missing := c.Blob.S3.MissingRequired(); len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("blob: s3 mode requested but missing %s", strings.Join(missing, ", ")))
		}
	}
	if c.EmailSenderMode == "smtp" && c.SMTPHost == "" {
		problems = append(problems, "mailer: EMAIL_SENDER_MODE=smtp requires SMTP_HOST")
	}
	if c.EmailSenderMode == "resend" && c.ResendAPIKey == "" {
		problems = append(problems, "mailer: EMAIL_SENDER_MODE=resend requires RESEND_API_KEY")
	}
	if isProd && c.AuthRequired && c.JWTSecret == "change_me" {
		problems = append(problems, fmt.Sprintf("auth: JWT_SECRET must not be 'change_me' in %s", c.Env))
	}
	if isProd && c.DatabaseURL == "" {
		problems = append(problems, fmt.Sprintf("db: no DATABASE_URL configured in %s", c.Env))
	}
	return problems
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) parseBlobMode(key string, defaultVal string) string {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if mode == "" {
		return defaultVal
	}
	switch mode {
	case BlobModeLocal, BlobModeS3, BlobModeAuto:
		return mode
	default:
		c.warnf("unknown %s=%q, fallback to %s", key, mode, defaultVal)
		return defaultVal
	}
}

// parseCORSOrigins parses CORS_ALLOWED_ORIGINS; local env defaults to localhost origins.
func parseCORSOrigins(raw, env string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if env == "local" {
			return []string{"http://localhost:3000"}
		}
		return nil
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func envInt(key string, defaultVal int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
