package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"github.com/carelink/agent-portal/internal/config"
	"github.com/carelink/agent-portal/internal/dbmigrate"
	"github.com/carelink/agent-portal/internal/httpserver"
	"github.com/carelink/agent-portal/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	for _, w := range cfg.Warnings {
		logger.Warn().Str("component", "config").Msg(w)
	}

	printStartupBanner(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrationsOnStartup {
		sel, err := dbmigrate.SelectDatabaseURL(cfg, true)
		if err != nil {
			logger.Fatal().Err(err).Msg("startup migrations")
		}

		logger.Info().Str("command", dbmigrate.CommandUp).Str("using", sel.Source).Msg("startup migrations")
		if err := dbmigrate.Run(ctx, dbmigrate.CommandUp, sel.URL, "", logger); err != nil {
			logger.Fatal().Err(err).Msg("startup migrations failed")
		}
		logger.Info().Msg("startup migrations completed")
	}

	validateProductionConfig(logger, cfg)

	server, err := httpserver.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init server")
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		server.Close()
		os.Exit(1)
	}
}

// printStartupBanner logs a one-time summary of the resolved configuration.
// Secrets are only reported as set or not set.
func printStartupBanner(logger zerolog.Logger, cfg *config.Config) {
	logger.Info().
		Str("env", cfg.Env).
		Int("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Msg("agent portal reporting api")

	logger.Info().
		Str("runtime_url", describeDBURL(cfg.DatabaseURL, cfg.DatabaseURLPooled)).
		Str("pooled", config.SetOrNot(cfg.DatabaseURLPooled)).
		Str("direct", config.SetOrNot(cfg.DatabaseURLDirect)).
		Bool("migrations_on_startup", cfg.RunMigrationsOnStartup).
		Msg("database")

	logger.Info().
		Str("auth_mode", cfg.AuthMode).
		Bool("auth_required", cfg.AuthRequired).
		Str("jwt_secret", secretStatus(cfg.JWTSecret, "change_me")).
		Msg("auth")

	blobEvent := logger.Info().
		Str("blob_mode", cfg.Blob.Mode).
		Str("reports_mode", displayReportsMode(cfg)).
		Str("effective_reports_mode", cfg.Blob.EffectiveReportsMode())
	if cfg.Blob.Mode != config.BlobModeLocal || cfg.Blob.EffectiveReportsMode() != config.BlobModeLocal {
		blobEvent = blobEvent.Str("s3", cfg.Blob.S3.DiagnosticsSummary())
	}
	blobEvent.Msg("blob")

	mailEvent := logger.Info().Str("email_sender", cfg.EmailSenderMode)
	switch cfg.EmailSenderMode {
	case "smtp":
		mailEvent = mailEvent.
			Str("smtp_host", nonEmptyOrDash(cfg.SMTPHost)).
			Int("smtp_port", cfg.SMTPPort).
			Str("smtp_from", nonEmptyOrDash(cfg.SMTPFrom)).
			Str("smtp_username", config.SetOrNot(cfg.SMTPUsername)).
			Str("smtp_password", config.SetOrNot(cfg.SMTPPassword)).
			Bool("smtp_use_tls", cfg.SMTPUseTLS)
	case "resend":
		mailEvent = mailEvent.
			Str("resend_api_key", config.SetOrNot(cfg.ResendAPIKey)).
			Str("resend_from", nonEmptyOrDash(cfg.ResendFrom))
	}
	mailEvent.Msg("mailer")

	logger.Info().
		Int("max_range_days", cfg.ReportsMaxRangeDays).
		Int("generation_timeout_s", cfg.GenerationTimeoutSeconds).
		Str("pdf_renderer", cfg.PDFRenderer).
		Int("export_chunk_size", cfg.ExportChunkSize).
		Int("export_max_rows", cfg.ExportMaxRows).
		Bool("scheduler", cfg.SchedulerEnabled).
		Str("scheduler_cron", cfg.SchedulerCron).
		Msg("reporting")
}

// validateProductionConfig stops startup on configuration that cannot work.
func validateProductionConfig(logger zerolog.Logger, cfg *config.Config) {
	problems := cfg.Validate()
	if len(problems) == 0 {
		return
	}
	for _, p := range problems {
		logger.Error().Str("component", "config").Msg(p)
	}
	logger.Fatal().Int("problems", len(problems)).Msg("invalid configuration")
}

func nonEmptyOrDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func secretStatus(v, insecureDefault string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "not set"
	}
	if v == insecureDefault {
		return fmt.Sprintf("set (DEFAULT, insecure '%s')", insecureDefault)
	}
	return "set (custom)"
}

func describeDBURL(runtime, pooled string) string {
	if runtime == "" {
		return "not set (in-memory storage)"
	}
	if pooled != "" && runtime == pooled {
		return "set (via DATABASE_URL_POOLED)"
	}
	return "set"
}

func displayReportsMode(cfg *config.Config) string {
	if cfg.Blob.ReportsModeSet {
		return cfg.Blob.ReportsMode
	}
	return fmt.Sprintf("(inherits BLOB_MODE=%s)", cfg.Blob.Mode)
}
