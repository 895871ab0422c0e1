package blob

import (
	"context"
	"fmt"
	"strings"

	appcfg "github.com/carelink/agent-portal/internal/config"
	"github.com/rs/zerolog"
)

// NewBlobStore builds the file store for REPORTS_MODE (falling back to BLOB_MODE).
// Local mode returns a nil Store: files then stay inline on their records.
func NewBlobStore(ctx context.Context, cfg appcfg.BlobConfig, logger zerolog.Logger) (Store, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.EffectiveReportsMode()))
	if mode == "" {
		mode = appcfg.BlobModeLocal
	}
	log := logger.With().Str("component", "blob").Logger()

	switch mode {
	case appcfg.BlobModeLocal:
		log.Info().Str("mode", appcfg.BlobModeLocal).Msg("blob mode forced to local")
		return nil, appcfg.BlobModeLocal, nil

	case appcfg.BlobModeAuto:
		if !cfg.S3.IsConfigured() {
			level, code, msg := cfg.S3.Diagnostics()
			log.Info().Str("s3_level", level).Str("code", code).Str("summary", cfg.S3.DiagnosticsSummary()).Msg(msg)
			log.Info().Str("mode", appcfg.BlobModeLocal).Msg("auto mode, S3 not configured")
			return nil, appcfg.BlobModeLocal, nil
		}

		store, err := newS3(ctx, cfg.S3)
		if err != nil {
			log.Warn().Err(err).Msg("s3 init failed, fallback to local")
			return nil, appcfg.BlobModeLocal, nil
		}
		log.Info().Str("mode", appcfg.BlobModeS3).Str("summary", cfg.S3.DiagnosticsSummary()).Msg("auto mode, S3 configured")
		return store, appcfg.BlobModeS3, nil

	case appcfg.BlobModeS3:
		if !cfg.S3.IsConfigured() {
			missing := cfg.S3.MissingRequired()
			log.Error().Strs("missing", missing).Str("code", "s3_config_incomplete").Msg("s3 mode requested")
			return nil, "", fmt.Errorf("s3 blob mode requested but missing required config: %s", strings.Join(missing, ", "))
		}

		store, err := newS3(ctx, cfg.S3)
		if err != nil {
			return nil, "", fmt.Errorf("s3 blob mode init failed: %w", err)
		}
		log.Info().Str("mode", appcfg.BlobModeS3).Str("summary", cfg.S3.DiagnosticsSummary()).Msg("blob mode forced to s3")
		return store, appcfg.BlobModeS3, nil

	default:
		return nil, "", fmt.Errorf("unsupported blob mode: %s", mode)
	}
}

func newS3(ctx context.Context, c appcfg.S3Config) (*S3Store, error) {
	publicURL := ""
	if c.PreferPublicURL {
		publicURL = c.PublicBaseURL
	}
	return NewS3Store(ctx, c.Endpoint, c.Region, c.Bucket, c.AccessKeyID, c.SecretAccessKey, publicURL)
}
