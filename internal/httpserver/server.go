package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carelink/agent-portal/internal/aggregation"
	"github.com/carelink/agent-portal/internal/audit"
	"github.com/carelink/agent-portal/internal/auth"
	"github.com/carelink/agent-portal/internal/blob"
	"github.com/carelink/agent-portal/internal/config"
	"github.com/carelink/agent-portal/internal/dispatch"
	"github.com/carelink/agent-portal/internal/export"
	"github.com/carelink/agent-portal/internal/httpjson"
	"github.com/carelink/agent-portal/internal/mailer"
	"github.com/carelink/agent-portal/internal/metrics"
	"github.com/carelink/agent-portal/internal/notifications"
	"github.com/carelink/agent-portal/internal/reports"
	"github.com/carelink/agent-portal/internal/schedules"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/carelink/agent-portal/internal/storage/memory"
	"github.com/carelink/agent-portal/internal/storage/postgres"
	"github.com/carelink/agent-portal/internal/templates"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	metricsNamespace = "agent_portal"
	shutdownTimeout  = 30 * time.Second
)

// Server wires storage, services and routes of the reporting API.
type Server struct {
	config   *config.Config
	logger   zerolog.Logger
	mux      *http.ServeMux
	storage  storage.Store
	blob     blob.Store
	blobMode string
	sender   mailer.Sender
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	authMiddleware *auth.Middleware
	reports        *reports.Service
	schedules      *schedules.Service
	exports        *export.Service
	dispatcher     *dispatch.Scheduler
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*Server)

// WithStorage uses st instead of connecting from DATABASE_URL.
func WithStorage(st storage.Store) Option {
	return func(s *Server) { s.storage = st }
}

// WithSender uses sender instead of EMAIL_SENDER_MODE.
func WithSender(sender mailer.Sender) Option {
	return func(s *Server) { s.sender = sender }
}

// New builds the server. Storage falls back to memory when Postgres is unreachable;
// an incomplete S3 setup in s3 mode is an error.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		config:   cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(metricsNamespace, s.registry)

	if s.storage == nil {
		s.initStorage(ctx)
	}

	var err error
	s.blob, s.blobMode, err = blob.NewBlobStore(ctx, cfg.Blob, logger)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	if s.sender == nil {
		s.sender, err = mailer.NewSenderFromConfig(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("init mailer: %w", err)
		}
	}

	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

// initStorage connects to Postgres when DATABASE_URL is set, otherwise keeps
// everything in memory.
func (s *Server) initStorage(ctx context.Context) {
	if s.config.DatabaseURL == "" {
		s.logger.Info().Str("storage", "memory").Msg("using in-memory storage")
		s.storage = memory.New()
		return
	}

	pg, err := postgres.New(ctx, s.config.DatabaseURL)
	if err != nil {
		s.logger.Error().Err(err).Msg("postgres connection failed, fallback to in-memory storage")
		s.storage = memory.New()
		return
	}
	s.logger.Info().Str("storage", "postgres").Msg("connected to postgres")
	s.storage = pg
}

func (s *Server) routes() error {
	cfg := s.config
	st := s.storage

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Auth
	authService := auth.NewService(cfg)
	s.authMiddleware = auth.NewMiddleware(cfg, authService, s.logger)
	s.mux.HandleFunc("POST /v1/auth/dev", auth.NewHandlers(authService).HandleDevAuth)

	// Shared collaborators
	recorder := audit.NewRecorder(st.GetAuditStorage(), s.logger)
	notifier := notifications.NewService(st.GetNotificationsStorage(), st.GetDataStore(), s.sender, s.logger)
	serializer := export.NewSerializer(export.NewRenderer(cfg.PDFRenderer), s.metrics)
	templatesService := templates.NewService(st.GetTemplatesStorage(), recorder)

	// Templates
	templatesHandler := templates.NewHandler(templatesService)
	s.mux.HandleFunc("POST /v1/templates", templatesHandler.HandleCreate)
	s.mux.HandleFunc("GET /v1/templates", templatesHandler.HandleList)
	s.mux.HandleFunc("POST /v1/templates/validate", templatesHandler.HandleValidate)
	s.mux.HandleFunc("GET /v1/templates/section-types", templatesHandler.HandleSectionTypes)
	s.mux.HandleFunc("GET /v1/templates/{id}", templatesHandler.HandleGet)
	s.mux.HandleFunc("PATCH /v1/templates/{id}", templatesHandler.HandleUpdate)
	s.mux.HandleFunc("DELETE /v1/templates/{id}", templatesHandler.HandleDelete)
	s.mux.HandleFunc("POST /v1/templates/{id}/duplicate", templatesHandler.HandleDuplicate)
	s.mux.HandleFunc("GET /v1/templates/{id}/preview", templatesHandler.HandlePreview)

	// Reports
	s.reports = reports.NewService(reports.Deps{
		Reports:    st.GetReportsStorage(),
		Schedules:  st.GetSchedulesStorage(),
		Builder:    aggregation.NewBuilder(st.GetDataStore(), cfg.ExportChunkSize),
		Templates:  templatesService,
		Serializer: serializer,
		Blob:       s.blob,
		Notifier:   notifier,
		Audit:      recorder,
		Metrics:    s.metrics,
		Logger:     s.logger,
	}, reports.Options{
		MaxRangeDays:      cfg.ReportsMaxRangeDays,
		GenerationTimeout: time.Duration(cfg.GenerationTimeoutSeconds) * time.Second,
		PresignTTLSeconds: cfg.Blob.S3.PresignTTLSeconds,
	})
	reportsHandler := reports.NewHandlers(s.reports)
	s.mux.HandleFunc("POST /v1/reports", reportsHandler.HandleCreate)
	s.mux.HandleFunc("GET /v1/reports", reportsHandler.HandleList)
	s.mux.HandleFunc("GET /v1/reports/{id}", reportsHandler.HandleGet)
	s.mux.HandleFunc("POST /v1/reports/{id}/cancel", reportsHandler.HandleCancel)
	s.mux.HandleFunc("GET /v1/reports/{id}/download", reportsHandler.HandleDownload)

	// Schedules
	s.schedules = schedules.NewService(schedules.Deps{
		Schedules: st.GetSchedulesStorage(),
		Reports:   st.GetReportsStorage(),
		Generator: s.reports,
		Notifier:  notifier,
		Audit:     recorder,
		Metrics:   s.metrics,
		Logger:    s.logger,
		BatchSize: cfg.SchedulerBatchSize,
	})
	schedulesHandler := schedules.NewHandlers(s.schedules)
	s.mux.HandleFunc("POST /v1/schedules", schedulesHandler.HandleCreate)
	s.mux.HandleFunc("GET /v1/schedules", schedulesHandler.HandleList)
	s.mux.HandleFunc("GET /v1/schedules/{id}", schedulesHandler.HandleGet)
	s.mux.HandleFunc("PATCH /v1/schedules/{id}", schedulesHandler.HandleUpdate)
	s.mux.HandleFunc("DELETE /v1/schedules/{id}", schedulesHandler.HandleCancel)
	s.mux.HandleFunc("POST /v1/schedules/{id}/run", schedulesHandler.HandleRunNow)

	if cfg.SchedulerEnabled {
		d, err := dispatch.New(s.schedules, cfg.SchedulerCron, s.logger)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		s.dispatcher = d
	}

	// Exports
	s.exports = export.NewService(export.Deps{
		Jobs:              st.GetExportsStorage(),
		Data:              st.GetDataStore(),
		Serializer:        serializer,
		Blob:              s.blob,
		Notifier:          notifier,
		Audit:             recorder,
		Metrics:           s.metrics,
		Logger:            s.logger,
		ChunkSize:         cfg.ExportChunkSize,
		MaxRows:           cfg.ExportMaxRows,
		PresignTTLSeconds: cfg.Blob.S3.PresignTTLSeconds,
	})
	exportsHandler := export.NewHandlers(s.exports)
	s.mux.HandleFunc("POST /v1/exports", exportsHandler.HandleExport)
	s.mux.HandleFunc("GET /v1/exports", exportsHandler.HandleList)
	s.mux.HandleFunc("GET /v1/exports/{id}", exportsHandler.HandleGet)
	s.mux.HandleFunc("GET /v1/exports/{id}/download", exportsHandler.HandleDownload)

	// Notifications
	notificationsHandler := notifications.NewHandler(notifier)
	s.mux.HandleFunc("GET /v1/notifications", notificationsHandler.HandleList)
	s.mux.HandleFunc("GET /v1/notifications/unread-count", notificationsHandler.HandleUnreadCount)
	s.mux.HandleFunc("POST /v1/notifications/mark-read", notificationsHandler.HandleMarkRead)

	// Audit
	s.mux.HandleFunc("GET /v1/audit", audit.NewHandler(st.GetAuditStorage()).HandleList)

	return nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Storage   string `json:"storage"`
	Blob      string `json:"blob"`
	Scheduler bool   `json:"scheduler"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	kind := "memory"
	if _, ok := s.storage.(*postgres.PostgresStorage); ok {
		kind = "postgres"
	}
	httpjson.Write(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Storage:   kind,
		Blob:      s.blobMode,
		Scheduler: s.dispatcher != nil,
	})
}

// Handler returns the router behind the middleware chain, outermost first:
// CORS, rate limit, request logger, auth.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.authMiddleware.Wrap(handler)
	handler = RequestLogger(s.logger, s.metrics, handler)
	handler = RateLimitMiddleware(s.config, handler)
	handler = CORSMiddleware(s.config, handler)
	return handler
}

// Run serves HTTP and the schedule dispatcher until ctx is cancelled, then
// drains in-flight requests and report workers.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Start(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Str("health", "/healthz").Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("http shutdown")
	}
	if err := s.reports.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("report workers did not drain")
	}
	return nil
}

// Close releases storage resources.
func (s *Server) Close() error {
	if s.storage != nil {
		return s.storage.Close()
	}
	return nil
}

// Schedules exposes the schedule service for out-of-band dispatch runs.
func (s *Server) Schedules() *schedules.Service { return s.schedules }

// Reports exposes the report service so callers can drain its workers.
func (s *Server) Reports() *reports.Service { return s.reports }
