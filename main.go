package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alertapp "landslide-cloud/internal/alerts/application"
	alertrepo "landslide-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "landslide-cloud/internal/alerts/interfaces/http"
	"landslide-cloud/internal/auth"
	masterdatarepo "landslide-cloud/internal/masterdata/infrastructure/postgres"
	"landslide-cloud/internal/observability/logging"
	"landslide-cloud/internal/observability/metrics"
	"landslide-cloud/internal/observability/tracing"
	telemetrypostgres "landslide-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "landslide-cloud/internal/telemetry/interfaces/http"
)

var version = "dev"

func main() {
	logging.Init(os.Getenv("LOG_LEVEL"))
	logger := logging.WithComponent("main")
	cfg := loadConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing init error")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open error")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("db ping error")
	}

	metrics.Init()

	limits, err := alertapp.LoadLimits()
	if err != nil {
		logger.Fatal().Err(err).Msg("replay limits error")
	}

	ruleRepo := alertrepo.NewRuleVersionRepository(db)
	deviceRepo := masterdatarepo.NewDeviceRepository(db)
	telemetryRepo := telemetrypostgres.NewTelemetryRepository(db)
	telemetryQuery := telemetrypostgres.NewTelemetryQuery(db)

	replayService, err := alertapp.NewReplayService(ruleRepo, deviceRepo, telemetryQuery,
		alertapp.WithLimits(limits),
		alertapp.WithLogger(logging.WithComponent("replay")),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("replay service error")
	}
	replayHandler, err := alerthttp.NewHandler(replayService, logging.WithComponent("replay_http"))
	if err != nil {
		logger.Fatal().Err(err).Msg("replay handler error")
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(telemetryRepo, logging.WithComponent("telemetry_ingest"))
	if err != nil {
		logger.Fatal().Err(err).Msg("ingest handler error")
	}

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy(
		[]string{"/healthz", "/metrics"},
		nil,
	))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(next, logging.WithComponent("http")) })
	r.Use(authMiddleware.Wrap)
	replayHandler.Register(r)
	ingestHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown error")
		}
	}()

	logger.Info().
		Str("addr", cfg.HTTPAddr).
		Int("max_range_hours", limits.MaxRangeHours).
		Int("max_devices", limits.MaxDevices).
		Int("max_rows", limits.MaxRows).
		Msg("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server error")
	}
	logger.Info().Msg("http server stopped")
}

type config struct {
	DatabaseURL     string
	HTTPAddr        string
	JWTSecret       string
	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

func loadConfig(logger zerolog.Logger) config {
	cfg := config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		OTLPEndpoint:    getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
