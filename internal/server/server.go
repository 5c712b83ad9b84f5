package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nholik/relay-sentinel/internal/healthcheck"
	"github.com/nholik/relay-sentinel/internal/metrics"
	"github.com/nholik/relay-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Config selects which endpoints are served and where. PassBudget widens the
// /healthz staleness window for passes slower than the poll interval.
type Config struct {
	PollInterval time.Duration
	PassBudget   time.Duration
	HealthPort   int
	MetricsPort  int
	Tracker      *healthcheck.Tracker
	Metrics      *metrics.Metrics
	// LastReport backs /report on the health listener; optional.
	LastReport func() (watchdog.Report, bool)
}

// Start launches health and metrics HTTP servers as configured. Servers shut
// down when ctx is canceled.
func Start(ctx context.Context, logger zerolog.Logger, cfg Config) {
	if cfg.HealthPort == 0 && cfg.MetricsPort == 0 {
		return
	}

	if cfg.HealthPort > 0 && cfg.MetricsPort > 0 && cfg.HealthPort == cfg.MetricsPort {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, cfg)
		registerMetricsRoute(mux, cfg.Metrics)
		startServer(ctx, logger, mux, cfg.HealthPort, "health/metrics")
		return
	}

	if cfg.HealthPort > 0 {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, cfg)
		startServer(ctx, logger, mux, cfg.HealthPort, "health")
	}

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, cfg.Metrics)
		startServer(ctx, logger, mux, cfg.MetricsPort, "metrics")
	}
}

func registerHealthRoutes(mux *http.ServeMux, cfg Config) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(cfg.Tracker, cfg.PollInterval, cfg.PassBudget))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(cfg.Tracker))
	mux.HandleFunc("/report", healthcheck.ReportHandler(cfg.LastReport))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
