package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"order-mailer/pkg/config"
)

// Metrics groups the collectors the reconciliation engine reports to.
type Metrics struct {
	Cycles          *prometheus.CounterVec
	ItemsSelected   *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	MissingDocs     prometheus.Counter
	CycleDuration   prometheus.Histogram
	DispatchLatency *prometheus.HistogramVec
	RetryCooldown   prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_cycles_total",
			Help: "Reconciliation cycles by result",
		}, []string{"result"}), // result: completed, connect_failed, busy

		ItemsSelected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_items_selected_total",
			Help: "Work items selected by reason",
		}, []string{"reason"}),

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Committed outcomes by reason and outcome",
		}, []string{"reason", "outcome"}),

		MissingDocs: f.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_missing_documents_total",
			Help: "Candidate orders skipped because no document was found",
		}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_cycle_duration_seconds",
			Help:    "Duration of a reconciliation cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		DispatchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconcile_dispatch_duration_seconds",
			Help:    "Duration of a single mail dispatch.",
			Buckets: prometheus.LinearBuckets(0.1, 0.5, 10),
		}, []string{"outcome"}),

		RetryCooldown: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_retry_cooldown_seconds",
			Help:    "Suggested cooldown before the next attempt after a failed dispatch.",
			Buckets: []float64{2, 5, 10, 20, 30, 60},
		}),

		registry: reg,
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is used by tests to read collected values.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NewLogger creates the structured logger: JSON to stdout and, when a file is
// configured, to a size-rotated log file as well.
func NewLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(handler), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
