package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of network requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Number of network requests",
	}, []string{"component", "operation", "target", "status"})

	HighlightRecordsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "highlight_records_written_total",
		Help: "Highlight records written by the ranking job",
	}, []string{"kind"})

	HighlightKeysFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "highlight_keys_failed_total",
		Help: "Ranking keys that failed and were skipped",
	}, []string{"kind"})

	RetentionRewards = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_rewards_total",
		Help: "Retention reward outcomes",
	}, []string{"kind", "outcome"})

	LedgerConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_conflicts_total",
		Help: "Optimistic version conflicts in the ledger",
	}, []string{"operation"})

	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_runs_total",
		Help: "Scheduled job runs",
	}, []string{"job", "status"})

	JobRunSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_run_seconds",
		Help:    "Duration of scheduled job runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		HighlightRecordsWritten,
		HighlightKeysFailed,
		RetentionRewards,
		LedgerConflicts,
		JobRuns,
		JobRunSeconds,
	)
}

// StartServer serves /metrics until ctx is cancelled.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest records the duration and status of a network call.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveJobRun records one job run.
func ObserveJobRun(job string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobRuns.WithLabelValues(job, status).Inc()
	JobRunSeconds.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// IncHighlightsWritten adds n written records of kind.
func IncHighlightsWritten(kind string, n int) {
	if n > 0 {
		HighlightRecordsWritten.WithLabelValues(kind).Add(float64(n))
	}
}

// IncHighlightKeyFailed counts a skipped ranking key.
func IncHighlightKeyFailed(kind string) {
	HighlightKeysFailed.WithLabelValues(kind).Inc()
}

// IncRetentionReward counts a retention grant outcome.
func IncRetentionReward(kind, outcome string) {
	RetentionRewards.WithLabelValues(kind, outcome).Inc()
}

// IncLedgerConflict counts an optimistic version conflict.
func IncLedgerConflict(operation string) {
	LedgerConflicts.WithLabelValues(operation).Inc()
}
