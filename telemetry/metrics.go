// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesHandled  prometheus.Counter
	MessagesRejected prometheus.Counter
	UploadRuns       prometheus.Counter
	UploadsSucceeded prometheus.Counter
	UploadsFailed    prometheus.Counter

	// Histograms (seconds)
	ProcessDuration prometheus.Observer
	PublishDuration prometheus.Observer

	// Gauges
	HandshakeWaitingGauge prometheus.Gauge // 1 while a code/password request is open
	SessionRunningGauge   prometheus.Gauge // 1 when the persistent session is established
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "audiocast_messages_handled_total", Help: "Messages accepted from either transport"})
		MessagesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "audiocast_messages_rejected_total", Help: "Messages dropped by the allow-list gate"})
		UploadRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "audiocast_upload_runs_total", Help: "Pipeline runs started for processing conversations"})
		UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "audiocast_uploads_succeeded_total", Help: "Workflows published successfully"})
		UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "audiocast_uploads_failed_total", Help: "Workflows that failed in processing or publish"})
		ProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "audiocast_process_duration_seconds", Help: "Audio to video processing duration seconds", Buckets: prometheus.DefBuckets})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "audiocast_publish_duration_seconds", Help: "Publish (upload) duration seconds", Buckets: prometheus.DefBuckets})
		HandshakeWaitingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "audiocast_handshake_waiting", Help: "1 while the session handshake waits on a human"})
		SessionRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "audiocast_session_running", Help: "Persistent session established=1"})
	})
}

// SetHandshakeWaiting flags whether any credential request is currently open.
func SetHandshakeWaiting(waiting bool) {
	if HandshakeWaitingGauge != nil {
		if waiting {
			HandshakeWaitingGauge.Set(1)
		} else {
			HandshakeWaitingGauge.Set(0)
		}
	}
}

// SetSessionRunning flags whether the persistent session is established.
func SetSessionRunning(running bool) {
	if SessionRunningGauge != nil {
		if running {
			SessionRunningGauge.Set(1)
		} else {
			SessionRunningGauge.Set(0)
		}
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
