// Package telemetry exposes prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TimurManjosov/flagrules/internal/engine"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_evaluations_total",
			Help: "Feature evaluations by outcome reason",
		},
		[]string{"feature", "reason"},
	)
	ruleSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_saves_total",
			Help: "Rule-set save attempts by result",
		},
		[]string{"result"},
	)
	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook deliveries by event type and result",
		},
		[]string{"event", "result"},
	)

	// SnapshotFeatures is the number of features in the served snapshot.
	SnapshotFeatures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_features",
		Help: "Number of features currently in the in-memory snapshot",
	})
)

// Collectors returns every metric of this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{httpReqs, httpDur, evaluations, ruleSaves, webhookDeliveries, SnapshotFeatures}
}

// Init registers the metrics with the default registry.
func Init() {
	prometheus.MustRegister(Collectors()...)
}

// EvaluationRecorder counts evaluations per feature and reason.
type EvaluationRecorder struct{}

var _ engine.Recorder = EvaluationRecorder{}

// RecordEvaluation implements engine.Recorder.
func (EvaluationRecorder) RecordEvaluation(feature string, reason engine.Reason) {
	evaluations.WithLabelValues(feature, string(reason)).Inc()
}

// RecordRuleSave counts a save outcome: "ok", "invalid", "conflict" or "error".
func RecordRuleSave(result string) {
	ruleSaves.WithLabelValues(result).Inc()
}

// RecordWebhookDelivery counts a finished webhook delivery.
func RecordWebhookDelivery(event string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	webhookDeliveries.WithLabelValues(event, result).Inc()
}

// Middleware records request count and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// the pattern is only complete after routing ran
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
