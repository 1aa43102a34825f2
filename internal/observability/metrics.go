// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "layering_detector"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsLoaded prometheus.Counter

	// Detection metrics
	GroupsEvaluated   prometheus.Counter
	Detections        *prometheus.CounterVec
	DetectionDuration prometheus.Histogram

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram

	// Delivery metrics
	AlertsPublished *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a Metrics instance registered with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_loaded_total",
			Help:      "Total number of market events loaded",
		}),

		GroupsEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "groups_evaluated_total",
			Help:      "Total number of (account, product) groups evaluated",
		}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "detections_total",
			Help:      "Total number of detection records by reason",
		}, []string{"reason"}),
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "detection_duration_seconds",
			Help:      "Time spent running the detection engine",
			Buckets:   prometheus.DefBuckets,
		}),

		PipelineRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"status"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Duration of pipeline runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		AlertsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_published_total",
			Help:      "Total number of detection alerts published by sink and status",
		}, []string{"sink", "status"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),

		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful pipeline run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler exposing the metrics of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordGroupEvaluated implements detection.Recorder.
func (m *Metrics) RecordGroupEvaluated() {
	m.GroupsEvaluated.Inc()
}

// RecordDetection implements detection.Recorder.
func (m *Metrics) RecordDetection(reason string) {
	m.Detections.WithLabelValues(reason).Inc()
}

// RecordEventsLoaded adds n to the loaded events counter.
func (m *Metrics) RecordEventsLoaded(n int) {
	m.EventsLoaded.Add(float64(n))
}

// RecordDetectionDuration observes one engine pass.
func (m *Metrics) RecordDetectionDuration(d time.Duration) {
	m.DetectionDuration.Observe(d.Seconds())
}

// RecordPipelineRun records a pipeline run completion.
func (m *Metrics) RecordPipelineRun(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(duration.Seconds())
	if success {
		m.LastSuccessfulRun.SetToCurrentTime()
	}
}

// RecordAlert records one publish attempt to sink.
func (m *Metrics) RecordAlert(sink string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.AlertsPublished.WithLabelValues(sink, status).Inc()
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
