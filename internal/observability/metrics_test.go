package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"layering-detector/internal/detection"
)

var _ detection.Recorder = (*Metrics)(nil)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "")

	m.RecordEventsLoaded(25)
	m.RecordGroupEvaluated()
	m.RecordGroupEvaluated()
	m.RecordDetection("layering")
	m.RecordAlert("kafka", nil)
	m.RecordAlert("kafka", errors.New("broker down"))
	m.RecordHTTPRequest("/health", 200)

	assert.Equal(t, 25.0, testutil.ToFloat64(m.EventsLoaded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GroupsEvaluated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Detections.WithLabelValues("layering")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsPublished.WithLabelValues("kafka", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsPublished.WithLabelValues("kafka", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/health", "200")))
}

func TestMetrics_PipelineRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")

	m.RecordPipelineRun(true, 2*time.Second)
	m.RecordPipelineRun(false, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("failure")))
	assert.Greater(t, testutil.ToFloat64(m.LastSuccessfulRun), 0.0)
}

func TestHandlerFor_ExposesNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "")
	m.RecordDetection("always_suspicious")

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `layering_detector_detection_detections_total{reason="always_suspicious"} 1`)
}
