package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertCounterByLevel(t *testing.T) {
	m := New()
	m.ObserveAlert("high")
	m.ObserveAlert("high")
	m.ObserveAlert("low")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alerts.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("low")))
}

func TestDetectorGauge(t *testing.T) {
	m := New()
	m.SetDetectorStatus(true, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detector.WithLabelValues("body")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.detector.WithLabelValues("face")))
}

func TestHandlerExposesFrameMetrics(t *testing.T) {
	m := New()
	m.ObserveFrame(3, 61000, 2*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "safety_frames_processed_total 1")
	assert.Contains(t, text, "safety_people_in_frame 3")
	assert.Contains(t, text, "safety_motion_pixels 61000")
	assert.Contains(t, text, "safety_process_latency_us 2000")
}
