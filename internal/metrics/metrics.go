package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesProcessed atomic.Uint64
	FramesWithheld  atomic.Uint64
	DecodeErrors    atomic.Uint64
	FacesBlurred    atomic.Uint64
	SinkDrops       atomic.Uint64

	// Jobs
	JobsStarted   atomic.Uint64
	JobsCompleted atomic.Uint64
	JobsFailed    atomic.Uint64
	JobActive     atomic.Uint64 // 0 = idle, 1 = running
	UploadsDenied atomic.Uint64

	// Last frame
	PeopleInFrame    atomic.Uint64
	MotionPixels     atomic.Uint64
	ProcessLatencyUs atomic.Uint64

	// Connected clients
	StreamClients    atomic.Int64
	WebSocketClients atomic.Int64
	WebRTCClients    atomic.Int64

	alerts   *prometheus.CounterVec
	detector *prometheus.GaugeVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_alerts_total",
			Help: "Alerts raised, by level",
		}, []string{"level"}),
		detector: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safety_detector_enabled",
			Help: "Detector model availability (1=loaded, 0=disabled)",
		}, []string{"model"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) counter(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn))
}

func loadU(v *atomic.Uint64) func() float64 { return func() float64 { return float64(v.Load()) } }
func loadI(v *atomic.Int64) func() float64  { return func() float64 { return float64(v.Load()) } }

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.alerts, m.detector)

	// Frame processing metrics
	m.counter("safety_frames_processed_total", "Total frames run through the pipeline", loadU(&m.FramesProcessed))
	m.counter("safety_frames_withheld_total", "Frames withheld from display sinks by strict privacy", loadU(&m.FramesWithheld))
	m.counter("safety_decode_errors_total", "Total decode errors that ended a job", loadU(&m.DecodeErrors))
	m.counter("safety_faces_blurred_total", "Total face regions anonymized", loadU(&m.FacesBlurred))
	m.counter("safety_sink_drops_total", "Frames or events dropped for slow clients", loadU(&m.SinkDrops))

	// Job metrics
	m.counter("safety_jobs_started_total", "Analysis jobs started", loadU(&m.JobsStarted))
	m.counter("safety_jobs_completed_total", "Analysis jobs that reached end of input", loadU(&m.JobsCompleted))
	m.counter("safety_jobs_failed_total", "Analysis jobs that ended with an error", loadU(&m.JobsFailed))
	m.counter("safety_uploads_rejected_total", "Uploads rejected while a job was running", loadU(&m.UploadsDenied))
	m.gauge("safety_job_active", "Job running (0=idle, 1=running)", loadU(&m.JobActive))

	// Last frame
	m.gauge("safety_people_in_frame", "People detected in the last frame", loadU(&m.PeopleInFrame))
	m.gauge("safety_motion_pixels", "Changed pixels between the last two frames", loadU(&m.MotionPixels))
	m.gauge("safety_process_latency_us", "Processing time of the last frame in microseconds", loadU(&m.ProcessLatencyUs))

	// Client metrics
	m.gauge("safety_stream_clients", "Connected MJPEG and SSE clients", loadI(&m.StreamClients))
	m.gauge("safety_websocket_clients", "Connected WebSocket alert clients", loadI(&m.WebSocketClients))
	m.gauge("safety_webrtc_clients", "Connected WebRTC alert peers", loadI(&m.WebRTCClients))
}

// ObserveAlert counts one alert of the given level.
func (m *Metrics) ObserveAlert(level string) {
	m.alerts.WithLabelValues(level).Inc()
}

// SetDetectorStatus exports which cascade models are loaded.
func (m *Metrics) SetDetectorStatus(bodies, faces bool) {
	m.detector.WithLabelValues("body").Set(boolToFloat(bodies))
	m.detector.WithLabelValues("face").Set(boolToFloat(faces))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ObserveFrame records the per-frame gauges.
func (m *Metrics) ObserveFrame(people int, motion float64, took time.Duration) {
	m.FramesProcessed.Add(1)
	m.PeopleInFrame.Store(uint64(people))
	m.MotionPixels.Store(uint64(motion))
	m.ProcessLatencyUs.Store(uint64(took.Microseconds()))
}

// Registry exposes the private registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the listener fails.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
