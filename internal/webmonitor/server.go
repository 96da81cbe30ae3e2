package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/httprate"

	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/logger"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
	"github.com/dj-oyu/street-safety-monitor/internal/webrtc"
)

// Server serves the dashboard, the upload API and the live streams.
type Server struct {
	cfg     config.Config
	store   *session.Store
	caps    vision.Capabilities
	metrics *metrics.Metrics
	rtc     *webrtc.Server

	monitor   *Monitor
	jobs      *JobManager
	frames    *FrameBroadcaster
	status    *StatusBroadcaster
	hub       *AlertHub
	alertsOut *AlertBroadcaster

	closeOnce sync.Once
}

// NewServer wires the broadcasters into the runner and starts them. Jobs
// started by the server stop when ctx is cancelled.
func NewServer(ctx context.Context, opts Options) *Server {
	opts.applyDefaults()

	s := &Server{
		cfg:     opts.Config,
		store:   opts.Store,
		caps:    opts.Capabilities,
		metrics: opts.Metrics,
		rtc:     opts.WebRTC,
		monitor: NewMonitor(),
	}

	s.frames = NewFrameBroadcaster(opts.Runner.Renderer().EncodeJPEG, s.metrics)
	s.status = NewStatusBroadcaster(func() any { return s.statusPayload() }, s.cfg.Server.StatusInterval, s.metrics)
	s.hub = NewAlertHub(s.alertSnapshot, s.metrics)
	s.alertsOut = NewAlertBroadcaster(s.hub, s.rtc)

	s.jobs = NewJobManager(ctx, opts.Runner, opts.OpenSource, s.store, s.metrics)
	s.jobs.onDone = func(JobStatus) { s.status.Notify() }

	opts.Runner.AddSink(s.monitor)
	opts.Runner.AddSink(s.frames)
	opts.Runner.AddSink(s.alertsOut)
	opts.Runner.AddSink(pipeline.SinkFunc(func(res pipeline.FrameResult) {
		if len(res.Alerts) > 0 {
			s.status.Notify()
		}
	}))

	if s.rtc != nil {
		s.rtc.OnClientCount = func(n int) { s.metrics.WebRTCClients.Store(int64(n)) }
	}

	s.frames.Start()
	s.status.Start()
	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	uploadLimit := httprate.Limit(
		s.cfg.Server.UploadsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			s.metrics.UploadsDenied.Add(1)
			writeJSONWithStatus(w, map[string]any{"error": "too many uploads, try again later"}, http.StatusTooManyRequests)
		}),
	)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", newAssetHandler()))
	mux.Handle("POST /api/upload", uploadLimit(http.HandlerFunc(s.handleUpload)))
	mux.Handle("GET /stream", s.frames)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/capabilities", s.handleCapabilities)
	mux.Handle("GET /ws/alerts", s.hub)
	mux.HandleFunc("POST /api/webrtc/offer", s.handleWebRTCOffer)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// Close stops the broadcasters and disconnects streaming clients, then waits
// for the running job. Cancel the context given to NewServer first.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.status.Stop()
		s.hub.Close()
		s.frames.Stop()
		s.jobs.Wait()
	})
}

// Jobs returns the job manager.
func (s *Server) Jobs() *JobManager { return s.jobs }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.caps.DecodingAvailable() {
		writeJSONWithStatus(w, map[string]any{"error": "no video decoder available"}, http.StatusServiceUnavailable)
		return
	}
	if s.jobs.Busy() {
		s.metrics.UploadsDenied.Add(1)
		writeJSONWithStatus(w, map[string]any{"error": ErrBusy.Error()}, http.StatusConflict)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxUploadMB)<<20)
	file, header, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONWithStatus(w, map[string]any{
				"error": fmt.Sprintf("file exceeds %d MB", s.cfg.Server.MaxUploadMB),
			}, http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": "missing video file"}, http.StatusBadRequest)
		return
	}
	defer file.Close()
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	name := filepath.Base(header.Filename)
	if !s.cfg.Server.AllowsExtension(name) {
		writeJSONWithStatus(w, map[string]any{
			"error": "unsupported file type, allowed: " + strings.Join(s.cfg.Server.AllowedExtensions, ", "),
		}, http.StatusBadRequest)
		return
	}

	path, err := s.spool(file, filepath.Ext(name))
	if err != nil {
		logger.Error("Upload", "spool %q: %v", name, err)
		writeJSONWithStatus(w, map[string]any{"error": "failed to store upload"}, http.StatusInternalServerError)
		return
	}

	status, err := s.jobs.Start(path, name)
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrBusy) {
			s.metrics.UploadsDenied.Add(1)
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	s.status.Notify()
	writeJSONWithStatus(w, map[string]any{
		"job_id": status.ID,
		"job":    status,
	}, http.StatusAccepted)
}

// spool copies an upload to a temp file and returns its path.
func (s *Server) spool(src io.Reader, ext string) (string, error) {
	tmp, err := os.CreateTemp(s.cfg.Server.UploadDir, "upload-*"+strings.ToLower(ext))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.frames.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) statusPayload() StatusPayload {
	snap := s.store.Snapshot()
	feed := snap.Alerts
	if len(feed) > s.cfg.Server.FeedSize {
		feed = feed[:s.cfg.Server.FeedSize]
	}
	return StatusPayload{
		Stats:         snap.Stats,
		Feed:          newAlertViews(feed),
		FrameIndex:    snap.FrameIndex,
		Monitor:       s.monitor.Snapshot(),
		Job:           s.jobs.Status(),
		Capabilities:  s.caps,
		StrictPrivacy: s.cfg.Vision.StrictPrivacy,
		Timestamp:     float64(time.Now().UnixMilli()) / 1000,
	}
}

func (s *Server) alertSnapshot() AlertEvent {
	snap := s.store.Snapshot()
	feed := snap.Alerts
	if len(feed) > s.cfg.Server.FeedSize {
		feed = feed[:s.cfg.Server.FeedSize]
	}
	return AlertEvent{
		Type:   "snapshot",
		Feed:   newAlertViews(feed),
		Stats:  &snap.Stats,
		SentAt: time.Now(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamStatusEventsFromChannel(r.Context(), w, eventCh, useProtobuf)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"alerts": newAlertViews(s.store.Feed(-1)),
		"stats":  s.store.Stats(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.store.Reset()
	s.monitor.Reset()
	s.frames.Reset()
	s.alertsOut.SendReset()
	s.status.Notify()
	logger.Info("Server", "session reset")
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, CapabilitiesPayload{
		Capabilities:  s.caps,
		WebRTC:        s.rtc != nil,
		StrictPrivacy: s.cfg.Vision.StrictPrivacy,
	})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.rtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.rtc.HandleOffer(body)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, webrtc.ErrTooManyClients) {
			code = http.StatusServiceUnavailable
		}
		logger.Debug("Server", "webrtc offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"job":    s.jobs.Status().State,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
