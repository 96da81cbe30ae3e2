package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/logger"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
	"github.com/dj-oyu/street-safety-monitor/internal/webmonitor"
	"github.com/dj-oyu/street-safety-monitor/internal/webrtc"
)

var (
	// Command-line flags. Only flags given explicitly override the config.
	httpAddr      = flag.String("http", ":8080", "HTTP server address")
	configPath    = flag.String("config", "", "YAML config file")
	cascadeDir    = flag.String("cascade-dir", "", "Directory holding the Haar cascade XML files")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor      = flag.Bool("log-color", true, "Enable colored log output")
	strictPrivacy = flag.Bool("strict-privacy", false, "Withhold frames when faces cannot be anonymized")
	maxUploadMB   = flag.Int("max-upload-mb", 512, "Maximum upload size in MB")
	pprofAddr     = flag.String("pprof", "", "pprof server address (disabled when empty)")
	maxClients    = flag.Int("max-clients", 10, "Maximum WebRTC alert peers")
	stunServers   = flag.String("stun", "", "STUN server URLs (comma-separated)")
)

// app owns the long-lived components of the web monitor.
type app struct {
	cancel     context.CancelFunc
	detector   vision.Detector
	webrtc     *webrtc.Server
	monitor    *webmonitor.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Street safety monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	a := newApp(cfg)
	if err := a.start(); err != nil {
		logger.Error("Main", "Failed to start: %v", err)
		os.Exit(1)
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("Main", "sd_notify: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := a.shutdown(); err != nil {
		logger.Warn("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// loadConfig layers defaults, the config file, the environment and the
// flags that were set on the command line.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.Server.Addr = *httpAddr
		case "cascade-dir":
			cfg.Vision.CascadeDir = *cascadeDir
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		case "strict-privacy":
			cfg.Vision.StrictPrivacy = *strictPrivacy
		case "max-upload-mb":
			cfg.Server.MaxUploadMB = *maxUploadMB
		}
	})

	if *maxClients <= 0 {
		return cfg, errors.New("-max-clients must be positive")
	}
	return cfg, cfg.Validate()
}

func newApp(cfg config.Config) *app {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()

	detector := vision.NewCascadeDetector(cfg.Vision)
	status := detector.Status()
	m.SetDetectorStatus(status.BodiesEnabled, status.FacesEnabled)

	caps := vision.DetectCapabilities(cfg.Vision, detector)
	logCapabilities(caps)

	store := session.NewStore(cfg.Session.AlertCap)
	runner := pipeline.NewRunner(pipeline.Options{
		Store:    store,
		Detector: detector,
		Policy:   alerts.NewPolicy(cfg.Policy),
		Vision:   cfg.Vision,
		Metrics:  m,
	})

	var rtc *webrtc.Server
	if cfg.Server.WebRTC {
		rtc = webrtc.NewServer(splitList(*stunServers), *maxClients)
	}

	monitor := webmonitor.NewServer(ctx, webmonitor.Options{
		Config:       cfg,
		Store:        store,
		Runner:       runner,
		Capabilities: caps,
		Metrics:      m,
		WebRTC:       rtc,
	})

	return &app{
		cancel:   cancel,
		detector: detector,
		webrtc:   rtc,
		monitor:  monitor,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           monitor.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (a *app) start() error {
	logger.Info("Main", "Web monitor listening on %s", a.httpServer.Addr)

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Surface bind errors before reporting ready
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

func (a *app) shutdown() error {
	// Stop the running job, then release streaming clients
	a.cancel()
	a.monitor.Close()

	var errs []error
	if a.webrtc != nil {
		errs = append(errs, a.webrtc.Close())
	}
	errs = append(errs, a.detector.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		// MJPEG viewers never go idle on their own
		errs = append(errs, err, a.httpServer.Close())
	}
	return errors.Join(errs...)
}

func logCapabilities(caps vision.Capabilities) {
	logger.Info("Main", "Detector: %s (bodies=%v faces=%v)",
		caps.Detector.Backend, caps.Detector.BodiesEnabled, caps.Detector.FacesEnabled)
	if caps.Detector.Degraded() {
		logger.Warn("Main", "Detection limited: %s", caps.Detector.Reason)
	}
	if caps.DecodingAvailable() {
		logger.Info("Main", "Decoders: %s", strings.Join(caps.Decoders, ", "))
	} else {
		logger.Warn("Main", "No video decoder available: install ffmpeg or rebuild with -tags opencv")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
