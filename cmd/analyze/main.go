// Command analyze runs the detection pipeline over one video file and writes
// every alert to stdout as a JSON line, followed by a summary line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/logger"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
)

var (
	videoPath   = flag.String("video", "", "Video file to analyze (required)")
	configPath  = flag.String("config", "", "YAML config file")
	cascadeDir  = flag.String("cascade-dir", "", "Directory holding the Haar cascade XML files")
	metricsAddr = flag.String("metrics", "", "Metrics server address (disabled when empty)")
	logLevel    = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
)

// alertLine is one alert on stdout.
type alertLine struct {
	Kind string `json:"kind"`
	alerts.Alert
	Time string `json:"time"`
}

// summaryLine closes the output.
type summaryLine struct {
	Kind       string            `json:"kind"`
	Source     vision.SourceInfo `json:"source"`
	Frames     int               `json:"frames"`
	Alerts     int               `json:"alerts"`
	Stats      session.Stats     `json:"stats"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// jsonLinesSink writes each alert of a frame as one JSON object per line.
type jsonLinesSink struct {
	enc *json.Encoder
}

func newJSONLinesSink(w io.Writer) *jsonLinesSink {
	return &jsonLinesSink{enc: json.NewEncoder(w)}
}

func (s *jsonLinesSink) Publish(res pipeline.FrameResult) {
	for _, a := range res.Alerts {
		if err := s.enc.Encode(alertLine{Kind: "alert", Alert: a, Time: a.Clock()}); err != nil {
			logger.Error("Analyze", "write alert: %v", err)
		}
	}
}

func main() {
	flag.Parse()

	if *videoPath == "" {
		fmt.Fprintln(os.Stderr, "-video is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		if *cascadeDir != "" {
			cfg.Vision.CascadeDir = *cascadeDir
		}
		// stdout carries the results, so the log level comes from the flag only
		cfg.Log.Level = *logLevel
		cfg.Vision.Realtime = false
		err = cfg.Validate()
	}
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := m.StartServer(*metricsAddr); err != nil {
				logger.Warn("Main", "metrics server error: %v", err)
			}
		}()
	}

	detector := vision.NewCascadeDetector(cfg.Vision)
	defer detector.Close()
	status := detector.Status()
	m.SetDetectorStatus(status.BodiesEnabled, status.FacesEnabled)
	if status.Degraded() {
		logger.Warn("Main", "Detection limited: %s", status.Reason)
	}

	store := session.NewStore(cfg.Session.AlertCap)
	runner := pipeline.NewRunner(pipeline.Options{
		Store:    store,
		Detector: detector,
		Policy:   alerts.NewPolicy(cfg.Policy),
		Vision:   cfg.Vision,
		Metrics:  m,
	})

	open := func(ctx context.Context) (vision.Source, error) {
		return vision.OpenSource(ctx, *videoPath, cfg.Vision)
	}
	sum := analyze(ctx, runner, open, os.Stdout)
	if sum.Error != "" {
		logger.Warn("Main", "analysis ended early: %s", sum.Error)
	}
}

// analyze runs one source through runner and writes the alert and summary
// lines to w. Failures end up in the summary rather than the exit status.
func analyze(ctx context.Context, runner *pipeline.Runner, open func(context.Context) (vision.Source, error), w io.Writer) pipeline.Summary {
	runner.AddSink(newJSONLinesSink(w))

	var sum pipeline.Summary
	src, err := open(ctx)
	if err != nil {
		sum.Error = err.Error()
	} else {
		sum, _ = runner.Run(ctx, src)
		if cerr := src.Close(); cerr != nil {
			logger.Debug("Main", "close source: %v", cerr)
		}
	}

	line := summaryLine{
		Kind:       "summary",
		Source:     sum.Source,
		Frames:     sum.Frames,
		Alerts:     sum.Alerts,
		Stats:      sum.Stats,
		DurationMS: sum.Duration.Milliseconds(),
		Error:      sum.Error,
	}
	if err := json.NewEncoder(w).Encode(line); err != nil {
		logger.Error("Main", "write summary: %v", err)
	}
	return sum
}
