// Package pipeline runs decoded frames through detection, motion estimation,
// alerting, anonymization and rendering, and publishes the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/logger"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
)

// FrameResult is what sinks receive for each processed frame.
type FrameResult struct {
	Index  int
	PTS    time.Duration
	People int
	Faces  int
	Motion float64
	Rapid  bool
	Alerts []alerts.Alert
	Stats  session.Stats
	// Image is the anonymized, annotated frame. Nil when Withheld.
	Image    *image.RGBA
	Withheld bool
}

// Sink consumes frame results. Publish is called on the pipeline goroutine
// and must not block.
type Sink interface {
	Publish(res FrameResult)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(FrameResult)

func (f SinkFunc) Publish(res FrameResult) { f(res) }

// Summary describes a finished run.
type Summary struct {
	Source   vision.SourceInfo `json:"source"`
	Frames   int               `json:"frames"`
	Alerts   int               `json:"alerts"`
	Stats    session.Stats     `json:"stats"`
	Duration time.Duration     `json:"duration"`
	Error    string            `json:"error,omitempty"`
}

// Options wires a Runner.
type Options struct {
	Store    *session.Store
	Detector vision.Detector
	Policy   *alerts.Policy
	Vision   config.Vision
	Metrics  *metrics.Metrics
}

// Runner processes one source at a time against a shared session store.
type Runner struct {
	store    *session.Store
	detector vision.Detector
	policy   *alerts.Policy
	motion   *vision.MotionEstimator
	anon     *vision.Anonymizer
	render   *vision.Renderer
	metrics  *metrics.Metrics
	realtime bool
	withhold bool

	mu    sync.RWMutex
	sinks []Sink
}

// NewRunner builds a runner. A nil Metrics gets a private instance.
func NewRunner(opts Options) *Runner {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	status := opts.Detector.Status()
	r := &Runner{
		store:    opts.Store,
		detector: opts.Detector,
		policy:   opts.Policy,
		motion:   vision.NewMotionEstimator(opts.Vision.DiffThreshold),
		anon:     vision.NewAnonymizer(opts.Vision.BlurSigma),
		render:   vision.NewRenderer(opts.Policy.Config(), opts.Vision.Overlay, opts.Vision.JPEGQuality),
		metrics:  m,
		realtime: opts.Vision.Realtime,
		withhold: opts.Vision.StrictPrivacy && !status.FacesEnabled,
	}
	if r.withhold {
		logger.Warn("Pipeline", "face detection unavailable and strict privacy is on: display frames will be withheld")
	}
	return r
}

// AddSink registers a sink for all later frames.
func (r *Runner) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Renderer returns the renderer used for frame encoding.
func (r *Runner) Renderer() *vision.Renderer { return r.render }

// Run processes src until it is exhausted, fails, or ctx is cancelled.
// End of input returns a nil error. A decode error ends the run and is
// returned wrapped; the summary still covers the frames processed before it.
func (r *Runner) Run(ctx context.Context, src vision.Source) (Summary, error) {
	start := time.Now()
	sum := Summary{Source: src.Info()}
	finish := func(err error) (Summary, error) {
		sum.Stats = r.store.Stats()
		sum.Duration = time.Since(start)
		if err != nil {
			sum.Error = err.Error()
		}
		return sum, err
	}

	logger.Info("Pipeline", "run started: %s %dx%d @ %.2f fps",
		sum.Source.Backend, sum.Source.Width, sum.Source.Height, sum.Source.FPS)

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.metrics.DecodeErrors.Add(1)
			logger.Warn("Pipeline", "decode failed after %d frames: %v", sum.Frames, err)
			return finish(fmt.Errorf("decode frame %d: %w", sum.Frames+1, err))
		}

		if r.realtime {
			if err := pace(ctx, start, raw.PTS); err != nil {
				return finish(err)
			}
		}

		res := r.Process(raw)
		sum.Frames++
		sum.Alerts += len(res.Alerts)
		r.publish(res)
	}

	out, err := finish(nil)
	logger.Info("Pipeline", "run finished: %d frames, %d alerts in %s", out.Frames, out.Alerts, out.Duration.Round(time.Millisecond))
	return out, err
}

// Process runs one frame through the pipeline. raw is modified in place by
// face anonymization.
func (r *Runner) Process(raw *vision.Frame) FrameResult {
	began := time.Now()

	index := r.store.IncrementFrame()
	bodies := r.detector.DetectBodies(raw)
	motion := r.motion.Estimate(raw, r.store.Previous())
	r.store.RetainPrevious(raw)

	raised := r.policy.Evaluate(index, len(bodies), motion)
	r.store.RecordAlerts(raised)
	r.store.RecordDetections(len(bodies))
	for _, a := range raised {
		r.metrics.ObserveAlert(string(a.Level))
		logger.Debug("Pipeline", "frame %d: %s (%s) at %s", index, a.Type, a.Level, a.Location)
	}

	faces := r.detector.DetectFaces(raw)
	blurred := r.anon.Anonymize(raw, faces)
	r.metrics.FacesBlurred.Add(uint64(blurred))

	res := FrameResult{
		Index:    index,
		PTS:      raw.PTS,
		People:   len(bodies),
		Faces:    len(faces),
		Motion:   motion,
		Rapid:    r.policy.Config().IsRapid(motion),
		Alerts:   raised,
		Stats:    r.store.Stats(),
		Withheld: r.withhold,
	}
	if r.withhold {
		r.metrics.FramesWithheld.Add(1)
	} else {
		res.Image = r.render.Render(raw, bodies, motion)
	}

	r.metrics.ObserveFrame(len(bodies), motion, time.Since(began))
	return res
}

func (r *Runner) publish(res FrameResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sinks {
		s.Publish(res)
	}
}

// pace sleeps until pts has elapsed since start.
func pace(ctx context.Context, start time.Time, pts time.Duration) error {
	wait := time.Until(start.Add(pts))
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
