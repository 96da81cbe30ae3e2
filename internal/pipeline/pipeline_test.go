package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
)

type sliceSource struct {
	frames []*vision.Frame
	failAt int // 0 disables
	pos    int
}

func (s *sliceSource) Next() (*vision.Frame, error) {
	if s.failAt > 0 && s.pos == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Info() vision.SourceInfo {
	return vision.SourceInfo{Backend: "test", Width: 64, Height: 64, FPS: 30}
}

func (s *sliceSource) Close() error { return nil }

type fakeDetector struct {
	bodies       []vision.Rect
	faces        []vision.Rect
	facesEnabled bool
}

func (d *fakeDetector) DetectBodies(*vision.Frame) []vision.Rect { return d.bodies }
func (d *fakeDetector) DetectFaces(*vision.Frame) []vision.Rect  { return d.faces }
func (d *fakeDetector) Close() error                             { return nil }
func (d *fakeDetector) Status() vision.DetectorStatus {
	return vision.DetectorStatus{Backend: "fake", BodiesEnabled: true, FacesEnabled: d.facesEnabled}
}

func checkerboard(w, h int) *vision.Frame {
	f := vision.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				i := y*f.Stride() + x*3
				f.Pix[i], f.Pix[i+1], f.Pix[i+2] = 255, 255, 255
			}
		}
	}
	return f
}

func frames(n int, mk func() *vision.Frame) []*vision.Frame {
	out := make([]*vision.Frame, n)
	for i := range out {
		out[i] = mk()
	}
	return out
}

func newTestRunner(det *fakeDetector, mutate func(*config.Config)) (*Runner, *session.Store, *metrics.Metrics) {
	cfg := config.Default()
	cfg.Vision.Realtime = false
	cfg.Vision.Overlay = false
	if mutate != nil {
		mutate(&cfg)
	}
	store := session.NewStore(cfg.Session.AlertCap)
	m := metrics.New()
	r := NewRunner(Options{
		Store:    store,
		Detector: det,
		Policy:   alerts.NewPolicy(cfg.Policy),
		Vision:   cfg.Vision,
		Metrics:  m,
	})
	return r, store, m
}

func rgbaVariance(img *image.RGBA, r image.Rectangle) float64 {
	var sum, sumSq float64
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := float64(img.RGBAAt(x, y).G)
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func TestFacesBlurredBeforeSinks(t *testing.T) {
	face := vision.Rect{X: 16, Y: 16, W: 32, H: 32}
	r, _, m := newTestRunner(&fakeDetector{faces: []vision.Rect{face}, facesEnabled: true}, nil)

	var seen []FrameResult
	r.AddSink(SinkFunc(func(res FrameResult) { seen = append(seen, res) }))

	_, err := r.Run(context.Background(), &sliceSource{frames: frames(2, func() *vision.Frame { return checkerboard(64, 64) })})
	require.NoError(t, err)
	require.Len(t, seen, 2)

	for _, res := range seen {
		require.NotNil(t, res.Image)
		assert.Less(t, rgbaVariance(res.Image, face.Rectangle()), 800.0)
		// background keeps its pattern
		assert.Greater(t, rgbaVariance(res.Image, image.Rect(0, 0, 16, 16)), 10000.0)
	}
	assert.Equal(t, uint64(2), m.FacesBlurred.Load())
}

func TestMotionComparesUnblurredFrames(t *testing.T) {
	face := vision.Rect{X: 16, Y: 16, W: 32, H: 32}
	r, _, _ := newTestRunner(&fakeDetector{faces: []vision.Rect{face}, facesEnabled: true}, nil)

	var motions []float64
	r.AddSink(SinkFunc(func(res FrameResult) { motions = append(motions, res.Motion) }))

	_, err := r.Run(context.Background(), &sliceSource{frames: frames(3, func() *vision.Frame { return checkerboard(64, 64) })})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, motions)
}

func TestRunRaisesCadenceAlerts(t *testing.T) {
	two := []vision.Rect{{X: 1, Y: 1, W: 4, H: 8}, {X: 10, Y: 1, W: 4, H: 8}}
	r, store, m := newTestRunner(&fakeDetector{bodies: two, facesEnabled: true}, nil)

	sum, err := r.Run(context.Background(), &sliceSource{frames: frames(160, func() *vision.Frame { return vision.NewFrame(8, 8) })})
	require.NoError(t, err)

	assert.Equal(t, 160, sum.Frames)
	assert.Equal(t, 2, sum.Alerts)
	assert.Equal(t, session.Stats{Detections: 320, Medium: 2}, sum.Stats)
	assert.Empty(t, sum.Error)

	feed := store.Feed(-1)
	require.Len(t, feed, 2)
	assert.Equal(t, 160, feed[0].FrameIndex)
	assert.Equal(t, alerts.TypeFollowing, feed[0].Type)
	assert.Equal(t, uint64(160), m.FramesProcessed.Load())
}

func TestRapidMotionAlertAndColorFlag(t *testing.T) {
	r, store, _ := newTestRunner(&fakeDetector{facesEnabled: true}, func(c *config.Config) {
		c.Policy.RapidThreshold = 50
	})

	var results []FrameResult
	r.AddSink(SinkFunc(func(res FrameResult) { results = append(results, res) }))

	black := vision.NewFrame(10, 10)
	white := vision.NewFrame(10, 10)
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	_, err := r.Run(context.Background(), &sliceSource{frames: []*vision.Frame{black, white}})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.False(t, results[0].Rapid)
	assert.True(t, results[1].Rapid)
	assert.Equal(t, 100.0, results[1].Motion)
	assert.Equal(t, 1, store.Stats().Critical)
}

func TestDecodeErrorEndsRun(t *testing.T) {
	r, _, m := newTestRunner(&fakeDetector{facesEnabled: true}, nil)
	src := &sliceSource{frames: frames(5, func() *vision.Frame { return vision.NewFrame(4, 4) }), failAt: 2}

	sum, err := r.Run(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt packet")
	assert.Equal(t, 2, sum.Frames)
	assert.NotEmpty(t, sum.Error)
	assert.Equal(t, uint64(1), m.DecodeErrors.Load())
}

func TestCancelledContext(t *testing.T) {
	r, _, _ := newTestRunner(&fakeDetector{facesEnabled: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := r.Run(ctx, &sliceSource{frames: frames(3, func() *vision.Frame { return vision.NewFrame(4, 4) })})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Frames)
}

func TestStrictPrivacyWithholdsFrames(t *testing.T) {
	one := []vision.Rect{{X: 0, Y: 0, W: 2, H: 2}}
	r, store, m := newTestRunner(&fakeDetector{bodies: one, facesEnabled: false}, func(c *config.Config) {
		c.Vision.StrictPrivacy = true
	})

	var results []FrameResult
	r.AddSink(SinkFunc(func(res FrameResult) { results = append(results, res) }))

	_, err := r.Run(context.Background(), &sliceSource{frames: frames(120, func() *vision.Frame { return vision.NewFrame(8, 8) })})
	require.NoError(t, err)

	for _, res := range results {
		assert.True(t, res.Withheld)
		assert.Nil(t, res.Image)
	}
	// alerts and stats still flow
	assert.Equal(t, 120, store.Stats().Detections)
	require.Len(t, store.Feed(-1), 1)
	assert.Equal(t, alerts.TypePersonAlone, store.Feed(1)[0].Type)
	assert.Equal(t, uint64(120), m.FramesWithheld.Load())
}
