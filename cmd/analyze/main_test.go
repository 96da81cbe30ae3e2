package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
)

type oneBodyDetector struct{}

func (oneBodyDetector) DetectBodies(*vision.Frame) []vision.Rect {
	return []vision.Rect{{X: 1, Y: 1, W: 4, H: 8}}
}
func (oneBodyDetector) DetectFaces(*vision.Frame) []vision.Rect { return nil }
func (oneBodyDetector) Close() error                            { return nil }
func (oneBodyDetector) Status() vision.DetectorStatus {
	return vision.DetectorStatus{Backend: "fake", BodiesEnabled: true, FacesEnabled: true}
}

type countSource struct{ n, pos int }

func (s *countSource) Next() (*vision.Frame, error) {
	if s.pos >= s.n {
		return nil, io.EOF
	}
	s.pos++
	return vision.NewFrame(16, 16), nil
}

func (s *countSource) Info() vision.SourceInfo {
	return vision.SourceInfo{Backend: "test", Width: 16, Height: 16, FPS: 30}
}

func (s *countSource) Close() error { return nil }

func newRunner() *pipeline.Runner {
	cfg := config.Default()
	cfg.Vision.Realtime = false
	return pipeline.NewRunner(pipeline.Options{
		Store:    session.NewStore(cfg.Session.AlertCap),
		Detector: oneBodyDetector{},
		Policy:   alerts.NewPolicy(cfg.Policy),
		Vision:   cfg.Vision,
	})
}

func readLines(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestAnalyzeWritesAlertsThenSummary(t *testing.T) {
	var buf bytes.Buffer
	open := func(context.Context) (vision.Source, error) { return &countSource{n: 240}, nil }

	sum := analyze(context.Background(), newRunner(), open, &buf)
	assert.Empty(t, sum.Error)
	assert.Equal(t, 240, sum.Frames)

	lines := readLines(t, &buf)
	// one person alone: frames 120 and 240
	require.Len(t, lines, 3)
	for _, l := range lines[:2] {
		assert.Equal(t, "alert", l["kind"])
		assert.Equal(t, string(alerts.TypePersonAlone), l["type"])
		assert.Equal(t, string(alerts.LevelLow), l["level"])
		assert.NotEmpty(t, l["time"])
	}
	assert.Equal(t, float64(120), lines[0]["frame_index"])

	last := lines[2]
	assert.Equal(t, "summary", last["kind"])
	assert.Equal(t, float64(240), last["frames"])
	assert.Equal(t, float64(2), last["alerts"])
	assert.Equal(t, float64(240), last["stats"].(map[string]any)["detections"])
	assert.NotContains(t, last, "error")
}

func TestAnalyzeOpenFailure(t *testing.T) {
	var buf bytes.Buffer
	open := func(context.Context) (vision.Source, error) { return nil, vision.ErrNoDecoder }

	sum := analyze(context.Background(), newRunner(), open, &buf)
	assert.NotEmpty(t, sum.Error)

	lines := readLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "summary", lines[0]["kind"])
	assert.Equal(t, float64(0), lines[0]["frames"])
	assert.Contains(t, lines[0]["error"], "decoder")
}
