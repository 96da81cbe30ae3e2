package vision

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/street-safety-monitor/internal/config"
)

func TestRawReaderSplitsFrames(t *testing.T) {
	const w, h = 2, 2
	frameSize := w * h * 3
	data := make([]byte, 2*frameSize+frameSize/2)
	for i := range data {
		data[i] = byte(i / frameSize)
	}

	rr := NewRawReader(bytes.NewReader(data), w, h, 10)

	f, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index)
	assert.Equal(t, time.Duration(0), f.PTS)
	assert.Equal(t, byte(0), f.Pix[frameSize-1])

	f, err = rr.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, f.Index)
	assert.Equal(t, 100*time.Millisecond, f.PTS)
	assert.Equal(t, byte(1), f.Pix[0])

	// trailing half frame is never emitted
	f, err = rr.Next()
	assert.Nil(t, f)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRawReaderEmptyInput(t *testing.T) {
	_, err := NewRawReader(bytes.NewReader(nil), 4, 4, 30).Next()
	assert.ErrorIs(t, err, io.EOF)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestRawReaderPropagatesErrors(t *testing.T) {
	_, err := NewRawReader(failingReader{}, 4, 4, 30).Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestParseStreamInfo(t *testing.T) {
	out := []byte(`{"streams":[{"width":640,"height":360,"avg_frame_rate":"30000/1001","r_frame_rate":"30/1"}]}`)
	info, err := parseStreamInfo(out)
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)

	_, err = parseStreamInfo([]byte(`{"streams":[]}`))
	assert.Error(t, err)

	_, err = parseStreamInfo([]byte(`{"streams":[{"width":0,"height":0}]}`))
	assert.Error(t, err)
}

func TestParseRate(t *testing.T) {
	assert.Equal(t, 25.0, parseRate("25/1"))
	assert.Equal(t, 12.5, parseRate("12.5"))
	assert.Zero(t, parseRate("0/0"))
	assert.Zero(t, parseRate(""))
}

func TestOpenSourceMissingFFmpeg(t *testing.T) {
	cfg := config.Default().Vision
	cfg.Decoder = "ffmpeg"
	cfg.FFmpegPath = "/nonexistent/ffmpeg-for-tests"

	src, err := OpenSource(context.Background(), "clip.mp4", cfg)
	assert.Nil(t, src)
	assert.ErrorIs(t, err, ErrNoDecoder)
}

func TestOpenSourceUnknownDecoder(t *testing.T) {
	cfg := config.Default().Vision
	cfg.Decoder = "vlc"
	_, err := OpenSource(context.Background(), "clip.mp4", cfg)
	assert.Error(t, err)
}
