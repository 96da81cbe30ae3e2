package vision

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/dj-oyu/street-safety-monitor/internal/config"
)

// ErrNoDecoder is returned when no video decoder backend is available.
var ErrNoDecoder = errors.New("no video decoder available")

// Source yields decoded frames in order. Next returns io.EOF after the last
// complete frame. The returned frame may be reused by the following call.
type Source interface {
	Next() (*Frame, error)
	Info() SourceInfo
	Close() error
}

// SourceInfo describes the opened stream.
type SourceInfo struct {
	Backend string  `json:"backend"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
}

// OpenSource opens path with the configured decoder. "auto" prefers OpenCV
// when compiled in and falls back to ffmpeg.
func OpenSource(ctx context.Context, path string, cfg config.Vision) (Source, error) {
	switch cfg.Decoder {
	case "opencv":
		return openCVSource(path)
	case "ffmpeg":
		return openFFmpegSource(ctx, path, cfg)
	case "auto", "":
		if opencvBuilt {
			src, err := openCVSource(path)
			if err == nil {
				return src, nil
			}
			if _, lookErr := exec.LookPath(cfg.FFmpegPath); lookErr != nil {
				return nil, err
			}
		}
		return openFFmpegSource(ctx, path, cfg)
	default:
		return nil, fmt.Errorf("unknown decoder %q", cfg.Decoder)
	}
}

func openFFmpegSource(ctx context.Context, path string, cfg config.Vision) (Source, error) {
	src, err := OpenFFmpeg(ctx, path, cfg.FFmpegPath, cfg.FFprobePath)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Capabilities summarizes what the running binary can do.
type Capabilities struct {
	Detector DetectorStatus `json:"detector"`
	OpenCV   bool           `json:"opencv"`
	FFmpeg   bool           `json:"ffmpeg"`
	Decoders []string       `json:"decoders"`
}

// DecodingAvailable reports whether any decoder backend exists.
func (c Capabilities) DecodingAvailable() bool { return len(c.Decoders) > 0 }

// DetectCapabilities checks decoder binaries and reads the detector status.
// It is meant to run once at startup.
func DetectCapabilities(cfg config.Vision, det Detector) Capabilities {
	caps := Capabilities{OpenCV: opencvBuilt, Decoders: []string{}}
	if det != nil {
		caps.Detector = det.Status()
	}
	if opencvBuilt {
		caps.Decoders = append(caps.Decoders, "opencv")
	}
	_, ffmpegErr := exec.LookPath(cfg.FFmpegPath)
	_, ffprobeErr := exec.LookPath(cfg.FFprobePath)
	if ffmpegErr == nil && ffprobeErr == nil {
		caps.FFmpeg = true
		caps.Decoders = append(caps.Decoders, "ffmpeg")
	}
	return caps
}
