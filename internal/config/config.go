// Package config holds the tunables of the street safety monitor.
//
// Values are layered: Default, then an optional YAML file, then .env and
// SAFETY_* environment variables. Command-line flags are applied last by the
// binaries in cmd/.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Vision  Vision  `yaml:"vision"`
	Policy  Policy  `yaml:"policy"`
	Session Session `yaml:"session"`
	Log     Log     `yaml:"log"`
}

// Server configures the web monitor.
type Server struct {
	Addr              string        `yaml:"addr"`
	MaxUploadMB       int           `yaml:"max_upload_mb"`
	UploadsPerMinute  int           `yaml:"uploads_per_minute"`
	UploadDir         string        `yaml:"upload_dir"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	StatusInterval    time.Duration `yaml:"status_interval"`
	FeedSize          int           `yaml:"feed_size"`
	WebRTC            bool          `yaml:"webrtc"`
}

// Vision configures decoding, detection, anonymization and rendering.
type Vision struct {
	Decoder          string  `yaml:"decoder"` // auto, opencv or ffmpeg
	FFmpegPath       string  `yaml:"ffmpeg_path"`
	FFprobePath      string  `yaml:"ffprobe_path"`
	CascadeDir       string  `yaml:"cascade_dir"`
	BodyModel        string  `yaml:"body_model"`
	FaceModel        string  `yaml:"face_model"`
	BodyScale        float64 `yaml:"body_scale"`
	BodyMinNeighbors int     `yaml:"body_min_neighbors"`
	FaceScale        float64 `yaml:"face_scale"`
	FaceMinNeighbors int     `yaml:"face_min_neighbors"`
	DiffThreshold    int     `yaml:"diff_threshold"`
	BlurSigma        float32 `yaml:"blur_sigma"`
	JPEGQuality      int     `yaml:"jpeg_quality"`
	Overlay          bool    `yaml:"overlay"`
	StrictPrivacy    bool    `yaml:"strict_privacy"`
	Realtime         bool    `yaml:"realtime"` // pace frames to their timestamps
}

// Policy holds the alert rule constants. Locations are placeholder labels,
// not camera positions.
type Policy struct {
	FollowingEvery      int     `yaml:"following_every"`
	FollowingMinCount   int     `yaml:"following_min_count"`
	FollowingConfidence int     `yaml:"following_confidence"`
	RapidThreshold      float64 `yaml:"rapid_threshold"`
	RapidConfidence     int     `yaml:"rapid_confidence"`
	AloneEvery          int     `yaml:"alone_every"`
	AloneConfidence     int     `yaml:"alone_confidence"`
	LocationPrefix      string  `yaml:"location_prefix"`
	LocationMin         int     `yaml:"location_min"`
	LocationMax         int     `yaml:"location_max"`
}

// IsRapid reports whether a motion magnitude counts as rapid movement.
// The alert rule and the box color in rendered frames both use it.
func (p Policy) IsRapid(motion float64) bool {
	return motion > p.RapidThreshold
}

// Session configures the in-memory session store.
type Session struct {
	AlertCap int `yaml:"alert_cap"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:              ":8080",
			MaxUploadMB:       512,
			UploadsPerMinute:  10,
			UploadDir:         os.TempDir(),
			AllowedExtensions: []string{".mp4", ".mov", ".avi", ".mkv", ".webm"},
			StatusInterval:    time.Second,
			FeedSize:          8,
			WebRTC:            true,
		},
		Vision: Vision{
			Decoder:          "auto",
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			BodyModel:        "haarcascade_fullbody.xml",
			FaceModel:        "haarcascade_frontalface_default.xml",
			BodyScale:        1.1,
			BodyMinNeighbors: 3,
			FaceScale:        1.3,
			FaceMinNeighbors: 5,
			DiffThreshold:    30,
			BlurSigma:        30,
			JPEGQuality:      80,
			Overlay:          true,
			Realtime:         true,
		},
		Policy: Policy{
			FollowingEvery:      80,
			FollowingMinCount:   2,
			FollowingConfidence: 82,
			RapidThreshold:      60000,
			RapidConfidence:     90,
			AloneEvery:          120,
			AloneConfidence:     75,
			LocationPrefix:      "Street Light",
			LocationMin:         1,
			LocationMax:         10,
		},
		Session: Session{AlertCap: 15},
		Log:     Log{Level: "info", Color: true},
	}
}

// Load builds a configuration from defaults, the YAML file at path (if any)
// and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	p := c.Policy
	if p.FollowingEvery <= 0 || p.AloneEvery <= 0 {
		errs = append(errs, errors.New("policy: alert cadence must be positive"))
	}
	if p.FollowingMinCount < 1 {
		errs = append(errs, errors.New("policy: following_min_count must be at least 1"))
	}
	if p.RapidThreshold <= 0 {
		errs = append(errs, errors.New("policy: rapid_threshold must be positive"))
	}
	if p.LocationMin > p.LocationMax {
		errs = append(errs, fmt.Errorf("policy: location range [%d,%d] is empty", p.LocationMin, p.LocationMax))
	}
	for _, conf := range []int{p.FollowingConfidence, p.RapidConfidence, p.AloneConfidence} {
		if conf < 0 || conf > 100 {
			errs = append(errs, fmt.Errorf("policy: confidence %d outside 0-100", conf))
		}
	}

	v := c.Vision
	switch v.Decoder {
	case "auto", "opencv", "ffmpeg":
	default:
		errs = append(errs, fmt.Errorf("vision: unknown decoder %q", v.Decoder))
	}
	if v.BodyScale <= 1 || v.FaceScale <= 1 {
		errs = append(errs, errors.New("vision: cascade scale factors must be greater than 1"))
	}
	if v.DiffThreshold < 0 || v.DiffThreshold > 254 {
		errs = append(errs, fmt.Errorf("vision: diff_threshold %d outside 0-254", v.DiffThreshold))
	}
	if v.BlurSigma <= 0 {
		errs = append(errs, errors.New("vision: blur_sigma must be positive"))
	}
	if v.JPEGQuality < 1 || v.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("vision: jpeg_quality %d outside 1-100", v.JPEGQuality))
	}

	if c.Session.AlertCap <= 0 {
		errs = append(errs, errors.New("session: alert_cap must be positive"))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("server: max_upload_mb must be positive"))
	}
	if c.Server.FeedSize <= 0 {
		errs = append(errs, errors.New("server: feed_size must be positive"))
	}
	if c.Server.StatusInterval <= 0 {
		errs = append(errs, errors.New("server: status_interval must be positive"))
	}
	return errors.Join(errs...)
}

// AllowsExtension reports whether an uploaded file name has an accepted
// container extension.
func (s Server) AllowsExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range s.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

var cascadeSearchPaths = []string{
	"/usr/share/opencv4/haarcascades",
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv/haarcascades",
	"/usr/local/share/opencv/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
}

// ResolveCascadeDir returns the configured cascade directory, or the first
// common install location that contains the body model.
func (v Vision) ResolveCascadeDir() string {
	if v.CascadeDir != "" {
		return v.CascadeDir
	}
	for _, dir := range cascadeSearchPaths {
		if _, err := os.Stat(filepath.Join(dir, v.BodyModel)); err == nil {
			return dir
		}
	}
	return ""
}
