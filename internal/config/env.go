package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ApplyEnv loads ./.env when present and overrides fields from SAFETY_*
// variables. OPENCV_HAARCASCADES is honored for the cascade directory.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	c.Server.Addr = getEnv("SAFETY_HTTP_ADDR", c.Server.Addr)
	c.Server.MaxUploadMB = getEnvInt("SAFETY_MAX_UPLOAD_MB", c.Server.MaxUploadMB)
	c.Server.UploadsPerMinute = getEnvInt("SAFETY_UPLOADS_PER_MINUTE", c.Server.UploadsPerMinute)
	c.Server.UploadDir = getEnv("SAFETY_UPLOAD_DIR", c.Server.UploadDir)
	c.Server.StatusInterval = getEnvDuration("SAFETY_STATUS_INTERVAL", c.Server.StatusInterval)
	c.Server.WebRTC = getEnvBool("SAFETY_WEBRTC", c.Server.WebRTC)

	c.Vision.CascadeDir = getEnv("OPENCV_HAARCASCADES", c.Vision.CascadeDir)
	c.Vision.CascadeDir = getEnv("SAFETY_CASCADE_DIR", c.Vision.CascadeDir)
	c.Vision.Decoder = getEnv("SAFETY_DECODER", c.Vision.Decoder)
	c.Vision.FFmpegPath = getEnv("SAFETY_FFMPEG", c.Vision.FFmpegPath)
	c.Vision.FFprobePath = getEnv("SAFETY_FFPROBE", c.Vision.FFprobePath)
	c.Vision.JPEGQuality = getEnvInt("SAFETY_JPEG_QUALITY", c.Vision.JPEGQuality)
	c.Vision.StrictPrivacy = getEnvBool("SAFETY_STRICT_PRIVACY", c.Vision.StrictPrivacy)

	c.Session.AlertCap = getEnvInt("SAFETY_ALERT_CAP", c.Session.AlertCap)

	c.Log.Level = getEnv("SAFETY_LOG_LEVEL", c.Log.Level)
	c.Log.Color = getEnvBool("SAFETY_LOG_COLOR", c.Log.Color)
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}
