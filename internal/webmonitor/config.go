package webmonitor

import (
	"context"

	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
	"github.com/dj-oyu/street-safety-monitor/internal/webrtc"
)

// SourceOpener opens an uploaded file for decoding.
type SourceOpener func(ctx context.Context, path string) (vision.Source, error)

// Options wires the web monitor server.
type Options struct {
	Config       config.Config
	Store        *session.Store
	Runner       *pipeline.Runner
	Capabilities vision.Capabilities
	Metrics      *metrics.Metrics

	// WebRTC enables /api/webrtc/offer when set.
	WebRTC *webrtc.Server

	// OpenSource defaults to vision.OpenSource with Config.Vision.
	OpenSource SourceOpener
}

func (o *Options) applyDefaults() {
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.OpenSource == nil {
		vcfg := o.Config.Vision
		o.OpenSource = func(ctx context.Context, path string) (vision.Source, error) {
			return vision.OpenSource(ctx, path, vcfg)
		}
	}
	def := config.Default().Server
	if o.Config.Server.StatusInterval <= 0 {
		o.Config.Server.StatusInterval = def.StatusInterval
	}
	if o.Config.Server.FeedSize <= 0 {
		o.Config.Server.FeedSize = def.FeedSize
	}
	if o.Config.Server.MaxUploadMB <= 0 {
		o.Config.Server.MaxUploadMB = def.MaxUploadMB
	}
	if o.Config.Server.UploadsPerMinute <= 0 {
		o.Config.Server.UploadsPerMinute = def.UploadsPerMinute
	}
	if len(o.Config.Server.AllowedExtensions) == 0 {
		o.Config.Server.AllowedExtensions = def.AllowedExtensions
	}
}
