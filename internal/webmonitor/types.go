package webmonitor

import (
	"time"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
)

// AlertView is an alert as shown in the feed.
type AlertView struct {
	alerts.Alert
	Time string `json:"time"`
}

func newAlertViews(list []alerts.Alert) []AlertView {
	out := make([]AlertView, len(list))
	for i, a := range list {
		out[i] = AlertView{Alert: a, Time: a.Clock()}
	}
	return out
}

// MonitorStats describes the live frame stream.
type MonitorStats struct {
	FramesProcessed int     `json:"frames_processed"`
	CurrentFPS      float64 `json:"current_fps"`
	People          int     `json:"people"`
	Motion          float64 `json:"motion"`
	Rapid           bool    `json:"rapid"`
	Withheld        bool    `json:"withheld"`
}

// JobState is the lifecycle state of an analysis job.
type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus describes the current or last analysis job.
type JobStatus struct {
	ID         string             `json:"id,omitempty"`
	File       string             `json:"file,omitempty"`
	State      JobState           `json:"state"`
	Frames     int                `json:"frames"`
	Alerts     int                `json:"alerts"`
	Error      string             `json:"error,omitempty"`
	Source     *vision.SourceInfo `json:"source,omitempty"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// StatusPayload is served by /api/status and /api/status/stream.
type StatusPayload struct {
	Stats         session.Stats       `json:"stats"`
	Feed          []AlertView         `json:"feed"`
	FrameIndex    int                 `json:"frame_index"`
	Monitor       MonitorStats        `json:"monitor"`
	Job           JobStatus           `json:"job"`
	Capabilities  vision.Capabilities `json:"capabilities"`
	StrictPrivacy bool                `json:"strict_privacy"`
	Timestamp     float64             `json:"timestamp"`
}

// AlertEvent is pushed over WebSocket and WebRTC.
type AlertEvent struct {
	Type   string         `json:"type"` // "alert", "reset" or "snapshot"
	Alert  *AlertView     `json:"alert,omitempty"`
	Feed   []AlertView    `json:"feed,omitempty"`
	Stats  *session.Stats `json:"stats,omitempty"`
	SentAt time.Time      `json:"sent_at"`
}

// CapabilitiesPayload is served by /api/capabilities.
type CapabilitiesPayload struct {
	vision.Capabilities
	WebRTC        bool `json:"webrtc"`
	StrictPrivacy bool `json:"strict_privacy"`
}
