// Package alerts turns per-frame counts and motion into safety alerts.
package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an alert.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Type names the rule that raised an alert.
type Type string

const (
	TypeFollowing   Type = "Following Pattern"
	TypeRapid       Type = "Rapid Movement"
	TypePersonAlone Type = "Person Alone"
)

// Alert is an immutable record of one rule firing.
type Alert struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	Confidence int       `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	// Location is a synthetic placeholder label, not a real position.
	Location   string `json:"location"`
	FrameIndex int    `json:"frame_index"`
}

// Clock returns the wall-clock time shown in the feed (HH:MM:SS).
func (a Alert) Clock() string {
	return a.Timestamp.Format(time.TimeOnly)
}
