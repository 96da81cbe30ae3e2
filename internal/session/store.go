// Package session keeps the state of one monitoring session in memory.
package session

import (
	"sync"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
)

// DefaultAlertCap is the number of alerts kept in the log.
const DefaultAlertCap = 15

// Stats are the running counters shown on the dashboard.
type Stats struct {
	Detections int `json:"detections"`
	Critical   int `json:"critical"`
	Medium     int `json:"medium"`
}

// Snapshot is a consistent copy of the store for readers.
type Snapshot struct {
	Alerts     []alerts.Alert `json:"alerts"`
	Stats      Stats          `json:"stats"`
	FrameIndex int            `json:"frame_index"`
}

// Store holds the alert log (newest first), stats, the frame counter and the
// previously decoded frame. The pipeline is its only writer; HTTP handlers
// read through Snapshot and Feed.
type Store struct {
	mu         sync.RWMutex
	cap        int
	alerts     []alerts.Alert
	stats      Stats
	frameIndex int
	previous   *vision.Frame
	hasPrev    bool
}

// NewStore creates an empty session whose alert log holds at most alertCap
// entries.
func NewStore(alertCap int) *Store {
	if alertCap <= 0 {
		alertCap = DefaultAlertCap
	}
	return &Store{cap: alertCap, alerts: make([]alerts.Alert, 0, alertCap)}
}

// IncrementFrame advances the frame counter and returns the new value.
func (s *Store) IncrementFrame() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameIndex++
	return s.frameIndex
}

// RecordDetections adds n to the detection counter.
func (s *Store) RecordDetections(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.stats.Detections += n
	s.mu.Unlock()
}

// RecordAlerts prepends each alert in order, updates the severity counters
// and truncates the log to its cap. Counters keep counting alerts that have
// fallen out of the log.
func (s *Store) RecordAlerts(list []alerts.Alert) {
	if len(list) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range list {
		switch a.Level {
		case alerts.LevelHigh:
			s.stats.Critical++
		case alerts.LevelMedium:
			s.stats.Medium++
		}
		s.alerts = append(s.alerts, alerts.Alert{})
		copy(s.alerts[1:], s.alerts)
		s.alerts[0] = a
	}
	if len(s.alerts) > s.cap {
		clear(s.alerts[s.cap:])
		s.alerts = s.alerts[:s.cap]
	}
}

// Previous returns the frame retained from the last iteration, or nil.
// The pointer stays valid until the next RetainPrevious or Reset.
func (s *Store) Previous() *vision.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasPrev {
		return nil
	}
	return s.previous
}

// RetainPrevious copies f into the previous-frame buffer.
func (s *Store) RetainPrevious(f *vision.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f == nil {
		s.hasPrev = false
		return
	}
	s.previous = f.CopyInto(s.previous)
	s.hasPrev = true
}

// Reset returns the store to its initial state. The previous-frame buffer is
// kept for reuse but no longer reported.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.alerts)
	s.alerts = s.alerts[:0]
	s.stats = Stats{}
	s.frameIndex = 0
	s.hasPrev = false
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// FrameIndex returns the number of frames processed since the last reset.
func (s *Store) FrameIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameIndex
}

// Feed returns up to n of the newest alerts, newest first.
func (s *Store) Feed(n int) []alerts.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 || n > len(s.alerts) {
		n = len(s.alerts)
	}
	out := make([]alerts.Alert, n)
	copy(out, s.alerts[:n])
	return out
}

// Snapshot returns a copy of the full alert log, stats and frame counter.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Alerts:     make([]alerts.Alert, len(s.alerts)),
		Stats:      s.stats,
		FrameIndex: s.frameIndex,
	}
	copy(out.Alerts, s.alerts)
	return out
}
