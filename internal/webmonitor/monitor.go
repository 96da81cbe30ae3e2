package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
)

// Monitor tracks live statistics of the frame stream for the status API.
type Monitor struct {
	mu              sync.Mutex
	framesProcessed int
	currentFPS      float64
	lastFrameAt     time.Time
	last            pipeline.FrameResult
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Publish implements pipeline.Sink.
func (m *Monitor) Publish(res pipeline.FrameResult) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastFrameAt.IsZero() {
		if dt := now.Sub(m.lastFrameAt).Seconds(); dt > 0 {
			instant := 1 / dt
			if m.currentFPS == 0 {
				m.currentFPS = instant
			} else {
				m.currentFPS = 0.9*m.currentFPS + 0.1*instant
			}
		}
	}
	m.lastFrameAt = now
	m.framesProcessed++
	res.Image = nil
	m.last = res
}

// Snapshot returns the current monitor stats. FPS decays to zero when no
// frame arrived for two seconds.
func (m *Monitor) Snapshot() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	fps := m.currentFPS
	if time.Since(m.lastFrameAt) > 2*time.Second {
		fps = 0
	}
	return MonitorStats{
		FramesProcessed: m.framesProcessed,
		CurrentFPS:      fps,
		People:          m.last.People,
		Motion:          m.last.Motion,
		Rapid:           m.last.Rapid,
		Withheld:        m.last.Withheld,
	}
}

// Reset clears the last frame but keeps the lifetime frame count.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = pipeline.FrameResult{}
	m.currentFPS = 0
}
