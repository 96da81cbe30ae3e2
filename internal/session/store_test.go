package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/street-safety-monitor/internal/alerts"
	"github.com/dj-oyu/street-safety-monitor/internal/vision"
)

func alertAt(frame int, level alerts.Level) alerts.Alert {
	return alerts.Alert{FrameIndex: frame, Level: level, Type: alerts.TypeRapid}
}

func TestRecordAlertsCapsNewestFirst(t *testing.T) {
	s := NewStore(DefaultAlertCap)
	for i := 1; i <= 20; i++ {
		s.RecordAlerts([]alerts.Alert{alertAt(i, alerts.LevelHigh)})
	}

	snap := s.Snapshot()
	require.Len(t, snap.Alerts, 15)
	for i, a := range snap.Alerts {
		assert.Equal(t, 20-i, a.FrameIndex)
	}
	// counters include alerts that fell off the log
	assert.Equal(t, 20, snap.Stats.Critical)
}

func TestRecordAlertsBatchOrder(t *testing.T) {
	s := NewStore(5)
	s.RecordAlerts([]alerts.Alert{
		alertAt(1, alerts.LevelMedium),
		alertAt(2, alerts.LevelHigh),
		alertAt(3, alerts.LevelLow),
	})

	feed := s.Feed(-1)
	require.Len(t, feed, 3)
	assert.Equal(t, 3, feed[0].FrameIndex)
	assert.Equal(t, 1, feed[2].FrameIndex)

	st := s.Stats()
	assert.Equal(t, Stats{Detections: 0, Critical: 1, Medium: 1}, st)
}

func TestFeedLimit(t *testing.T) {
	s := NewStore(DefaultAlertCap)
	for i := 1; i <= 10; i++ {
		s.RecordAlerts([]alerts.Alert{alertAt(i, alerts.LevelLow)})
	}
	feed := s.Feed(8)
	require.Len(t, feed, 8)
	assert.Equal(t, 10, feed[0].FrameIndex)

	// returned slices are copies
	feed[0].FrameIndex = -1
	assert.Equal(t, 10, s.Feed(1)[0].FrameIndex)
}

func TestResetIsCompleteAndIdempotent(t *testing.T) {
	s := NewStore(DefaultAlertCap)
	s.IncrementFrame()
	s.IncrementFrame()
	s.RecordDetections(4)
	s.RecordAlerts([]alerts.Alert{alertAt(2, alerts.LevelHigh)})
	s.RetainPrevious(vision.NewFrame(4, 4))

	s.Reset()
	first := s.Snapshot()
	s.Reset()
	second := s.Snapshot()

	assert.Equal(t, first, second)
	assert.Empty(t, first.Alerts)
	assert.Equal(t, Stats{}, first.Stats)
	assert.Zero(t, first.FrameIndex)
	assert.Nil(t, s.Previous())
	assert.Equal(t, 1, s.IncrementFrame())
}

func TestRetainPreviousCopies(t *testing.T) {
	s := NewStore(DefaultAlertCap)
	assert.Nil(t, s.Previous())

	f := vision.NewFrame(2, 2)
	f.Pix[0] = 42
	s.RetainPrevious(f)
	prev := s.Previous()
	require.NotNil(t, prev)

	f.Pix[0] = 7
	assert.Equal(t, byte(42), prev.Pix[0])

	// the buffer is reused across frames
	s.RetainPrevious(f)
	assert.Same(t, prev, s.Previous())
	assert.Equal(t, byte(7), prev.Pix[0])
}

func TestRecordDetectionsIgnoresZero(t *testing.T) {
	s := NewStore(DefaultAlertCap)
	s.RecordDetections(0)
	s.RecordDetections(3)
	s.RecordDetections(2)
	assert.Equal(t, 5, s.Stats().Detections)
}

func TestConcurrentReaders(t *testing.T) {
	s := NewStore(DefaultAlertCap)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			s.IncrementFrame()
			s.RecordAlerts([]alerts.Alert{alertAt(i, alerts.LevelMedium)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap := s.Snapshot()
			assert.LessOrEqual(t, len(snap.Alerts), DefaultAlertCap)
		}
	}()
	wg.Wait()
	assert.Equal(t, 500, s.Stats().Medium)
}
