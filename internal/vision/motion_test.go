package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func paintBlock(f *Frame, x0, y0, size int, v byte) {
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			i := y*f.Stride() + x*3
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = v, v, v
		}
	}
}

func TestEstimateMotion(t *testing.T) {
	m := NewMotionEstimator(DefaultDiffThreshold)
	prev := NewFrame(32, 32)

	t.Run("nil previous", func(t *testing.T) {
		assert.Zero(t, m.Estimate(NewFrame(32, 32), nil))
	})

	t.Run("size mismatch", func(t *testing.T) {
		assert.Zero(t, m.Estimate(NewFrame(16, 16), prev))
	})

	t.Run("identical frames", func(t *testing.T) {
		assert.Zero(t, m.Estimate(prev.Clone(), prev))
	})

	t.Run("changed block", func(t *testing.T) {
		cur := prev.Clone()
		paintBlock(cur, 4, 4, 10, 255)
		assert.Equal(t, 100.0, m.Estimate(cur, prev))
	})

	t.Run("below threshold", func(t *testing.T) {
		cur := prev.Clone()
		paintBlock(cur, 0, 0, 32, 30)
		assert.Zero(t, m.Estimate(cur, prev))
	})

	t.Run("just above threshold", func(t *testing.T) {
		cur := prev.Clone()
		paintBlock(cur, 0, 0, 2, 31)
		assert.Equal(t, 4.0, m.Estimate(cur, prev))
	})
}

// Runs under both build tags: estimateMotion is gocv with -tags opencv and the
// Go loop otherwise.
func TestMotionBackendMatchesGoLoop(t *testing.T) {
	prev := NewFrame(32, 32)

	cur := prev.Clone()
	paintBlock(cur, 4, 4, 10, 255)
	assert.Equal(t, 100.0, estimateMotion(cur, prev, DefaultDiffThreshold))
	assert.Equal(t, 100.0, countChangedPixels(cur, prev, DefaultDiffThreshold))

	// threshold is strict on both paths
	edge := prev.Clone()
	paintBlock(edge, 0, 0, 3, byte(DefaultDiffThreshold))
	paintBlock(edge, 20, 20, 2, byte(DefaultDiffThreshold+1))
	assert.Equal(t, 4.0, estimateMotion(edge, prev, DefaultDiffThreshold))
	assert.Equal(t, 4.0, countChangedPixels(edge, prev, DefaultDiffThreshold))
}
