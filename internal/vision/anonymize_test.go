package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerboard(w, h, square int) *Frame {
	f := NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v byte
			if (x/square+y/square)%2 == 0 {
				v = 255
			}
			i := y*f.Stride() + x*3
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = v, v, v
		}
	}
	return f
}

func regionVariance(f *Frame, r Rect) float64 {
	gray := f.Gray(nil)
	var sum, sumSq float64
	n := 0
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			v := float64(gray[y*f.Width+x])
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func TestAnonymizeBlursFaceRegion(t *testing.T) {
	f := checkerboard(64, 64, 4)
	face := Rect{X: 16, Y: 16, W: 32, H: 32}
	outside := f.Clone()

	before := regionVariance(f, face)
	require.Greater(t, before, 10000.0)

	n := NewAnonymizer(30).Anonymize(f, []Rect{face})
	require.Equal(t, 1, n)

	after := regionVariance(f, face)
	assert.Less(t, after, before*0.05, "variance before=%.1f after=%.1f", before, after)

	// pixels outside the face are untouched
	for _, p := range [][2]int{{0, 0}, {63, 63}, {15, 40}, {48, 10}} {
		i := p[1]*f.Stride() + p[0]*3
		assert.Equal(t, outside.Pix[i:i+3], f.Pix[i:i+3], "pixel %v", p)
	}
}

func TestAnonymizeClipsToFrame(t *testing.T) {
	f := checkerboard(40, 40, 2)
	a := NewAnonymizer(30)

	require.NotPanics(t, func() {
		assert.Equal(t, 1, a.Anonymize(f, []Rect{{X: 30, Y: 30, W: 50, H: 50}}))
	})
	assert.Equal(t, 0, a.Anonymize(f, []Rect{{X: 100, Y: 100, W: 10, H: 10}, {X: 5, Y: 5}}))
	assert.Less(t, regionVariance(f, Rect{X: 30, Y: 30, W: 10, H: 10}), 800.0)
}
