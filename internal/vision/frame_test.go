package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, b, g, r byte) *Frame {
	f := NewFrame(w, h)
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
	}
	return f
}

func TestGrayMatchesOpenCVWeights(t *testing.T) {
	cases := []struct {
		name    string
		b, g, r byte
		want    byte
	}{
		{"red", 0, 0, 255, 76},
		{"green", 0, 255, 0, 150},
		{"blue", 255, 0, 0, 29},
		{"white", 255, 255, 255, 255},
		{"black", 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gray := solidFrame(2, 1, tc.b, tc.g, tc.r).Gray(nil)
			require.Len(t, gray, 2)
			assert.Equal(t, tc.want, gray[0])
		})
	}
}

func TestCopyIntoReusesBuffer(t *testing.T) {
	src := solidFrame(4, 4, 1, 2, 3)
	src.Index = 7

	dst := NewFrame(4, 4)
	backing := &dst.Pix[0]

	out := src.CopyInto(dst)
	require.Same(t, dst, out)
	assert.Same(t, backing, &out.Pix[0])
	assert.Equal(t, src.Pix, out.Pix)
	assert.Equal(t, 7, out.Index)

	// the copy is independent of the source
	src.Pix[0] = 99
	assert.Equal(t, byte(1), out.Pix[0])
}

func TestRGBARoundTrip(t *testing.T) {
	f := solidFrame(3, 2, 10, 20, 30)
	img := f.ToRGBA()
	assert.Equal(t, color.RGBA{R: 30, G: 20, B: 10, A: 255}, img.RGBAAt(2, 1))

	back := FromImage(img)
	assert.Equal(t, f.Pix, back.Pix)
}

func TestRectConversion(t *testing.T) {
	r := Rect{X: 5, Y: 6, W: 10, H: 20}
	assert.Equal(t, image.Rect(5, 6, 15, 26), r.Rectangle())
	assert.Equal(t, r, RectFrom(r.Rectangle()))
}
