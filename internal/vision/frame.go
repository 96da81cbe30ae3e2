// Package vision decodes video into frames and runs the per-frame image work:
// cascade detection, motion estimation, face anonymization and annotation.
package vision

import (
	"image"
	"image/color"
	"time"
)

// Frame is one decoded video frame in packed BGR order (3 bytes per pixel,
// row-major, no padding).
type Frame struct {
	Width  int
	Height int
	Pix    []byte
	Index  int
	PTS    time.Duration
}

// NewFrame allocates a black frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// Stride is the number of bytes per row.
func (f *Frame) Stride() int { return f.Width * 3 }

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

// SameSize reports whether two frames have identical dimensions.
func (f *Frame) SameSize(o *Frame) bool {
	return o != nil && f.Width == o.Width && f.Height == o.Height
}

// CopyInto copies f into dst, reusing dst's buffer when it is large enough.
// A nil dst allocates a new frame.
func (f *Frame) CopyInto(dst *Frame) *Frame {
	if dst == nil {
		dst = &Frame{}
	}
	n := len(f.Pix)
	if cap(dst.Pix) < n {
		dst.Pix = make([]byte, n)
	}
	dst.Pix = dst.Pix[:n]
	copy(dst.Pix, f.Pix)
	dst.Width, dst.Height = f.Width, f.Height
	dst.Index, dst.PTS = f.Index, f.PTS
	return dst
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame { return f.CopyInto(nil) }

// grayAt returns the luma of the pixel at byte offset i using OpenCV's
// fixed-point BGR2GRAY weights.
func grayAt(pix []byte, i int) uint8 {
	b, g, r := uint32(pix[i]), uint32(pix[i+1]), uint32(pix[i+2])
	return uint8((b*1868 + g*9617 + r*4899 + 1<<13) >> 14)
}

// Gray writes the luma plane of f into dst (reallocated when too small) and
// returns it.
func (f *Frame) Gray(dst []byte) []byte {
	n := f.Width * f.Height
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for p, i := 0, 0; p < n; p, i = p+1, i+3 {
		dst[p] = grayAt(f.Pix, i)
	}
	return dst
}

// ToRGBA converts the frame to an RGBA image.
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	f.copyRegionToRGBA(img, f.Bounds())
	return img
}

// copyRegionToRGBA writes region r of f into img, whose bounds must have the
// size of r.
func (f *Frame) copyRegionToRGBA(img *image.RGBA, r image.Rectangle) {
	origin := img.Bounds().Min
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := y*f.Stride() + r.Min.X*3
		dst := img.PixOffset(origin.X, origin.Y+y-r.Min.Y)
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Pix[dst+0] = f.Pix[src+2]
			img.Pix[dst+1] = f.Pix[src+1]
			img.Pix[dst+2] = f.Pix[src+0]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
}

// pasteRGBA writes img back into f at region r.
func (f *Frame) pasteRGBA(img *image.RGBA, r image.Rectangle) {
	origin := img.Bounds().Min
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst := y*f.Stride() + r.Min.X*3
		src := img.PixOffset(origin.X, origin.Y+y-r.Min.Y)
		for x := r.Min.X; x < r.Max.X; x++ {
			f.Pix[dst+0] = img.Pix[src+2]
			f.Pix[dst+1] = img.Pix[src+1]
			f.Pix[dst+2] = img.Pix[src+0]
			src += 4
			dst += 3
		}
	}
}

// FromImage builds a BGR frame from any image.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.B, c.G, c.R
			i += 3
		}
	}
	return f
}

// Rect is one detection rectangle in pixel coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rectangle converts r to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// RectFrom converts an image.Rectangle to a Rect.
func RectFrom(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}
