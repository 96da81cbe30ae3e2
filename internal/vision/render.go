package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/dj-oyu/street-safety-monitor/internal/config"
)

// Renderer draws detections and the metrics line onto frames.
type Renderer struct {
	policy  config.Policy
	overlay bool
	quality int
}

// NewRenderer creates a renderer. The rapid-movement threshold in policy
// selects the box color.
func NewRenderer(policy config.Policy, overlay bool, jpegQuality int) *Renderer {
	return &Renderer{policy: policy, overlay: overlay, quality: jpegQuality}
}

// Render converts f to RGBA and annotates it. f itself is not modified.
func (r *Renderer) Render(f *Frame, bodies []Rect, motion float64) *image.RGBA {
	img := f.ToRGBA()
	if !r.overlay {
		return img
	}

	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(basicfont.Face7x13)

	if r.policy.IsRapid(motion) {
		dc.SetRGB255(255, 0, 0)
	} else {
		dc.SetRGB255(0, 255, 0)
	}
	dc.SetLineWidth(2)
	for _, b := range bodies {
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.W), float64(b.H))
		dc.Stroke()
		dc.DrawString("Person", float64(b.X), float64(b.Y-8))
	}

	line := OverlayText(len(bodies), motion)
	dc.SetRGB255(0, 0, 0)
	dc.DrawString(line, 11, 31)
	dc.SetRGB255(255, 255, 255)
	dc.DrawString(line, 10, 30)
	return img
}

// OverlayText formats the metrics line drawn on every annotated frame.
func OverlayText(people int, motion float64) string {
	return fmt.Sprintf("People: %d | Motion: %d", people, int(motion/1000))
}

// EncodeJPEG encodes img at the renderer's quality.
func (r *Renderer) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
