package vision

import (
	"image"

	"github.com/disintegration/gift"
)

// Anonymizer blurs face regions in place.
type Anonymizer struct {
	filter *gift.GIFT
}

// NewAnonymizer returns an anonymizer applying a Gaussian blur with the given
// sigma.
func NewAnonymizer(sigma float32) *Anonymizer {
	return &Anonymizer{filter: gift.New(gift.GaussianBlur(sigma))}
}

// Anonymize replaces every rectangle (clipped to the frame) with its blurred
// version. Empty or fully outside rectangles are skipped.
func (a *Anonymizer) Anonymize(f *Frame, faces []Rect) int {
	blurred := 0
	for _, face := range faces {
		r := face.Rectangle().Intersect(f.Bounds())
		if r.Empty() {
			continue
		}

		src := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		f.copyRegionToRGBA(src, r)

		dst := image.NewRGBA(a.filter.Bounds(src.Bounds()))
		a.filter.Draw(dst, src)

		f.pasteRGBA(dst, r)
		blurred++
	}
	return blurred
}
