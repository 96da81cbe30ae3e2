package vision

// DefaultDiffThreshold is the per-pixel luma difference above which a pixel
// counts as changed.
const DefaultDiffThreshold = 30

// MotionEstimator counts changed pixels between consecutive frames.
type MotionEstimator struct {
	Threshold int
}

// NewMotionEstimator returns an estimator with the given luma threshold.
func NewMotionEstimator(threshold int) *MotionEstimator {
	return &MotionEstimator{Threshold: threshold}
}

// Estimate returns the number of pixels whose gray level differs by more than
// the threshold. It is 0 when prev is nil or the frames differ in size.
//
// The result equals sum(threshold(absdiff(gray(prev), gray(cur)))) / 255.
func (m *MotionEstimator) Estimate(cur, prev *Frame) float64 {
	return EstimateMotion(cur, prev, m.Threshold)
}

// EstimateMotion is the stateless form of MotionEstimator.Estimate.
func EstimateMotion(cur, prev *Frame, threshold int) float64 {
	if cur == nil || !cur.SameSize(prev) {
		return 0
	}
	if len(cur.Pix) < cur.Width*cur.Height*3 || len(prev.Pix) < len(cur.Pix) {
		return 0
	}
	return estimateMotion(cur, prev, threshold)
}

// countChangedPixels is the pure Go differencing loop.
func countChangedPixels(cur, prev *Frame, threshold int) float64 {
	n := cur.Width * cur.Height * 3
	changed := 0
	for i := 0; i+2 < n; i += 3 {
		d := int(grayAt(cur.Pix, i)) - int(grayAt(prev.Pix, i))
		if d < 0 {
			d = -d
		}
		if d > threshold {
			changed++
		}
	}
	return float64(changed)
}
