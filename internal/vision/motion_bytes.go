//go:build !opencv

package vision

func estimateMotion(cur, prev *Frame, threshold int) float64 {
	return countChangedPixels(cur, prev, threshold)
}
