//go:build opencv

package vision

import (
	"gocv.io/x/gocv"

	"github.com/dj-oyu/street-safety-monitor/internal/logger"
)

// estimateMotion differences the gray planes with OpenCV and counts the
// pixels the binary threshold keeps.
func estimateMotion(cur, prev *Frame, threshold int) float64 {
	curGray, err := grayMat(cur)
	if err != nil {
		logger.WarnOnce("Motion", "mat-from-bytes", "frame conversion failed, using Go differencing: %v", err)
		return countChangedPixels(cur, prev, threshold)
	}
	defer curGray.Close()

	prevGray, err := grayMat(prev)
	if err != nil {
		logger.WarnOnce("Motion", "mat-from-bytes", "frame conversion failed, using Go differencing: %v", err)
		return countChangedPixels(cur, prev, threshold)
	}
	defer prevGray.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(curGray, prevGray, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, float32(threshold), 255, gocv.ThresholdBinary)

	return float64(gocv.CountNonZero(mask))
}

func grayMat(f *Frame) (gocv.Mat, error) {
	bgr, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix[:f.Width*f.Height*3])
	if err != nil {
		return gocv.Mat{}, err
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray, nil
}
