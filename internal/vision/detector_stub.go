//go:build !opencv

package vision

import "github.com/dj-oyu/street-safety-monitor/internal/config"

const opencvBuilt = false

// CascadeDetector is the detector used when the binary is built without
// OpenCV. Every call returns no detections.
type CascadeDetector struct {
	status DetectorStatus
}

// NewCascadeDetector returns a disabled detector.
func NewCascadeDetector(cfg config.Vision) *CascadeDetector {
	return &CascadeDetector{status: DetectorStatus{
		Backend: "none",
		Reason:  "built without OpenCV support (rebuild with -tags opencv)",
	}}
}

func (d *CascadeDetector) DetectBodies(*Frame) []Rect { return []Rect{} }

func (d *CascadeDetector) DetectFaces(*Frame) []Rect { return []Rect{} }

func (d *CascadeDetector) Status() DetectorStatus { return d.status }

func (d *CascadeDetector) Close() error { return nil }
