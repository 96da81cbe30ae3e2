//go:build opencv

package vision

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/street-safety-monitor/internal/config"
	"github.com/dj-oyu/street-safety-monitor/internal/logger"
)

const opencvBuilt = true

// CascadeDetector runs Haar cascade classifiers through OpenCV.
type CascadeDetector struct {
	mu     sync.Mutex
	bodies *gocv.CascadeClassifier
	faces  *gocv.CascadeClassifier
	body   cascadeParams
	face   cascadeParams
	status DetectorStatus
}

// NewCascadeDetector loads the body and face models from the configured
// cascade directory. A model that fails to load disables only its half.
func NewCascadeDetector(cfg config.Vision) *CascadeDetector {
	d := &CascadeDetector{
		body:   cascadeParams{scale: cfg.BodyScale, minNeighbors: cfg.BodyMinNeighbors},
		face:   cascadeParams{scale: cfg.FaceScale, minNeighbors: cfg.FaceMinNeighbors},
		status: DetectorStatus{Backend: "opencv " + gocv.OpenCVVersion()},
	}

	dir := cfg.ResolveCascadeDir()
	var reasons []string

	if c, err := loadCascade(dir, cfg.BodyModel); err != nil {
		reasons = append(reasons, err.Error())
	} else {
		d.bodies = c
		d.status.BodiesEnabled = true
	}
	if c, err := loadCascade(dir, cfg.FaceModel); err != nil {
		reasons = append(reasons, err.Error())
	} else {
		d.faces = c
		d.status.FacesEnabled = true
	}
	d.status.Reason = strings.Join(reasons, "; ")

	logger.Info("Detector", "cascade dir=%q bodies=%v faces=%v", dir, d.status.BodiesEnabled, d.status.FacesEnabled)
	return d
}

func loadCascade(dir, name string) (*gocv.CascadeClassifier, error) {
	if dir == "" {
		return nil, fmt.Errorf("%s: no cascade directory found", name)
	}
	path := filepath.Join(dir, name)
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("%s: cannot load cascade", path)
	}
	return &c, nil
}

// DetectBodies returns full-body rectangles.
func (d *CascadeDetector) DetectBodies(f *Frame) []Rect {
	return d.detect(d.bodies, d.body, f)
}

// DetectFaces returns frontal-face rectangles.
func (d *CascadeDetector) DetectFaces(f *Frame) []Rect {
	return d.detect(d.faces, d.face, f)
}

func (d *CascadeDetector) detect(c *gocv.CascadeClassifier, p cascadeParams, f *Frame) []Rect {
	if c == nil || f == nil || f.Width == 0 || f.Height == 0 {
		return []Rect{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bgr, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		logger.WarnOnce("Detector", "mat-from-bytes", "frame conversion failed: %v", err)
		return []Rect{}
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	found := c.DetectMultiScaleWithParams(gray, p.scale, p.minNeighbors, 0, image.Point{}, image.Point{})
	out := make([]Rect, 0, len(found))
	for _, r := range found {
		out = append(out, RectFrom(r))
	}
	return out
}

// Status reports which models loaded.
func (d *CascadeDetector) Status() DetectorStatus { return d.status }

// Close releases the classifiers.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.bodies != nil {
		errs = append(errs, d.bodies.Close())
		d.bodies = nil
	}
	if d.faces != nil {
		errs = append(errs, d.faces.Close())
		d.faces = nil
	}
	return errors.Join(errs...)
}
