//go:build opencv

package vision

import (
	"fmt"
	"io"
	"time"

	"gocv.io/x/gocv"
)

// VideoCaptureSource decodes through OpenCV's VideoCapture.
type VideoCaptureSource struct {
	vc    *gocv.VideoCapture
	mat   gocv.Mat
	frame *Frame
	info  SourceInfo
	index int
}

func openCVSource(path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: video capture not opened", path)
	}
	info := SourceInfo{
		Backend: "opencv",
		Width:   int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:  int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:     vc.Get(gocv.VideoCaptureFPS),
	}
	return &VideoCaptureSource{vc: vc, mat: gocv.NewMat(), info: info}, nil
}

// Next reads one frame. io.EOF marks the end of the stream.
func (s *VideoCaptureSource) Next() (*Frame, error) {
	if !s.vc.Read(&s.mat) || s.mat.Empty() {
		return nil, io.EOF
	}
	if s.mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unexpected mat type %v", s.mat.Type())
	}

	w, h := s.mat.Cols(), s.mat.Rows()
	if s.frame == nil || s.frame.Width != w || s.frame.Height != h {
		s.frame = NewFrame(w, h)
	}
	copy(s.frame.Pix, s.mat.ToBytes())
	s.frame.Index = s.index
	s.frame.PTS = time.Duration(s.vc.Get(gocv.VideoCapturePosMsec) * float64(time.Millisecond))
	s.index++
	return s.frame, nil
}

func (s *VideoCaptureSource) Info() SourceInfo { return s.info }

func (s *VideoCaptureSource) Close() error {
	s.mat.Close()
	return s.vc.Close()
}
