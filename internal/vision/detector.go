package vision

// Detector finds people and faces in a frame. Implementations never fail per
// frame: a missing model yields empty results and is reported by Status.
type Detector interface {
	DetectBodies(f *Frame) []Rect
	DetectFaces(f *Frame) []Rect
	Status() DetectorStatus
	Close() error
}

// DetectorStatus describes which halves of the detector are usable.
type DetectorStatus struct {
	Backend       string `json:"backend"`
	BodiesEnabled bool   `json:"bodies_enabled"`
	FacesEnabled  bool   `json:"faces_enabled"`
	Reason        string `json:"reason,omitempty"`
}

// Degraded reports whether any part of detection is unavailable.
func (s DetectorStatus) Degraded() bool {
	return !s.BodiesEnabled || !s.FacesEnabled
}

// cascadeParams are the DetectMultiScale settings for one model.
type cascadeParams struct {
	scale        float64
	minNeighbors int
}
