//go:build !opencv

package vision

import "fmt"

func openCVSource(path string) (Source, error) {
	return nil, fmt.Errorf("%w: built without OpenCV support", ErrNoDecoder)
}
