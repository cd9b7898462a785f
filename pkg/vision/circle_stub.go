//go:build !gocv
// +build !gocv

package vision

import "errors"

var ErrHoughUnavailable = errors.New("hough circle detector requires the gocv build tag")

// NewHoughCircleDetector fails in builds without OpenCV. Use the "none"
// detector to run without cropping.
func NewHoughCircleDetector() (CircleDetector, error) {
	return nil, ErrHoughUnavailable
}
