//go:build gocv
// +build gocv

package vision

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// HoughCircleDetector runs OpenCV's gradient Hough transform on a blurred
// grayscale copy of the image and reports the first circle returned.
type HoughCircleDetector struct {
	DP         float64
	Param1     float64
	Param2     float64
	MinRadius  int
	BlurKernel int
	BlurSigma  float64
}

func NewHoughCircleDetector() (CircleDetector, error) {
	return &HoughCircleDetector{
		DP:         1.2,
		Param1:     100,
		Param2:     30,
		MinRadius:  20,
		BlurKernel: 9,
		BlurSigma:  2,
	}, nil
}

func (d *HoughCircleDetector) Detect(ctx context.Context, img image.Image) (Circle, bool, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return Circle{}, false, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return Circle{}, false, ErrInvalidImage
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(gray, &blur, image.Pt(d.BlurKernel, d.BlurKernel), d.BlurSigma, d.BlurSigma, gocv.BorderDefault)

	if err := ctx.Err(); err != nil {
		return Circle{}, false, err
	}

	rows := blur.Rows()
	circles := gocv.NewMat()
	defer circles.Close()
	gocv.HoughCirclesWithParams(
		blur,
		&circles,
		gocv.HoughGradient,
		d.DP,
		float64(rows)/8,
		d.Param1,
		d.Param2,
		d.MinRadius,
		rows/3,
	)

	if circles.Empty() || circles.Cols() == 0 {
		return Circle{}, false, nil
	}

	v := circles.GetVecfAt(0, 0)
	if len(v) < 3 {
		return Circle{}, false, nil
	}

	return Circle{X: float64(v[0]), Y: float64(v[1]), R: float64(v[2])}, true, nil
}
