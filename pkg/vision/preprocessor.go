package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/sync/semaphore"
)

var ErrInvalidImage = errors.New("image cannot be decoded")

const (
	jpegQuality = 95
	// MaxPixels caps the decoded canvas so a small file cannot declare a huge
	// image.
	MaxPixels = 40_000_000
)

// Circle is a detected circle in pixel coordinates of the source image.
type Circle struct {
	X float64
	Y float64
	R float64
}

// CircleDetector finds the dominant circle in an image. ok is false when no
// circle was found.
type CircleDetector interface {
	Detect(ctx context.Context, img image.Image) (c Circle, ok bool, err error)
}

// Result is the outcome of preprocessing one image.
type Result struct {
	// Data is the encoded image handed to inference. It is the input bytes
	// untouched when nothing was cropped.
	Data []byte
	// Image is Data decoded, kept so later stages do not decode again.
	Image   image.Image
	Cropped bool
	Bounds  image.Rectangle
}

type IPreprocessor interface {
	Preprocess(ctx context.Context, data []byte) (Result, error)
}

type preprocessor struct {
	detector CircleDetector
	sem      *semaphore.Weighted
}

// NewPreprocessor bounds concurrent decode/detect/encode work to workers.
func NewPreprocessor(detector CircleDetector, workers int) IPreprocessor {
	if workers < 1 {
		workers = 1
	}
	if detector == nil {
		detector = NoCircleDetector{}
	}

	return &preprocessor{
		detector: detector,
		sem:      semaphore.NewWeighted(int64(workers)),
	}
}

func (p *preprocessor) Preprocess(ctx context.Context, data []byte) (Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer p.sem.Release(1)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Result{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	circle, ok, err := p.detector.Detect(ctx, img)
	if err != nil {
		return Result{}, fmt.Errorf("circle detection: %w", err)
	}

	bounds := img.Bounds()
	if !ok {
		return Result{Data: data, Image: img, Bounds: bounds}, nil
	}

	rect := CropBounds(circle.X, circle.Y, circle.R, bounds)
	if rect.Empty() {
		return Result{Data: data, Image: img, Bounds: bounds}, nil
	}

	cropped := crop(img, rect)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Result{}, fmt.Errorf("encode crop: %w", err)
	}

	return Result{
		Data:    buf.Bytes(),
		Image:   cropped,
		Cropped: true,
		Bounds:  rect,
	}, nil
}

// CropBounds returns the axis-aligned square [x-r, y-r, x+r, y+r] with the
// center and radius rounded to whole pixels, clipped to bounds.
func CropBounds(x, y, r float64, bounds image.Rectangle) image.Rectangle {
	cx := int(math.Round(x))
	cy := int(math.Round(y))
	cr := int(math.Round(r))

	rect := image.Rect(cx-cr, cy-cr, cx+cr, cy+cr)
	return rect.Intersect(bounds)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop returns a copy rebased to the origin so encoders and drawers see a
// plain (0,0)-based image.
func crop(img image.Image, rect image.Rectangle) *image.RGBA {
	var src image.Image = img
	if s, ok := img.(subImager); ok {
		src = s.SubImage(rect)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst
}

// NoCircleDetector never finds a circle, which turns preprocessing into a
// pass-through.
type NoCircleDetector struct{}

func (NoCircleDetector) Detect(context.Context, image.Image) (Circle, bool, error) {
	return Circle{}, false, nil
}

// NewCircleDetector resolves a detector by name: "hough" or "none".
func NewCircleDetector(name string) (CircleDetector, error) {
	switch name {
	case "", "hough":
		return NewHoughCircleDetector()
	case "none":
		return NoCircleDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown circle detector %q", name)
	}
}
