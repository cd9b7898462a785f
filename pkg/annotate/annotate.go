package annotate

import (
	"IntelProd/internal/entity"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	PassColor = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	FailColor = color.RGBA{R: 220, G: 0, B: 0, A: 255}
)

const (
	thickness   = 2
	labelOffset = 8
	jpegQuality = 90
)

type IAnnotator interface {
	// Annotate draws every prediction onto a copy of img and returns it as
	// JPEG. img itself is never modified.
	Annotate(img image.Image, predictions []entity.Prediction, passClass string) ([]byte, error)
}

type annotator struct {
	face font.Face
}

func New() IAnnotator {
	return &annotator{face: basicfont.Face7x13}
}

func (a *annotator) Annotate(img image.Image, predictions []entity.Prediction, passClass string) ([]byte, error) {
	canvas := a.Render(img, predictions, passClass)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// Render returns the annotated copy without encoding it.
func (a *annotator) Render(img image.Image, predictions []entity.Prediction, passClass string) *image.RGBA {
	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)

	for _, p := range predictions {
		c := FailColor
		if p.Class == passClass {
			c = PassColor
		}

		rect := p.BBox.Rect().Intersect(canvas.Bounds())
		if rect.Empty() {
			continue
		}

		strokeRect(canvas, rect, c)
		a.label(canvas, rect.Min, fmt.Sprintf("%s %.2f", p.Class, p.Confidence), c)
	}

	return canvas
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	t := thickness
	if r.Dx() < 2*t || r.Dy() < 2*t {
		draw.Draw(dst, r, src, image.Point{}, draw.Src)
		return
	}

	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
}

// label writes text with its baseline labelOffset pixels above the box,
// pushed down when that would leave the image.
func (a *annotator) label(dst *image.RGBA, at image.Point, text string, c color.Color) {
	ascent := a.face.Metrics().Ascent.Ceil()

	y := at.Y - labelOffset
	if y < ascent {
		y = ascent
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: a.face,
		Dot:  fixed.P(at.X, y),
	}
	d.DrawString(text)
}
