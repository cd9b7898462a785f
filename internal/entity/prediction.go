package entity

import (
	"errors"
	"fmt"
	"image"
	"math"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrMalformedPrediction = errors.New("malformed prediction")

// BBox is an axis-aligned rectangle in pixel coordinates of the image the
// prediction was computed on. It is serialized as [x1, y1, x2, y2].
type BBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

type bboxObject struct {
	X1 *float64 `json:"x1"`
	Y1 *float64 `json:"y1"`
	X2 *float64 `json:"x2"`
	Y2 *float64 `json:"y2"`
}

func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X1, b.Y1, b.X2, b.Y2})
}

// UnmarshalJSON accepts either the array form or an {x1,y1,x2,y2} object.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var arr []*float64
	if err := json.Unmarshal(data, &arr); err == nil && arr != nil {
		if len(arr) != 4 {
			return fmt.Errorf("%w: bbox needs 4 coordinates, got %d", ErrMalformedPrediction, len(arr))
		}
		for _, v := range arr {
			if v == nil {
				return fmt.Errorf("%w: bbox coordinate is null", ErrMalformedPrediction)
			}
		}
		return b.set(*arr[0], *arr[1], *arr[2], *arr[3])
	}

	var obj bboxObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: bbox is neither an array nor an object", ErrMalformedPrediction)
	}
	if obj.X1 == nil || obj.Y1 == nil || obj.X2 == nil || obj.Y2 == nil {
		return fmt.Errorf("%w: bbox object is missing a coordinate", ErrMalformedPrediction)
	}
	return b.set(*obj.X1, *obj.Y1, *obj.X2, *obj.Y2)
}

func (b *BBox) set(x1, y1, x2, y2 float64) error {
	for _, v := range []float64{x1, y1, x2, y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bbox coordinate is not finite", ErrMalformedPrediction)
		}
	}
	if x2 < x1 || y2 < y1 {
		return fmt.Errorf("%w: bbox corners are inverted", ErrMalformedPrediction)
	}
	*b = BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
	return nil
}

// Rect rounds the box to the pixel grid.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	)
}

type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// rawPrediction mirrors what detection services emit. Roboflow reports boxes
// as center x/y plus width/height instead of a bbox field.
type rawPrediction struct {
	Class      *string             `json:"class"`
	Confidence *float64            `json:"confidence"`
	BBox       jsoniter.RawMessage `json:"bbox"`
	X          *float64            `json:"x"`
	Y          *float64            `json:"y"`
	Width      *float64            `json:"width"`
	Height     *float64            `json:"height"`
}

// ParsePrediction decodes one untrusted prediction object. class, confidence
// and a box are required; any other field is ignored.
func ParsePrediction(data []byte) (Prediction, error) {
	var raw rawPrediction
	if err := json.Unmarshal(data, &raw); err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrMalformedPrediction, err)
	}

	if raw.Class == nil || *raw.Class == "" {
		return Prediction{}, fmt.Errorf("%w: missing class", ErrMalformedPrediction)
	}
	if raw.Confidence == nil {
		return Prediction{}, fmt.Errorf("%w: missing confidence", ErrMalformedPrediction)
	}
	if c := *raw.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
		return Prediction{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedPrediction, c)
	}

	p := Prediction{Class: *raw.Class, Confidence: *raw.Confidence}

	switch {
	case len(raw.BBox) > 0 && string(raw.BBox) != "null":
		if err := p.BBox.UnmarshalJSON(raw.BBox); err != nil {
			return Prediction{}, err
		}
	case raw.X != nil && raw.Y != nil && raw.Width != nil && raw.Height != nil:
		halfW, halfH := *raw.Width/2, *raw.Height/2
		if err := p.BBox.set(*raw.X-halfW, *raw.Y-halfH, *raw.X+halfW, *raw.Y+halfH); err != nil {
			return Prediction{}, err
		}
	default:
		return Prediction{}, fmt.Errorf("%w: missing bbox", ErrMalformedPrediction)
	}

	return p, nil
}

// ParsePredictions parses a list in order and stops at the first bad entry.
func ParsePredictions(items []jsoniter.RawMessage) ([]Prediction, error) {
	predictions := make([]Prediction, 0, len(items))
	for i, item := range items {
		p, err := ParsePrediction(item)
		if err != nil {
			return nil, fmt.Errorf("prediction %d: %w", i, err)
		}
		predictions = append(predictions, p)
	}
	return predictions, nil
}
