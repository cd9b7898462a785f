package detectionService

import (
	"IntelProd/internal/api/detection"
	"IntelProd/internal/entity"
	"IntelProd/pkg/annotate"
	"IntelProd/pkg/artifact"
	"image"

	"golang.org/x/net/context"
)

type classification struct {
	Outcome   entity.DetectionOutcome
	ImagePath string
}

// classifier turns predictions into the verdict and, when asked, an
// annotated artifact of the image they were computed against.
type classifier struct {
	passClass string
	annotator annotate.IAnnotator
	artifacts artifact.IStore
}

func newClassifier(passClass string, annotator annotate.IAnnotator, artifacts artifact.IStore) *classifier {
	return &classifier{
		passClass: passClass,
		annotator: annotator,
		artifacts: artifacts,
	}
}

func (c *classifier) Classify(ctx context.Context, img image.Image, predictions []entity.Prediction, annotateImage bool) (classification, error) {
	result := classification{Outcome: entity.Classify(predictions, c.passClass)}
	if !annotateImage || img == nil {
		return result, nil
	}

	data, err := c.annotator.Annotate(img, predictions, c.passClass)
	if err != nil {
		return classification{}, detection.Wrap(detection.ErrArtifactStorage, err)
	}

	path, err := c.artifacts.SaveJPEG(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return classification{}, ctx.Err()
		}
		return classification{}, detection.Wrap(detection.ErrArtifactStorage, err)
	}

	result.ImagePath = path
	return result, nil
}
