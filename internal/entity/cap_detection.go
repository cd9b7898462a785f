package entity

import "time"

// DefaultPassClass is the label of a non-defective cap.
const DefaultPassClass = "good_cap"

type Source string

const (
	SourceDetect   Source = "detect"
	SourceWorkflow Source = "workflow"
	SourceClient   Source = "client"
)

func (s Source) Valid() bool {
	switch s {
	case SourceDetect, SourceWorkflow, SourceClient:
		return true
	default:
		return false
	}
}

type DetectionOutcome struct {
	Exists   bool `json:"exists"`
	Defected bool `json:"defected"`
}

// Classify derives the verdict from a prediction list. Every label other than
// passClass counts as a defect.
func Classify(predictions []Prediction, passClass string) DetectionOutcome {
	outcome := DetectionOutcome{Exists: len(predictions) > 0}
	for _, p := range predictions {
		if p.Class != passClass {
			outcome.Defected = true
			break
		}
	}
	return outcome
}

// DetectionRecord is the append-only unit written once per inspection.
// Exists and Defected are always derived from Predictions.
type DetectionRecord struct {
	ID          string       `json:"id"`
	CapID       string       `json:"cap_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Predictions []Prediction `json:"predictions"`
	Exists      bool         `json:"exists"`
	Defected    bool         `json:"defected"`
	ImagePath   string       `json:"image_path,omitempty"`
	Source      Source       `json:"source"`
}

// NewDetectionRecord copies predictions so the caller keeps ownership of its
// slice.
func NewDetectionRecord(id, capID string, ts time.Time, predictions []Prediction, passClass, imagePath string, source Source) DetectionRecord {
	owned := make([]Prediction, len(predictions))
	copy(owned, predictions)

	outcome := Classify(owned, passClass)

	return DetectionRecord{
		ID:          id,
		CapID:       capID,
		Timestamp:   ts,
		Predictions: owned,
		Exists:      outcome.Exists,
		Defected:    outcome.Defected,
		ImagePath:   imagePath,
		Source:      source,
	}
}

func (r DetectionRecord) Outcome() DetectionOutcome {
	return DetectionOutcome{Exists: r.Exists, Defected: r.Defected}
}
