package detection

import (
	"IntelProd/internal/entity"

	jsoniter "github.com/json-iterator/go"
)

// DetectRequest is the form part of a multipart detect upload; the image
// travels as the "file" part.
type DetectRequest struct {
	CapID string `form:"cap_id" json:"cap_id" validate:"required,max=128"`
}

// DetectInput is one inspection handed to the pipeline.
type DetectInput struct {
	CapID       string
	Image       []byte
	ContentType string
}

type DetectionResponse struct {
	Predictions        []entity.Prediction `json:"predictions"`
	Exists             bool                `json:"exists"`
	Defected           bool                `json:"defected"`
	AnnotatedImagePath string              `json:"annotatedImagePath,omitempty"`
}

// ClientSaveRequest carries predictions computed by a trusted client. Entries
// go through the same parser as model responses.
type ClientSaveRequest struct {
	CapID       string                `json:"cap_id" validate:"required,max=128"`
	Predictions []jsoniter.RawMessage `json:"predictions" validate:"required"`
}

type BulkSaveRequest struct {
	Records []ClientSaveRequest `json:"records" validate:"required,min=1,max=500,dive"`
}

type RecordResponse struct {
	Data entity.DetectionRecord `json:"data"`
}

type RecordsResponse struct {
	Data  []entity.DetectionRecord `json:"data"`
	Total int                      `json:"total"`
}

type ExistsResponse struct {
	CapID  string `json:"cap_id"`
	Exists bool   `json:"exists"`
}

type CountResponse struct {
	Total int64 `json:"total"`
}

type DeleteResponse struct {
	CapID   string `json:"cap_id"`
	Deleted int64  `json:"deleted"`
}
