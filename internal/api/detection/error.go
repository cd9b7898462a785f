package detection

import (
	"IntelProd/pkg/response"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnsupportedContentType = response.NewError(http.StatusUnsupportedMediaType, "UNSUPPORTED_CONTENT_TYPE", "unsupported content type")
	ErrInvalidImage           = response.NewError(http.StatusUnprocessableEntity, "INVALID_IMAGE", "invalid image")
	ErrDetectionService       = response.NewRetryableError(http.StatusBadGateway, "DETECTION_SERVICE_ERROR", "detection service error")
	ErrPersistence            = response.NewRetryableError(http.StatusServiceUnavailable, "PERSISTENCE_ERROR", "persistence error")
	ErrInvalidRequest         = response.NewError(http.StatusBadRequest, "INVALID_REQUEST", "invalid request")
	ErrCapNotFound            = response.NewError(http.StatusNotFound, "CAP_NOT_FOUND", "cap not found")
	ErrForbidden              = response.NewError(http.StatusForbidden, "FORBIDDEN", "admin role required")
	ErrArtifactStorage        = response.NewError(http.StatusInternalServerError, "ARTIFACT_STORAGE_ERROR", "failed to store annotated image")
	ErrInternalServerError    = response.NewError(http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
)

// Wrap attaches detail to a sentinel while keeping errors.Is working.
func Wrap(kind error, detail error) error {
	if detail == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, detail)
}

func IsRetryable(err error) bool {
	var respErr *response.Error
	if errors.As(err, &respErr) {
		return respErr.Retryable
	}
	return false
}
