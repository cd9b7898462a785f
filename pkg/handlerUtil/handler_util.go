package handlerUtil

import (
	"IntelProd/pkg/log"
	"IntelProd/pkg/response"
	pkgUtils "IntelProd/pkg/utils"
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"
)

// StatusClientClosedRequest is reported when the caller went away before the
// result was ready.
const StatusClientClosedRequest = 499

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
	TraceID   string `json:"trace_id,omitempty"`
}

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	fields := log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
		"operation":  operation,
	}

	var respErr *response.Error
	if errors.As(err, &respErr) {
		fields["code"] = respErr.Kind
		fields["status"] = respErr.Code

		body := ErrorResponse{
			Error:     err.Error(),
			Code:      respErr.Kind,
			Retryable: respErr.Retryable,
		}

		if respErr.Code >= fiber.StatusInternalServerError {
			// internal failures answer with the kind only; the detail stays in the log
			if !respErr.Retryable {
				body.Error = respErr.Error()
				body.TraceID = log.TraceID(fields)
			}
			h.logger.WithFields(fields).Error("Operation failed with error response")
		} else {
			h.logger.WithFields(fields).Warn("Operation failed with error response")
		}

		return c.Status(respErr.Code).JSON(body)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		h.logger.WithFields(fields).Warn("Request deadline exceeded")
		return h.HandleRequestTimeout(c)
	}

	if errors.Is(err, context.Canceled) {
		h.logger.WithFields(fields).Warn("Request cancelled by caller")
		return c.Status(StatusClientClosedRequest).JSON(ErrorResponse{
			Error:     "request cancelled",
			Code:      "REQUEST_CANCELLED",
			Retryable: true,
		})
	}

	if errors.Is(err, pkgUtils.ErrNoFile) {
		h.logger.WithFields(fields).Warn("No file uploaded")
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: err.Error(),
			Code:  "NO_FILE",
		})
	}

	if errors.Is(err, pkgUtils.ErrFileTooLarge) {
		h.logger.WithFields(fields).Warn("Uploaded file too large")
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error: err.Error(),
			Code:  "FILE_TOO_LARGE",
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		h.logger.WithFields(fields).Warn("Request rejected")
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error: fiberErr.Message,
			Code:  "REQUEST_REJECTED",
		})
	}

	traceID := log.TraceID(fields)
	h.logger.WithFields(fields).Error("Unexpected error")

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "An unexpected error occurred",
		Code:    "INTERNAL_ERROR",
		TraceID: traceID,
	})
}

func (h *ErrorHandler) HandleValidationError(c *fiber.Ctx, requestID string, err error, path string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
	}).Warn("Validation failed")

	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: "Validation failed: " + err.Error(),
		Code:  "VALIDATION_ERROR",
	})
}

func (h *ErrorHandler) HandleRequestTimeout(c *fiber.Ctx) error {
	return c.Status(fiber.StatusRequestTimeout).JSON(ErrorResponse{
		Error:     utils.StatusMessage(fiber.StatusRequestTimeout),
		Code:      "REQUEST_TIMEOUT",
		Retryable: true,
	})
}

func (h *ErrorHandler) HandleUnauthorized(c *fiber.Ctx, requestID string, message string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"path":       c.Path(),
		"message":    message,
	}).Warn("Unauthorized access")

	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error: message,
		Code:  "UNAUTHORIZED",
	})
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}
