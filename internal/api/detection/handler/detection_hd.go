package detectionHandler

import (
	"IntelProd/internal/api/detection"
	"IntelProd/internal/entity"
	contextPkg "IntelProd/pkg/context"
	"IntelProd/pkg/handlerUtil"
	jwtPkg "IntelProd/pkg/jwt"
	"IntelProd/pkg/log"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"golang.org/x/net/context"
)

type pipelineFunc func(ctx context.Context, input detection.DetectInput) (detection.DetectionResponse, error)

func (h *DetectionHandler) Detect(ctx *fiber.Ctx) error {
	return h.runDetection(ctx, "detect", h.detectionService.Detect)
}

func (h *DetectionHandler) DetectWorkflow(ctx *fiber.Ctx) error {
	return h.runDetection(ctx, "detect_workflow", h.detectionService.DetectWorkflow)
}

func (h *DetectionHandler) runDetection(ctx *fiber.Ctx, operation string, run pipelineFunc) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), detectTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing detection request")

	var req detection.DetectRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, detection.Wrap(detection.ErrInvalidRequest, err), ctx.Path(), "parse_request_body")
	}
	req.CapID = strings.TrimSpace(req.CapID)

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	file, err := ctx.FormFile("file")
	if err != nil && !errors.Is(err, fasthttp.ErrMissingFile) {
		return errHandler.Handle(ctx, requestID, detection.Wrap(detection.ErrInvalidRequest, err), ctx.Path(), "read_form_file")
	}

	image, contentType, err := h.utils.ReadImageFile(file)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "read_image")
	}

	res, err := run(c, detection.DetectInput{
		CapID:       req.CapID,
		Image:       image,
		ContentType: contentType,
	})
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), operation)
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, res)
}

func (h *DetectionHandler) SaveFromClient(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing save from client request")

	var req detection.ClientSaveRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, detection.Wrap(detection.ErrInvalidRequest, err), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	record, err := h.detectionService.SaveFromClient(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "save_from_client")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusCreated, detection.RecordResponse{Data: record})
	}
}

func (h *DetectionHandler) SaveBulk(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	var req detection.BulkSaveRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, detection.Wrap(detection.ErrInvalidRequest, err), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	records, err := h.detectionService.SaveBulk(c, req)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "save_bulk")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusCreated, detection.RecordsResponse{
			Data:  records,
			Total: len(records),
		})
	}
}

func (h *DetectionHandler) GetDetections(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	records, err := h.detectionService.GetDetections(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_detections")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, recordsResponse(records))
	}
}

func (h *DetectionHandler) GetDefectedDetections(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	records, err := h.detectionService.GetDefectedDetections(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_defected_detections")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, recordsResponse(records))
	}
}

func (h *DetectionHandler) CountDetections(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	total, err := h.detectionService.CountDetections(c)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "count_detections")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, detection.CountResponse{Total: total})
	}
}

func (h *DetectionHandler) GetDetectionsByCapID(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	capID := ctx.Params("capId")
	if capID == "" {
		return errHandler.HandleValidationError(ctx, requestID,
			errors.New("capId is required"), ctx.Path())
	}

	records, err := h.detectionService.GetDetectionsByCapID(c, capID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_detections_by_cap_id")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, recordsResponse(records))
	}
}

func (h *DetectionHandler) ExistsByCapID(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	capID := ctx.Params("capId")
	if capID == "" {
		return errHandler.HandleValidationError(ctx, requestID,
			errors.New("capId is required"), ctx.Path())
	}

	exists, err := h.detectionService.ExistsByCapID(c, capID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "exists_by_cap_id")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, detection.ExistsResponse{CapID: capID, Exists: exists})
	}
}

func (h *DetectionHandler) DeleteByCapID(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), requestTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	userData, err := jwtPkg.GetUserLoginData(ctx)
	if err != nil {
		return errHandler.HandleUnauthorized(ctx, requestID, "Unauthorized")
	}

	capID := ctx.Params("capId")
	if capID == "" {
		return errHandler.HandleValidationError(ctx, requestID,
			errors.New("capId is required"), ctx.Path())
	}

	deleted, err := h.detectionService.DeleteByCapID(c, userData, capID)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "delete_by_cap_id")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, detection.DeleteResponse{CapID: capID, Deleted: deleted})
	}
}

func recordsResponse(records []entity.DetectionRecord) detection.RecordsResponse {
	if records == nil {
		records = []entity.DetectionRecord{}
	}
	return detection.RecordsResponse{Data: records, Total: len(records)}
}
