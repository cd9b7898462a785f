package detectionHandler

import (
	detectionService "IntelProd/internal/api/detection/service"
	"IntelProd/internal/middleware"
	"IntelProd/pkg/utils"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	requestTimeout = 10 * time.Second
	// detectTimeout covers preprocessing, the remote inference call and the
	// write, so it sits above the inference timeout.
	detectTimeout = 30 * time.Second
)

type DetectionHandler struct {
	log              *logrus.Logger
	validator        *validator.Validate
	middleware       middleware.Middleware
	detectionService detectionService.IDetectionService
	utils            utils.IUtils
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ds detectionService.IDetectionService,
	utils utils.IUtils,
) *DetectionHandler {
	return &DetectionHandler{
		detectionService: ds,
		log:              log,
		validator:        validator,
		middleware:       middleware,
		utils:            utils,
	}
}

func (h *DetectionHandler) Start(srv fiber.Router) {
	caps := srv.Group("/caps", h.middleware.NewTokenMiddleware, h.middleware.NewRateLimiter)

	caps.Post("/detect", h.Detect)
	caps.Post("/detect-workflow", h.DetectWorkflow)
	caps.Post("/save-from-client", h.SaveFromClient)
	caps.Post("/bulk", h.SaveBulk)

	caps.Get("", h.GetDetections)
	caps.Get("/count", h.CountDetections)
	caps.Get("/defected", h.GetDefectedDetections)
	caps.Get("/:capId", h.GetDetectionsByCapID)
	caps.Get("/:capId/exists", h.ExistsByCapID)
	caps.Delete("/:capId", h.DeleteByCapID)
}
