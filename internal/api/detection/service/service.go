package detectionService

import (
	"IntelProd/internal/api/detection"
	detectionRepository "IntelProd/internal/api/detection/repository"
	"IntelProd/internal/entity"
	"IntelProd/pkg/annotate"
	"IntelProd/pkg/artifact"
	"IntelProd/pkg/metrics"
	"IntelProd/pkg/roboflow"
	"IntelProd/pkg/utils"
	"IntelProd/pkg/vision"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type IDetectionService interface {
	Detect(ctx context.Context, input detection.DetectInput) (detection.DetectionResponse, error)
	DetectWorkflow(ctx context.Context, input detection.DetectInput) (detection.DetectionResponse, error)

	SaveFromClient(ctx context.Context, req detection.ClientSaveRequest) (entity.DetectionRecord, error)
	SaveBulk(ctx context.Context, req detection.BulkSaveRequest) ([]entity.DetectionRecord, error)

	GetDetections(ctx context.Context) ([]entity.DetectionRecord, error)
	GetDetectionsByCapID(ctx context.Context, capID string) ([]entity.DetectionRecord, error)
	ExistsByCapID(ctx context.Context, capID string) (bool, error)
	CountDetections(ctx context.Context) (int64, error)
	GetDefectedDetections(ctx context.Context) ([]entity.DetectionRecord, error)
	DeleteByCapID(ctx context.Context, user entity.UserLoginData, capID string) (int64, error)
}

type Config struct {
	PassClass  string
	ModelID    string
	Workspace  string
	WorkflowID string
}

type detectionService struct {
	cfg          Config
	repo         detectionRepository.Repository
	preprocessor vision.IPreprocessor
	inference    roboflow.IRoboflow
	classifier   *classifier
	metrics      metrics.IMetrics
	utils        utils.IUtils
	log          *logrus.Logger
	now          func() time.Time
}

func NewDetectionService(
	cfg Config,
	repo detectionRepository.Repository,
	preprocessor vision.IPreprocessor,
	inference roboflow.IRoboflow,
	annotator annotate.IAnnotator,
	artifacts artifact.IStore,
	metrics metrics.IMetrics,
	utils utils.IUtils,
	log *logrus.Logger,
) IDetectionService {
	if cfg.PassClass == "" {
		cfg.PassClass = entity.DefaultPassClass
	}

	return &detectionService{
		cfg:          cfg,
		repo:         repo,
		preprocessor: preprocessor,
		inference:    inference,
		classifier:   newClassifier(cfg.PassClass, annotator, artifacts),
		metrics:      metrics,
		utils:        utils,
		log:          log,
		now:          time.Now,
	}
}
