package detectionService

import (
	"IntelProd/internal/api/detection"
	"IntelProd/internal/entity"
	contextPkg "IntelProd/pkg/context"
	"IntelProd/pkg/response"
	"IntelProd/pkg/utils"
	"IntelProd/pkg/vision"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// pipelineRun tracks one inspection through the state machine. It is owned by
// a single request and never shared.
type pipelineRun struct {
	s         *detectionService
	source    entity.Source
	capID     string
	requestID string
	state     entity.PipelineState
	entered   time.Time
}

func (s *detectionService) newRun(ctx context.Context, source entity.Source, capID string) *pipelineRun {
	return &pipelineRun{
		s:         s,
		source:    source,
		capID:     capID,
		requestID: contextPkg.GetRequestID(ctx),
		state:     entity.StateReceived,
		entered:   time.Now(),
	}
}

func (r *pipelineRun) fields() logrus.Fields {
	return logrus.Fields{
		"request_id": r.requestID,
		"cap_id":     r.capID,
		"source":     string(r.source),
		"state":      string(r.state),
	}
}

// advance moves to the next state; stage latency is the time spent in the
// state being left.
func (r *pipelineRun) advance() {
	next, ok := r.state.Next()
	if !ok {
		return
	}

	r.s.metrics.ObserveStage(string(r.source), string(next), time.Since(r.entered))
	r.state = next
	r.entered = time.Now()

	r.s.log.WithFields(r.fields()).Debug("Pipeline advanced")
}

// fail enters Failed and hands back err unchanged.
func (r *pipelineRun) fail(err error) error {
	stage := r.state
	r.state = entity.StateFailed

	kind := "UNKNOWN"
	var respErr *response.Error
	switch {
	case errors.As(err, &respErr):
		kind = respErr.Kind
	case errors.Is(err, context.Canceled):
		kind = "CANCELLED"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "DEADLINE_EXCEEDED"
	}
	r.s.metrics.RecordFailure(string(r.source), string(stage), kind)

	fields := r.fields()
	fields["failed_after"] = string(stage)
	fields["error"] = err.Error()
	fields["retryable"] = detection.IsRetryable(err)
	r.s.log.WithFields(fields).Warn("Pipeline failed")

	return err
}

// checkpoint stops the run when the caller has gone away.
func (r *pipelineRun) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	return nil
}

func (s *detectionService) Detect(ctx context.Context, input detection.DetectInput) (detection.DetectionResponse, error) {
	return s.runPipeline(ctx, entity.SourceDetect, input)
}

func (s *detectionService) DetectWorkflow(ctx context.Context, input detection.DetectInput) (detection.DetectionResponse, error) {
	return s.runPipeline(ctx, entity.SourceWorkflow, input)
}

func (s *detectionService) runPipeline(ctx context.Context, source entity.Source, input detection.DetectInput) (detection.DetectionResponse, error) {
	capID := strings.TrimSpace(input.CapID)
	run := s.newRun(ctx, source, capID)

	s.log.WithFields(run.fields()).Debug("Pipeline received")

	if capID == "" {
		return detection.DetectionResponse{}, run.fail(detection.Wrap(detection.ErrInvalidRequest, errors.New("cap_id is required")))
	}
	if !utils.IsSupportedImageType(input.ContentType) {
		return detection.DetectionResponse{}, run.fail(detection.Wrap(detection.ErrUnsupportedContentType, fmt.Errorf("%q", input.ContentType)))
	}
	if len(input.Image) == 0 {
		return detection.DetectionResponse{}, run.fail(detection.Wrap(detection.ErrInvalidImage, errors.New("empty image")))
	}
	if err := run.checkpoint(ctx); err != nil {
		return detection.DetectionResponse{}, err
	}

	prepared, err := s.preprocessor.Preprocess(ctx, input.Image)
	if err != nil {
		return detection.DetectionResponse{}, run.fail(preprocessError(ctx, err))
	}
	run.advance()
	if err := run.checkpoint(ctx); err != nil {
		return detection.DetectionResponse{}, err
	}

	predictions, err := s.infer(ctx, source, prepared.Data)
	if err != nil {
		return detection.DetectionResponse{}, run.fail(err)
	}
	run.advance()
	if err := run.checkpoint(ctx); err != nil {
		return detection.DetectionResponse{}, err
	}

	classified, err := s.classifier.Classify(ctx, prepared.Image, predictions, source == entity.SourceDetect)
	if err != nil {
		return detection.DetectionResponse{}, run.fail(err)
	}
	run.advance()
	if err := run.checkpoint(ctx); err != nil {
		return detection.DetectionResponse{}, err
	}

	record, err := s.persist(ctx, capID, predictions, classified.ImagePath, source)
	if err != nil {
		return detection.DetectionResponse{}, run.fail(err)
	}
	run.advance()

	s.metrics.RecordOutcome(string(source), record.Exists, record.Defected)

	resp := detection.DetectionResponse{
		Predictions:        record.Predictions,
		Exists:             record.Exists,
		Defected:           record.Defected,
		AnnotatedImagePath: classified.ImagePath,
	}
	run.advance()

	fields := run.fields()
	fields["record_id"] = record.ID
	fields["exists"] = record.Exists
	fields["defected"] = record.Defected
	fields["cropped"] = prepared.Cropped
	s.log.WithFields(fields).Info("Inspection completed")

	return resp, nil
}

func (s *detectionService) infer(ctx context.Context, source entity.Source, image []byte) ([]entity.Prediction, error) {
	var (
		predictions []entity.Prediction
		err         error
	)

	switch source {
	case entity.SourceWorkflow:
		predictions, err = s.inference.RunWorkflow(ctx, s.cfg.Workspace, s.cfg.WorkflowID, image)
	default:
		predictions, err = s.inference.Infer(ctx, s.cfg.ModelID, image)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, detection.Wrap(detection.ErrDetectionService, err)
	}
	if predictions == nil {
		predictions = []entity.Prediction{}
	}

	return predictions, nil
}

func (s *detectionService) persist(ctx context.Context, capID string, predictions []entity.Prediction, imagePath string, source entity.Source) (entity.DetectionRecord, error) {
	ts := s.now().UTC()

	id, err := s.utils.NewULIDFromTimestamp(ts)
	if err != nil {
		return entity.DetectionRecord{}, detection.Wrap(detection.ErrInternalServerError, err)
	}

	record := entity.NewDetectionRecord(id, capID, ts, predictions, s.cfg.PassClass, imagePath, source)

	client, err := s.repo.NewClient(false)
	if err != nil {
		return entity.DetectionRecord{}, detection.Wrap(detection.ErrPersistence, err)
	}

	if err := client.Detection.CreateDetection(ctx, record); err != nil {
		if ctx.Err() != nil {
			return entity.DetectionRecord{}, ctx.Err()
		}
		return entity.DetectionRecord{}, persistenceError(err)
	}

	return record, nil
}

func preprocessError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, vision.ErrInvalidImage):
		return detection.Wrap(detection.ErrInvalidImage, err)
	default:
		return detection.Wrap(detection.ErrInternalServerError, err)
	}
}

// persistenceError keeps an already-classified gateway error and classifies
// anything else as a store failure.
func persistenceError(err error) error {
	if errors.Is(err, detection.ErrPersistence) {
		return err
	}
	return detection.Wrap(detection.ErrPersistence, err)
}
