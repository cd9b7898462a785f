package detectionService

import (
	"IntelProd/internal/api/detection"
	"IntelProd/internal/entity"
	contextPkg "IntelProd/pkg/context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

func (s *detectionService) SaveFromClient(ctx context.Context, req detection.ClientSaveRequest) (entity.DetectionRecord, error) {
	capID, predictions, err := parseClientRecord(req)
	if err != nil {
		return entity.DetectionRecord{}, err
	}

	record, err := s.persist(ctx, capID, predictions, "", entity.SourceClient)
	if err != nil {
		return entity.DetectionRecord{}, err
	}

	s.metrics.RecordOutcome(string(entity.SourceClient), record.Exists, record.Defected)
	return record, nil
}

// SaveBulk writes every record in one transaction or none of them.
func (s *detectionService) SaveBulk(ctx context.Context, req detection.BulkSaveRequest) ([]entity.DetectionRecord, error) {
	requestID := contextPkg.GetRequestID(ctx)

	if len(req.Records) == 0 {
		return nil, detection.Wrap(detection.ErrInvalidRequest, errors.New("records must not be empty"))
	}

	ts := s.now().UTC()
	records := make([]entity.DetectionRecord, 0, len(req.Records))
	for i, item := range req.Records {
		capID, predictions, err := parseClientRecord(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		id, err := s.utils.NewULIDFromTimestamp(ts)
		if err != nil {
			return nil, detection.Wrap(detection.ErrInternalServerError, err)
		}

		records = append(records, entity.NewDetectionRecord(id, capID, ts, predictions, s.cfg.PassClass, "", entity.SourceClient))
	}

	client, err := s.repo.NewClient(true)
	if err != nil {
		return nil, detection.Wrap(detection.ErrPersistence, err)
	}

	for _, record := range records {
		if err := client.Detection.CreateDetection(ctx, record); err != nil {
			if rbErr := client.Rollback(); rbErr != nil {
				s.log.WithFields(logrus.Fields{
					"request_id": requestID,
					"error":      rbErr.Error(),
				}).Error("Failed to rollback bulk save")
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, persistenceError(err)
		}
	}

	if err := client.Commit(); err != nil {
		return nil, detection.Wrap(detection.ErrPersistence, err)
	}

	for _, record := range records {
		s.metrics.RecordOutcome(string(entity.SourceClient), record.Exists, record.Defected)
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"count":      len(records),
	}).Info("Bulk save completed")

	return records, nil
}

func (s *detectionService) GetDetections(ctx context.Context) ([]entity.DetectionRecord, error) {
	client, err := s.repo.NewClient(false)
	if err != nil {
		return nil, detection.Wrap(detection.ErrPersistence, err)
	}

	return client.Detection.GetDetections(ctx)
}

func (s *detectionService) GetDetectionsByCapID(ctx context.Context, capID string) ([]entity.DetectionRecord, error) {
	capID = strings.TrimSpace(capID)
	if capID == "" {
		return nil, detection.Wrap(detection.ErrInvalidRequest, errors.New("cap_id is required"))
	}

	client, err := s.repo.NewClient(false)
	if err != nil {
		return nil, detection.Wrap(detection.ErrPersistence, err)
	}

	records, err := client.Detection.GetDetectionsByCapID(ctx, capID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, detection.ErrCapNotFound
	}

	return records, nil
}

func (s *detectionService) ExistsByCapID(ctx context.Context, capID string) (bool, error) {
	capID = strings.TrimSpace(capID)
	if capID == "" {
		return false, detection.Wrap(detection.ErrInvalidRequest, errors.New("cap_id is required"))
	}

	client, err := s.repo.NewClient(false)
	if err != nil {
		return false, detection.Wrap(detection.ErrPersistence, err)
	}

	return client.Detection.ExistsByCapID(ctx, capID)
}

func (s *detectionService) CountDetections(ctx context.Context) (int64, error) {
	client, err := s.repo.NewClient(false)
	if err != nil {
		return 0, detection.Wrap(detection.ErrPersistence, err)
	}

	return client.Detection.CountDetections(ctx)
}

func (s *detectionService) GetDefectedDetections(ctx context.Context) ([]entity.DetectionRecord, error) {
	client, err := s.repo.NewClient(false)
	if err != nil {
		return nil, detection.Wrap(detection.ErrPersistence, err)
	}

	return client.Detection.GetDefectedDetections(ctx)
}

func (s *detectionService) DeleteByCapID(ctx context.Context, user entity.UserLoginData, capID string) (int64, error) {
	if !user.IsAdmin() {
		return 0, detection.ErrForbidden
	}

	capID = strings.TrimSpace(capID)
	if capID == "" {
		return 0, detection.Wrap(detection.ErrInvalidRequest, errors.New("cap_id is required"))
	}

	client, err := s.repo.NewClient(false)
	if err != nil {
		return 0, detection.Wrap(detection.ErrPersistence, err)
	}

	deleted, err := client.Detection.DeleteByCapID(ctx, capID)
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, detection.ErrCapNotFound
	}

	s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"cap_id":     capID,
		"user_id":    user.ID,
		"deleted":    deleted,
	}).Warn("Detection records deleted")

	return deleted, nil
}

func parseClientRecord(req detection.ClientSaveRequest) (string, []entity.Prediction, error) {
	capID := strings.TrimSpace(req.CapID)
	if capID == "" {
		return "", nil, detection.Wrap(detection.ErrInvalidRequest, errors.New("cap_id is required"))
	}

	predictions, err := entity.ParsePredictions(req.Predictions)
	if err != nil {
		return "", nil, detection.Wrap(detection.ErrInvalidRequest, err)
	}

	return capID, predictions, nil
}
