package detectionRepository

import (
	"IntelProd/internal/api/detection"
	"IntelProd/internal/entity"
	contextPkg "IntelProd/pkg/context"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type CapDetectionDB struct {
	ID          sql.NullString `db:"id"`
	CapID       sql.NullString `db:"cap_id"`
	CreatedAt   time.Time      `db:"created_at"`
	Predictions []byte         `db:"predictions"`
	ImagePath   sql.NullString `db:"image_path"`
	Source      sql.NullString `db:"source"`
}

func (r *detectionRepository) CreateDetection(c context.Context, record entity.DetectionRecord) error {
	requestID := contextPkg.GetRequestID(c)

	if !record.Source.Valid() {
		return detection.Wrap(detection.ErrInternalServerError, fmt.Errorf("unknown source %q", record.Source))
	}

	predictions := record.Predictions
	if predictions == nil {
		predictions = []entity.Prediction{}
	}

	encoded, err := json.Marshal(predictions)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"cap_id":     record.CapID,
			"error":      err.Error(),
		}).Error("Failed to encode predictions for CreateDetection")
		return detection.Wrap(detection.ErrPersistence, err)
	}

	argsKV := map[string]interface{}{
		"id":          record.ID,
		"cap_id":      record.CapID,
		"created_at":  record.Timestamp,
		"predictions": string(encoded),
		"image_path":  sql.NullString{String: record.ImagePath, Valid: record.ImagePath != ""},
		"source":      string(record.Source),
	}

	query, args, err := sqlx.Named(queryCreateDetection, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for CreateDetection")
		return detection.Wrap(detection.ErrPersistence, err)
	}
	query = r.q.Rebind(query)

	if _, err = r.q.ExecContext(c, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"cap_id":     record.CapID,
			"error":      err.Error(),
		}).Error("Database error when creating detection")
		return detection.Wrap(detection.ErrPersistence, err)
	}

	return nil
}

func (r *detectionRepository) GetDetections(c context.Context) ([]entity.DetectionRecord, error) {
	return r.selectDetections(c, "GetDetections", queryGetDetections, map[string]interface{}{})
}

func (r *detectionRepository) GetDetectionsByCapID(c context.Context, capID string) ([]entity.DetectionRecord, error) {
	return r.selectDetections(c, "GetDetectionsByCapID", queryGetDetectionsByCapID, map[string]interface{}{
		"cap_id": capID,
	})
}

func (r *detectionRepository) GetDefectedDetections(c context.Context) ([]entity.DetectionRecord, error) {
	return r.selectDetections(c, "GetDefectedDetections", queryGetDefectedDetections, map[string]interface{}{
		"pass_class": r.passClass,
	})
}

func (r *detectionRepository) ExistsByCapID(c context.Context, capID string) (bool, error) {
	requestID := contextPkg.GetRequestID(c)

	query, args, err := sqlx.Named(queryExistsByCapID, map[string]interface{}{"cap_id": capID})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ExistsByCapID named query preparation err")
		return false, detection.Wrap(detection.ErrPersistence, err)
	}
	query = r.q.Rebind(query)

	var exists bool
	if err := r.q.QueryRowxContext(c, query, args...).Scan(&exists); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ExistsByCapID execution err")
		return false, detection.Wrap(detection.ErrPersistence, err)
	}

	return exists, nil
}

func (r *detectionRepository) CountDetections(c context.Context) (int64, error) {
	requestID := contextPkg.GetRequestID(c)

	var count int64
	if err := r.q.QueryRowxContext(c, r.q.Rebind(queryCountDetections)).Scan(&count); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("CountDetections execution err")
		return 0, detection.Wrap(detection.ErrPersistence, err)
	}

	return count, nil
}

func (r *detectionRepository) DeleteByCapID(c context.Context, capID string) (int64, error) {
	requestID := contextPkg.GetRequestID(c)

	query, args, err := sqlx.Named(queryDeleteByCapID, map[string]interface{}{"cap_id": capID})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("DeleteByCapID named query preparation err")
		return 0, detection.Wrap(detection.ErrPersistence, err)
	}
	query = r.q.Rebind(query)

	result, err := r.q.ExecContext(c, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("DeleteByCapID execution err")
		return 0, detection.Wrap(detection.ErrPersistence, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("DeleteByCapID rows affected err")
		return 0, detection.Wrap(detection.ErrPersistence, err)
	}

	return rowsAffected, nil
}

func (r *detectionRepository) selectDetections(c context.Context, op, namedQuery string, argsKV map[string]interface{}) ([]entity.DetectionRecord, error) {
	requestID := contextPkg.GetRequestID(c)

	query, args, err := sqlx.Named(namedQuery, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error(op + " named query preparation err")
		return nil, detection.Wrap(detection.ErrPersistence, err)
	}
	query = r.q.Rebind(query)

	var rows []CapDetectionDB
	if err := r.q.SelectContext(c, &rows, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error(op + " execution err")
		return nil, detection.Wrap(detection.ErrPersistence, err)
	}

	result := make([]entity.DetectionRecord, 0, len(rows))
	for _, row := range rows {
		record, err := r.makeDetectionRecord(row)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"id":         row.ID.String,
				"error":      err.Error(),
			}).Error(op + " stored predictions are unreadable")
			return nil, detection.Wrap(detection.ErrPersistence, err)
		}
		result = append(result, record)
	}

	return result, nil
}

// makeDetectionRecord recomputes Exists and Defected from the stored list.
func (r *detectionRepository) makeDetectionRecord(row CapDetectionDB) (entity.DetectionRecord, error) {
	predictions := []entity.Prediction{}
	if len(row.Predictions) > 0 {
		if err := json.Unmarshal(row.Predictions, &predictions); err != nil {
			return entity.DetectionRecord{}, fmt.Errorf("decode predictions: %w", err)
		}
	}

	return entity.NewDetectionRecord(
		row.ID.String,
		row.CapID.String,
		row.CreatedAt,
		predictions,
		r.passClass,
		row.ImagePath.String,
		entity.Source(row.Source.String),
	), nil
}
