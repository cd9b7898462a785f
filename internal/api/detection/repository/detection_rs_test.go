package detectionRepository

import (
	"IntelProd/internal/api/detection"
	"IntelProd/internal/entity"
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "cap_id", "created_at", "predictions", "image_path", "source"}

func newMock(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return New(sqlx.NewDb(raw, "postgres"), log, "good_cap"), mock
}

// jsonArg matches the encoded predictions parameter.
type jsonArg string

func (j jsonArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && s == string(j)
}

func TestCreateDetection(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	record := entity.NewDetectionRecord("01HX", "CAP-1", ts, []entity.Prediction{
		{Class: "good_cap", Confidence: 0.9, BBox: entity.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}},
	}, "good_cap", "/static/annotated/a.jpg", entity.SourceDetect)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cap_detections")).
		WithArgs("01HX", "CAP-1", ts,
			jsonArg(`[{"class":"good_cap","confidence":0.9,"bbox":[1,2,3,4]}]`),
			"/static/annotated/a.jpg", "detect").
		WillReturnResult(sqlmock.NewResult(0, 1))

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	require.NoError(t, client.Detection.CreateDetection(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDetection_EmptyPredictionsAndNoImage(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cap_detections")).
		WithArgs("01HY", "CAP-2", ts, jsonArg(`[]`), nil, "client").
		WillReturnResult(sqlmock.NewResult(0, 1))

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	record := entity.DetectionRecord{ID: "01HY", CapID: "CAP-2", Timestamp: ts, Source: entity.SourceClient}
	require.NoError(t, client.Detection.CreateDetection(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDetection_StoreFailureIsPersistenceError(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cap_detections")).
		WillReturnError(errors.New("connection refused"))

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	err = client.Detection.CreateDetection(context.Background(), entity.DetectionRecord{ID: "x", CapID: "c", Source: entity.SourceDetect})
	require.Error(t, err)
	assert.ErrorIs(t, err, detection.ErrPersistence)
	assert.True(t, detection.IsRetryable(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCreateDetection_RejectsUnknownSource(t *testing.T) {
	repo, mock := newMock(t)

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	err = client.Detection.CreateDetection(context.Background(), entity.DetectionRecord{ID: "x", CapID: "c", Source: "upload"})
	assert.ErrorIs(t, err, detection.ErrInternalServerError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDetectionsByCapID_DerivesFlagsOnRead(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(columns).
		AddRow("01A", "CAP-1", ts, []byte(`[{"class":"good_cap","confidence":0.8,"bbox":[0,0,10,10]}]`), "/static/annotated/a.jpg", "detect").
		AddRow("01B", "CAP-1", ts.Add(time.Minute), []byte(`[{"class":"good_cap","confidence":0.8,"bbox":[0,0,10,10]},{"class":"cap_defect","confidence":0.6,"bbox":[1,1,5,5]}]`), nil, "workflow").
		AddRow("01C", "CAP-1", ts.Add(2*time.Minute), []byte(`[]`), nil, "client")

	mock.ExpectQuery(regexp.QuoteMeta("FROM cap_detections")).
		WithArgs("CAP-1").
		WillReturnRows(rows)

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	records, err := client.Detection.GetDetectionsByCapID(context.Background(), "CAP-1")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "01A", records[0].ID)
	assert.True(t, records[0].Exists)
	assert.False(t, records[0].Defected)
	assert.Equal(t, "/static/annotated/a.jpg", records[0].ImagePath)

	assert.True(t, records[1].Exists)
	assert.True(t, records[1].Defected)
	assert.Equal(t, entity.SourceWorkflow, records[1].Source)
	assert.Empty(t, records[1].ImagePath)

	assert.False(t, records[2].Exists)
	assert.False(t, records[2].Defected)
	assert.NotNil(t, records[2].Predictions)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDetections_UnreadablePredictions(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("01A", "CAP-1", time.Now(), []byte(`{oops`), nil, "detect"))

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	_, err = client.Detection.GetDetections(context.Background())
	assert.ErrorIs(t, err, detection.ErrPersistence)
}

func TestGetDefectedDetections_UsesPassClass(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("jsonb_array_elements(predictions)")).
		WithArgs("good_cap").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("01B", "CAP-9", time.Now(), []byte(`[{"class":"scratch","confidence":0.5,"bbox":[0,0,1,1]}]`), nil, "detect"))

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	records, err := client.Detection.GetDefectedDetections(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Defected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsAndCount(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("CAP-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cap_detections")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	exists, err := client.Detection.ExistsByCapID(context.Background(), "CAP-1")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := client.Detection.CountDetections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByCapID(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cap_detections")).
		WithArgs("CAP-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	client, err := repo.NewClient(false)
	require.NoError(t, err)

	n, err := client.Detection.DeleteByCapID(context.Background(), "CAP-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewClient_TransactionCommitAndRollback(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cap_detections")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	client, err := repo.NewClient(true)
	require.NoError(t, err)
	require.NoError(t, client.Detection.CreateDetection(context.Background(), entity.DetectionRecord{ID: "1", CapID: "c", Source: entity.SourceClient}))
	require.NoError(t, client.Commit())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cap_detections")).WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	client, err = repo.NewClient(true)
	require.NoError(t, err)
	assert.Error(t, client.Detection.CreateDetection(context.Background(), entity.DetectionRecord{ID: "2", CapID: "c", Source: entity.SourceClient}))
	require.NoError(t, client.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}
