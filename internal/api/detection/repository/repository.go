package detectionRepository

import (
	"IntelProd/internal/entity"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type SQLExecutor interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	Rebind(query string) string
}

// New builds the gateway; passClass is needed on read to derive the flags
// from the stored predictions.
func New(db *sqlx.DB, log *logrus.Logger, passClass string) Repository {
	if passClass == "" {
		passClass = entity.DefaultPassClass
	}

	return &repository{
		DB:        db,
		log:       log,
		passClass: passClass,
	}
}

type repository struct {
	DB        *sqlx.DB
	log       *logrus.Logger
	passClass string
}

type Repository interface {
	NewClient(tx bool) (Client, error)
}

func (r *repository) NewClient(tx bool) (Client, error) {
	var sqlExecutor SQLExecutor
	var commitFunc, rollbackFunc func() error

	sqlExecutor = r.DB

	if tx {
		var err error
		txx, err := r.DB.Beginx()
		if err != nil {
			return Client{}, err
		}

		sqlExecutor = txx
		commitFunc = txx.Commit
		rollbackFunc = txx.Rollback
	} else {
		commitFunc = func() error { return nil }
		rollbackFunc = func() error { return nil }
	}

	return Client{
		Detection: &detectionRepository{q: sqlExecutor, log: r.log, passClass: r.passClass},
		Commit:    commitFunc,
		Rollback:  rollbackFunc,
	}, nil
}

type Client struct {
	Detection interface {
		CreateDetection(c context.Context, record entity.DetectionRecord) error
		GetDetections(c context.Context) ([]entity.DetectionRecord, error)
		GetDetectionsByCapID(c context.Context, capID string) ([]entity.DetectionRecord, error)
		ExistsByCapID(c context.Context, capID string) (bool, error)
		CountDetections(c context.Context) (int64, error)
		GetDefectedDetections(c context.Context) ([]entity.DetectionRecord, error)
		DeleteByCapID(c context.Context, capID string) (int64, error)
	}

	Commit   func() error
	Rollback func() error
}

type detectionRepository struct {
	q         SQLExecutor
	log       *logrus.Logger
	passClass string
}
