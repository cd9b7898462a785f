package detectionService

import (
	"IntelProd/internal/api/detection"
	detectionRepository "IntelProd/internal/api/detection/repository"
	"IntelProd/internal/entity"
	"IntelProd/pkg/annotate"
	"IntelProd/pkg/utils"
	"IntelProd/pkg/vision"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []entity.DetectionRecord
	createErr error
	// failOnCall makes the n-th create (1-based) fail; 0 disables.
	failOnCall int
	calls      int
	passClass  string
}

func (f *fakeStore) CreateDetection(_ context.Context, record entity.DetectionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.createErr != nil {
		return f.createErr
	}
	if f.failOnCall > 0 && f.calls == f.failOnCall {
		return detection.Wrap(detection.ErrPersistence, errors.New("write failed"))
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeStore) snapshot() []entity.DetectionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.DetectionRecord, len(f.records))
	copy(out, f.records)
	return out
}

func (f *fakeStore) GetDetections(context.Context) ([]entity.DetectionRecord, error) {
	records := f.snapshot()
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (f *fakeStore) GetDetectionsByCapID(_ context.Context, capID string) ([]entity.DetectionRecord, error) {
	out := []entity.DetectionRecord{}
	for _, r := range f.snapshot() {
		if r.CapID == capID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ExistsByCapID(ctx context.Context, capID string) (bool, error) {
	records, _ := f.GetDetectionsByCapID(ctx, capID)
	return len(records) > 0, nil
}

func (f *fakeStore) CountDetections(context.Context) (int64, error) {
	return int64(len(f.snapshot())), nil
}

func (f *fakeStore) GetDefectedDetections(context.Context) ([]entity.DetectionRecord, error) {
	out := []entity.DetectionRecord{}
	for _, r := range f.snapshot() {
		if entity.Classify(r.Predictions, f.passClass).Defected {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteByCapID(_ context.Context, capID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.records[:0]
	var deleted int64
	for _, r := range f.records {
		if r.CapID == capID {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return deleted, nil
}

// txStore buffers writes until commit.
type txStore struct {
	*fakeStore
	pending []entity.DetectionRecord
}

func (t *txStore) CreateDetection(_ context.Context, record entity.DetectionRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	if t.failOnCall > 0 && t.calls == t.failOnCall {
		return detection.Wrap(detection.ErrPersistence, errors.New("write failed"))
	}
	t.pending = append(t.pending, record)
	return nil
}

type fakeRepo struct {
	store      *fakeStore
	commits    int
	rollbacks  int
	clientErr  error
	lastTxMode bool
}

func (r *fakeRepo) NewClient(tx bool) (detectionRepository.Client, error) {
	if r.clientErr != nil {
		return detectionRepository.Client{}, r.clientErr
	}
	r.lastTxMode = tx

	if !tx {
		return detectionRepository.Client{
			Detection: r.store,
			Commit:    func() error { return nil },
			Rollback:  func() error { return nil },
		}, nil
	}

	t := &txStore{fakeStore: r.store}
	return detectionRepository.Client{
		Detection: t,
		Commit: func() error {
			r.commits++
			r.store.mu.Lock()
			r.store.records = append(r.store.records, t.pending...)
			r.store.mu.Unlock()
			return nil
		},
		Rollback: func() error {
			r.rollbacks++
			t.pending = nil
			return nil
		},
	}, nil
}

type fakeInference struct {
	mu          sync.Mutex
	predictions []entity.Prediction
	err         error
	hook        func()
	calls       int
	lastModel   string
	lastFlow    [2]string
	lastImage   []byte
}

func (f *fakeInference) Infer(ctx context.Context, modelID string, image []byte) ([]entity.Prediction, error) {
	f.mu.Lock()
	f.calls++
	f.lastModel = modelID
	f.lastImage = image
	f.mu.Unlock()

	return f.result(ctx)
}

func (f *fakeInference) RunWorkflow(ctx context.Context, workspace, workflowID string, image []byte) ([]entity.Prediction, error) {
	f.mu.Lock()
	f.calls++
	f.lastFlow = [2]string{workspace, workflowID}
	f.lastImage = image
	f.mu.Unlock()

	return f.result(ctx)
}

func (f *fakeInference) result(ctx context.Context) ([]entity.Prediction, error) {
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil && f.predictions == nil {
		return nil, err
	}
	return f.predictions, nil
}

type fakeArtifacts struct {
	mu    sync.Mutex
	saved [][]byte
	err   error
}

func (f *fakeArtifacts) SaveJPEG(_ context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, data)
	return "/static/annotated/artifact.jpg", nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	stages   []string
	failures []string
	outcomes int
}

func (m *fakeMetrics) ObserveStage(_, stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *fakeMetrics) RecordOutcome(string, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes++
}

func (m *fakeMetrics) RecordFailure(_, stage, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, stage)
}

func (m *fakeMetrics) Handler() http.Handler { return http.NotFoundHandler() }

type harness struct {
	svc       IDetectionService
	repo      *fakeRepo
	store     *fakeStore
	inference *fakeInference
	artifacts *fakeArtifacts
	metrics   *fakeMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := &fakeStore{passClass: entity.DefaultPassClass}
	h := &harness{
		repo:      &fakeRepo{store: store},
		store:     store,
		inference: &fakeInference{},
		artifacts: &fakeArtifacts{},
		metrics:   &fakeMetrics{},
	}

	h.svc = NewDetectionService(
		Config{
			PassClass:  entity.DefaultPassClass,
			ModelID:    "caps/3",
			Workspace:  "acme",
			WorkflowID: "cap-check",
		},
		h.repo,
		vision.NewPreprocessor(vision.NoCircleDetector{}, 2),
		h.inference,
		annotate.New(),
		h.artifacts,
		h.metrics,
		utils.New(),
		logger,
	)

	return h
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pred(class string, conf float64) entity.Prediction {
	return entity.Prediction{Class: class, Confidence: conf, BBox: entity.BBox{X1: 4, Y1: 4, X2: 40, Y2: 40}}
}
