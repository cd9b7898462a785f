package detectionService

import (
	"IntelProd/internal/api/detection"
	"IntelProd/internal/entity"
	contextPkg "IntelProd/pkg/context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

var happyStages = []string{
	string(entity.StatePreprocessed),
	string(entity.StateInferred),
	string(entity.StateClassified),
	string(entity.StatePersisted),
	string(entity.StateResponded),
}

func TestDetect_GoodCap(t *testing.T) {
	h := newHarness(t)
	h.inference.predictions = []entity.Prediction{pred("good_cap", 0.9)}
	img := pngImage(t, 64, 64)

	ctx := contextPkg.WithRequestID(context.Background(), "req-1")
	resp, err := h.svc.Detect(ctx, detection.DetectInput{CapID: "CAP-1", Image: img, ContentType: "image/png"})
	require.NoError(t, err)

	assert.True(t, resp.Exists)
	assert.False(t, resp.Defected)
	assert.Equal(t, h.inference.predictions, resp.Predictions)
	assert.Equal(t, "/static/annotated/artifact.jpg", resp.AnnotatedImagePath)

	assert.Equal(t, "caps/3", h.inference.lastModel)
	assert.Equal(t, img, h.inference.lastImage, "no circle means inference sees the original bytes")

	records := h.store.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "CAP-1", records[0].CapID)
	assert.Equal(t, entity.SourceDetect, records[0].Source)
	assert.Equal(t, "/static/annotated/artifact.jpg", records[0].ImagePath)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Defected)

	assert.Equal(t, happyStages, h.metrics.stages)
	assert.Empty(t, h.metrics.failures)
	assert.Equal(t, 1, h.metrics.outcomes)
	assert.Len(t, h.artifacts.saved, 1)
}

func TestDetect_DefectedCap(t *testing.T) {
	h := newHarness(t)
	h.inference.predictions = []entity.Prediction{pred("cap_defect", 0.8)}

	resp, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-2", Image: pngImage(t, 32, 32), ContentType: "image/png"})
	require.NoError(t, err)

	assert.True(t, resp.Exists)
	assert.True(t, resp.Defected)
	require.Len(t, h.store.snapshot(), 1)
	assert.True(t, h.store.snapshot()[0].Defected)
}

func TestDetect_NoPredictionsIsPersisted(t *testing.T) {
	h := newHarness(t)
	h.inference.predictions = []entity.Prediction{}

	resp, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-3", Image: pngImage(t, 32, 32), ContentType: "image/png"})
	require.NoError(t, err)

	assert.False(t, resp.Exists)
	assert.False(t, resp.Defected)
	assert.NotNil(t, resp.Predictions)

	records := h.store.snapshot()
	require.Len(t, records, 1)
	assert.False(t, records[0].Exists)
	assert.Empty(t, records[0].Predictions)
}

func TestDetect_InferenceFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.inference.err = errors.New("dial tcp: connection refused")

	_, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-4", Image: pngImage(t, 32, 32), ContentType: "image/png"})
	require.Error(t, err)

	assert.ErrorIs(t, err, detection.ErrDetectionService)
	assert.True(t, detection.IsRetryable(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Empty(t, h.store.snapshot())
	assert.Zero(t, h.store.calls)
	assert.Empty(t, h.artifacts.saved)
	assert.Equal(t, []string{string(entity.StatePreprocessed)}, h.metrics.stages)
	assert.Equal(t, []string{string(entity.StatePreprocessed)}, h.metrics.failures)
	assert.Zero(t, h.metrics.outcomes)
}

func TestDetect_UnsupportedContentTypeStopsEarly(t *testing.T) {
	h := newHarness(t)

	for _, ct := range []string{"image/gif", "application/pdf", ""} {
		t.Run(fmt.Sprintf("type=%q", ct), func(t *testing.T) {
			_, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-5", Image: pngImage(t, 8, 8), ContentType: ct})
			assert.ErrorIs(t, err, detection.ErrUnsupportedContentType)
			assert.False(t, detection.IsRetryable(err))
		})
	}

	assert.Zero(t, h.inference.calls)
	assert.Empty(t, h.store.snapshot())
	assert.Empty(t, h.metrics.stages)
}

func TestDetect_InvalidImage(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-6", Image: []byte("not a png"), ContentType: "image/png"})
	assert.ErrorIs(t, err, detection.ErrInvalidImage)

	_, err = h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-6", Image: nil, ContentType: "image/png"})
	assert.ErrorIs(t, err, detection.ErrInvalidImage)

	assert.Zero(t, h.inference.calls)
	assert.Empty(t, h.store.snapshot())
}

func TestDetect_MissingCapID(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "  ", Image: pngImage(t, 8, 8), ContentType: "image/png"})
	assert.ErrorIs(t, err, detection.ErrInvalidRequest)
	assert.Zero(t, h.inference.calls)
}

func TestDetect_PersistenceFailure(t *testing.T) {
	h := newHarness(t)
	h.inference.predictions = []entity.Prediction{pred("good_cap", 0.9)}
	h.store.createErr = errors.New("connection reset")

	resp, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-7", Image: pngImage(t, 16, 16), ContentType: "image/png"})
	require.Error(t, err)

	assert.ErrorIs(t, err, detection.ErrPersistence)
	assert.True(t, detection.IsRetryable(err))
	assert.Empty(t, resp.AnnotatedImagePath)
	// the artifact was already written and is left in place
	assert.Len(t, h.artifacts.saved, 1)
	assert.Equal(t, []string{string(entity.StateClassified)}, h.metrics.failures)
}

func TestDetect_ArtifactFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.inference.predictions = []entity.Prediction{pred("good_cap", 0.9)}
	h.artifacts.err = errors.New("disk full")

	_, err := h.svc.Detect(context.Background(), detection.DetectInput{CapID: "CAP-8", Image: pngImage(t, 16, 16), ContentType: "image/png"})
	assert.ErrorIs(t, err, detection.ErrArtifactStorage)
	assert.Empty(t, h.store.snapshot())
}

func TestDetect_CancelledDuringInference(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.inference.hook = cancel

	_, err := h.svc.Detect(ctx, detection.DetectInput{CapID: "CAP-9", Image: pngImage(t, 16, 16), ContentType: "image/png"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, detection.ErrDetectionService)
	assert.Empty(t, h.store.snapshot())
}

func TestDetect_CancelledAfterInferenceDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.inference.predictions = []entity.Prediction{pred("good_cap", 0.9)}
	h.inference.hook = cancel

	_, err := h.svc.Detect(ctx, detection.DetectInput{CapID: "CAP-10", Image: pngImage(t, 16, 16), ContentType: "image/png"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.snapshot())
	assert.Zero(t, h.store.calls)
	assert.Empty(t, h.artifacts.saved)
}

func TestDetect_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Detect(ctx, detection.DetectInput{CapID: "CAP-11", Image: pngImage(t, 16, 16), ContentType: "image/png"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.inference.calls)
}

func TestDetectWorkflow(t *testing.T) {
	h := newHarness(t)
	h.inference.predictions = []entity.Prediction{pred("good_cap", 0.7), pred("scratch", 0.6)}

	resp, err := h.svc.DetectWorkflow(context.Background(), detection.DetectInput{CapID: "CAP-12", Image: pngImage(t, 16, 16), ContentType: "image/jpeg; charset=binary"})
	require.NoError(t, err)

	assert.True(t, resp.Exists)
	assert.True(t, resp.Defected)
	assert.Empty(t, resp.AnnotatedImagePath)
	assert.Equal(t, [2]string{"acme", "cap-check"}, h.inference.lastFlow)
	assert.Empty(t, h.artifacts.saved)

	records := h.store.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, entity.SourceWorkflow, records[0].Source)
	assert.Empty(t, records[0].ImagePath)
}

func TestDetect_ConcurrentRequestsAppend(t *testing.T) {
	h := newHarness(t)
	h.inference.predictions = []entity.Prediction{pred("good_cap", 0.9)}
	img := pngImage(t, 16, 16)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Detect(context.Background(), detection.DetectInput{CapID: "SAME", Image: img, ContentType: "image/png"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	records := h.store.snapshot()
	assert.Len(t, records, n, "same capId is appended, never upserted")

	ids := map[string]bool{}
	for _, r := range records {
		ids[r.ID] = true
	}
	assert.Len(t, ids, n)
}
