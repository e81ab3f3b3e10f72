package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/imagesource"
	"github.com/dvloznov/receipt-ledger/internal/ledger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const week = domain.WeekID("2025CW_30")

type env struct {
	photos string
	source *imagesource.DirSource
	store  *ledger.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	photos := filepath.Join(root, "photos")
	return &env{
		photos: photos,
		source: imagesource.NewDirSource(photos, imagesource.DefaultFilter()),
		store:  ledger.NewStore(filepath.Join(root, "cost_files")),
	}
}

// addPhotos writes images whose content is their own name, so a mock analyzer can
// tell them apart.
func (e *env) addPhotos(t *testing.T, w domain.WeekID, names ...string) {
	t.Helper()
	dir := filepath.Join(e.photos, string(w))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}
}

func replies(m map[string]string) *MockAnalyzer {
	return &MockAnalyzer{AnalyzeFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
		reply, ok := m[string(image)]
		if !ok {
			return "", &domain.InferenceError{Err: errors.New("quota exceeded")}
		}
		return reply, nil
	}}
}

func TestAnalyze_AllFilesSucceed(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg", "bon2.jpg")

	analyzer := replies(map[string]string{
		"bon1.jpg": "01.08.2025;14:30:00;12,50;3,20",
		"bon2.jpg": "02.08.2025;10:00:00;7,25;0,00",
	})

	result, err := pipeline.NewWeekAnalyzer(e.source, analyzer, e.store).Analyze(context.Background(), week, pipeline.Options{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, result.Status)
	assert.True(t, result.Performed())
	assert.Equal(t, 2, result.Images)
	assert.Equal(t, 2, result.Processed)
	assert.Empty(t, result.Failures)
	assert.Equal(t, 2, result.Summary.TotalReceipts)
	assert.Equal(t, "19.75", result.Summary.TotalFood.StringFixed(2))
	assert.Equal(t, "3.20", result.Summary.TotalNonFood.StringFixed(2))

	require.Len(t, result.Ledger.Records, 2)
	assert.Equal(t, "bon1.jpg", result.Ledger.Records[0].SourceFile)
	assert.Equal(t, "bon2.jpg", result.Ledger.Records[1].SourceFile)
}

func TestAnalyze_PartialFailureIsSuccess(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg", "bon2.jpg", "bon3.jpg")

	// bon2.jpg has no reply and fails with an InferenceError.
	analyzer := replies(map[string]string{
		"bon1.jpg": "01.08.2025;14:30:00;10,00;1,00",
		"bon3.jpg": "03.08.2025;18:00:00;5,00;2,00",
	})

	result, err := pipeline.NewWeekAnalyzer(e.source, analyzer, e.store).Analyze(context.Background(), week, pipeline.Options{})
	require.NoError(t, err, "a failed receipt must not fail the batch")

	assert.Equal(t, domain.RunCompleted, result.Status)
	assert.Equal(t, 3, analyzer.Calls())
	assert.Equal(t, 2, result.Processed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "bon2.jpg", result.Failures[0].File)
	assert.Equal(t, domain.StageInfer, result.Failures[0].Stage)
	assert.True(t, errors.Is(result.Failures[0].Err, domain.ErrInferenceFailure))

	l, err := e.store.Load(context.Background(), week)
	require.NoError(t, err)
	require.Len(t, l.Records, 2)
	assert.Equal(t, "bon1.jpg", l.Records[0].SourceFile)
	assert.Equal(t, "bon3.jpg", l.Records[1].SourceFile)
	assert.Equal(t, 2, result.Summary.TotalReceipts)
}

func TestAnalyze_ParseFailureIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg", "bon2.jpg")

	analyzer := replies(map[string]string{
		"bon1.jpg": "Ich kann den Beleg nicht lesen",
		"bon2.jpg": "02.08.2025;10:00:00;3,00;0,00",
	})

	result, err := pipeline.NewWeekAnalyzer(e.source, analyzer, e.store).Analyze(context.Background(), week, pipeline.Options{})
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, domain.StageParse, result.Failures[0].Stage)
	assert.True(t, errors.Is(result.Failures[0].Err, domain.ErrParse))
	assert.Equal(t, 1, result.Summary.TotalReceipts)
}

func TestAnalyze_TimeoutCountsAsInferenceFailure(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg", "bon2.jpg")

	analyzer := &MockAnalyzer{AnalyzeFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
		if string(image) == "bon1.jpg" {
			return "", &domain.InferenceError{Err: context.DeadlineExceeded}
		}
		return "02.08.2025;10:00:00;3,00;0,00", nil
	}}

	result, err := pipeline.NewWeekAnalyzer(e.source, analyzer, e.store).Analyze(context.Background(), week, pipeline.Options{})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.True(t, errors.Is(result.Failures[0].Err, context.DeadlineExceeded))
	assert.Equal(t, 1, result.Processed)
}

func TestAnalyze_MissingBucket(t *testing.T) {
	e := newEnv(t)
	analyzer := &MockAnalyzer{}

	result, err := pipeline.NewWeekAnalyzer(e.source, analyzer, e.store).Analyze(context.Background(), "2099CW_1", pipeline.Options{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunNotPerformed, result.Status)
	assert.False(t, result.Performed())
	assert.NotEmpty(t, result.Reason)
	assert.Equal(t, 0, analyzer.Calls())

	_, ok, err := e.store.Stat("2099CW_1")
	require.NoError(t, err)
	assert.False(t, ok, "no ledger is created")
}

func TestAnalyze_EmptyBucket(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "notes.txt")

	result, err := pipeline.NewWeekAnalyzer(e.source, &MockAnalyzer{}, e.store).Analyze(context.Background(), week, pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunNotPerformed, result.Status)
}

func TestAnalyze_AllFail(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg")

	result, err := pipeline.NewWeekAnalyzer(e.source, replies(nil), e.store).Analyze(context.Background(), week, pipeline.Options{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailed, result.Status)
	assert.Equal(t, 0, result.Summary.TotalReceipts)
	assert.True(t, result.Summary.TotalFood.IsZero())
	require.NotNil(t, result.Ledger)
	assert.Empty(t, result.Ledger.Records)
}

func TestAnalyze_SkipsRecordedPhotosUnlessForced(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg", "bon2.jpg")

	analyzer := replies(map[string]string{
		"bon1.jpg": "01.08.2025;14:30:00;1,00;0,00",
		"bon2.jpg": "02.08.2025;10:00:00;2,00;0,00",
	})
	a := pipeline.NewWeekAnalyzer(e.source, analyzer, e.store)

	_, err := a.Analyze(ctx, week, pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, analyzer.Calls())

	e.addPhotos(t, week, "bon3.jpg")
	result, err := a.Analyze(ctx, week, pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"bon1.jpg", "bon2.jpg"}, result.Skipped)
	require.Len(t, result.Failures, 1, "bon3.jpg has no reply")
	assert.Equal(t, 3, analyzer.Calls())
	assert.Equal(t, 2, result.Summary.TotalReceipts)

	forced, err := a.Analyze(ctx, week, pipeline.Options{Force: true})
	require.NoError(t, err)
	assert.Empty(t, forced.Skipped)
	assert.Equal(t, 2, forced.Processed)
	assert.Equal(t, 4, forced.Summary.TotalReceipts, "forced runs append again")
}

func TestAnalyze_ReloadIncludesRowsFromOtherWriters(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg")

	require.NoError(t, e.store.Append(ctx, week, domain.Record{
		Date: "28.07.2025", Time: "08:00:00", FoodTotal: "4.00", NonFoodTotal: "1.00", SourceFile: "handwritten.jpg",
	}))

	analyzer := replies(map[string]string{"bon1.jpg": "01.08.2025;14:30:00;1,00;0,00"})
	result, err := pipeline.NewWeekAnalyzer(e.source, analyzer, e.store).Analyze(ctx, week, pipeline.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, result.Summary.TotalReceipts)
	assert.Equal(t, "5.00", result.Summary.TotalFood.StringFixed(2))
}

func TestAnalyze_RecorderAndPublisher(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg", "bon2.jpg")

	var started, finished int
	var published *domain.AnalysisResult
	recorder := &MockRecorder{
		StartRunFunc: func(ctx context.Context, w domain.WeekID, images int) (string, error) {
			started++
			assert.Equal(t, week, w)
			assert.Equal(t, 2, images)
			return "run-42", nil
		},
		FinishRunFunc: func(ctx context.Context, runID string, result *domain.AnalysisResult) error {
			finished++
			assert.Equal(t, "run-42", runID)
			assert.False(t, result.FinishedAt.IsZero())
			return nil
		},
	}
	publisher := &MockPublisher{PublishWeekAnalyzedFunc: func(ctx context.Context, result *domain.AnalysisResult) error {
		published = result
		return errors.New("broker down")
	}}

	a := pipeline.NewWeekAnalyzer(e.source, &MockAnalyzer{}, e.store,
		pipeline.WithRecorder(recorder), pipeline.WithPublisher(publisher))

	result, err := a.Analyze(context.Background(), week, pipeline.Options{})
	require.NoError(t, err, "publisher errors are logged only")
	assert.Equal(t, "run-42", result.RunID)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
	require.NotNil(t, published)
	assert.Equal(t, 2, published.Summary.TotalReceipts)
}

func TestAnalyze_NotPerformedIsNotRecorded(t *testing.T) {
	e := newEnv(t)
	recorder := &MockRecorder{StartRunFunc: func(context.Context, domain.WeekID, int) (string, error) {
		t.Fatal("StartRun must not be called without a bucket")
		return "", nil
	}}

	a := pipeline.NewWeekAnalyzer(e.source, &MockAnalyzer{}, e.store, pipeline.WithRecorder(recorder))
	result, err := a.Analyze(context.Background(), "2099CW_1", pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunNotPerformed, result.Status)
}

func TestAnalyze_CancelledContext(t *testing.T) {
	e := newEnv(t)
	e.addPhotos(t, week, "bon1.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.NewWeekAnalyzer(e.source, &MockAnalyzer{}, e.store).Analyze(ctx, week, pipeline.Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}
