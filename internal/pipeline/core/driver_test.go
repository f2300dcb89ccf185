package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/storage"
)

type stubStage struct {
	id     string
	lo, hi int
	fn     func(ctx context.Context, state *State) error
}

func (s *stubStage) ID() string             { return s.id }
func (s *stubStage) Name() string           { return s.id }
func (s *stubStage) Budget() (int, int)     { return s.lo, s.hi }
func (s *stubStage) Execute(ctx context.Context, state *State) error {
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, state)
}

func newTestDriver(t *testing.T, stages []Stage, stageTimeout time.Duration) (*Driver, repository.VideoRepository, *storage.Layout) {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "state.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}))
	repo := repository.NewVideoRepository(db)

	layout, err := storage.NewLayout(filepath.Join(dir, "data"))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDriver(repo, layout, stages, stageTimeout, log), repo, layout
}

func startProcessing(t *testing.T, repo repository.VideoRepository) *models.Video {
	t.Helper()
	ctx := context.Background()
	v := &models.Video{Filename: "clip.mp4", IntervalSec: 5}
	require.NoError(t, repo.Create(ctx, v))
	got, err := repo.Acquire(ctx, v.ID)
	require.NoError(t, err)
	return got
}

func TestDriverCompletesJob(t *testing.T) {
	stages := []Stage{
		&stubStage{id: models.StageExtracting, lo: 0, hi: 20, fn: func(_ context.Context, st *State) error {
			st.Frames = []models.Frame{{Index: 0}, {Index: 1}}
			return nil
		}},
		&stubStage{id: models.StageAggregating, lo: 80, hi: 95, fn: func(_ context.Context, st *State) error {
			st.Entities = map[string]models.EntitySummary{"tank": {Count: 2}}
			st.ReportPath = "/tmp/report.json"
			return nil
		}},
	}
	d, repo, _ := newTestDriver(t, stages, 0)
	v := startProcessing(t, repo)

	require.NoError(t, d.Run(context.Background(), v))

	got, err := repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 2, got.FramesAnalyzed)
	assert.Equal(t, 1, got.UniqueEntities)
	assert.Contains(t, got.EntitySummary, "tank")
}

func TestDriverFatalStageFailsJob(t *testing.T) {
	stages := []Stage{
		&stubStage{id: models.StageExtracting, lo: 0, hi: 20, fn: func(_ context.Context, _ *State) error {
			return errors.New("decoder exploded")
		}},
		&stubStage{id: models.StageAggregating, lo: 80, hi: 95, fn: func(_ context.Context, _ *State) error {
			t.Fatal("stage after a fatal failure must not run")
			return nil
		}},
	}
	d, repo, _ := newTestDriver(t, stages, 0)
	v := startProcessing(t, repo)

	err := d.Run(context.Background(), v)
	require.Error(t, err)

	got, err := repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, CodeExtractionFailed)
	assert.Contains(t, got.Error, "decoder exploded")
}

func TestDriverStageTimeout(t *testing.T) {
	stages := []Stage{
		&stubStage{id: models.StageDetecting, lo: 20, hi: 80, fn: func(ctx context.Context, _ *State) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}
	d, repo, _ := newTestDriver(t, stages, 20*time.Millisecond)
	v := startProcessing(t, repo)

	err := d.Run(context.Background(), v)
	require.Error(t, err)

	got, err := repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, CodeStageTimeout+":"+models.StageDetecting, got.Error)
}

func TestDriverCancellationRemovesPartialArtifacts(t *testing.T) {
	// A caller cancel arrives as a context cancelled with ErrCancelRequested,
	// the way the worker pool wires registry cancels.
	ctx, cancel := context.WithCancelCause(context.Background())

	var layout *storage.Layout
	stages := []Stage{
		&stubStage{id: models.StageExtracting, lo: 0, hi: 20, fn: func(_ context.Context, st *State) error {
			// Simulate partial extraction, then a cancel arriving mid-stage.
			framesDir := layout.FramesDir(st.Video.ID)
			require.NoError(t, os.MkdirAll(framesDir, 0o750))
			require.NoError(t, os.WriteFile(filepath.Join(framesDir, "frame_000000.jpg"), []byte("x"), 0o640))
			cancel(ErrCancelRequested)
			return context.Canceled
		}},
	}
	d, repo, l := newTestDriver(t, stages, 0)
	layout = l
	v := startProcessing(t, repo)

	err := d.Run(ctx, v)
	require.Error(t, err)

	got, err := repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, CodeCancelled, got.Error)

	_, statErr := os.Stat(layout.FramesDir(v.ID))
	assert.True(t, os.IsNotExist(statErr), "partial frames are removed")
}

func TestDriverShutdownLeavesJobProcessing(t *testing.T) {
	// Plain context cancellation means the process is stopping. The job must
	// stay in processing with its partial frames intact so the stale sweep
	// can requeue it after restart.
	ctx, cancel := context.WithCancel(context.Background())

	var layout *storage.Layout
	stages := []Stage{
		&stubStage{id: models.StageExtracting, lo: 0, hi: 20, fn: func(_ context.Context, st *State) error {
			framesDir := layout.FramesDir(st.Video.ID)
			require.NoError(t, os.MkdirAll(framesDir, 0o750))
			require.NoError(t, os.WriteFile(filepath.Join(framesDir, "frame_000000.jpg"), []byte("x"), 0o640))
			cancel()
			return context.Canceled
		}},
	}
	d, repo, l := newTestDriver(t, stages, 0)
	layout = l
	v := startProcessing(t, repo)

	err := d.Run(ctx, v)
	require.Error(t, err)

	got, err := repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Empty(t, got.Error)

	_, statErr := os.Stat(filepath.Join(layout.FramesDir(v.ID), "frame_000000.jpg"))
	assert.NoError(t, statErr, "partial frames survive a shutdown")
}

func TestDriverRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{})
	stages := []Stage{
		&stubStage{id: models.StageExtracting, lo: 0, hi: 20, fn: func(_ context.Context, _ *State) error {
			close(running)
			<-release
			return nil
		}},
	}
	d, repo, _ := newTestDriver(t, stages, 0)
	v := startProcessing(t, repo)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), v) }()
	<-running

	err := d.Run(context.Background(), v)
	assert.ErrorIs(t, err, models.ErrJobActive)

	close(release)
	require.NoError(t, <-done)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		stage string
		err   error
		want  string
	}{
		{models.StageExtracting, errors.New("boom"), CodeExtractionFailed + ": boom"},
		{models.StageAggregating, ErrPersistence, CodePersistenceError + ": persistence error"},
		{models.StageDetecting, errors.New("odd"), models.StageDetecting + ": odd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.stage, tt.err))
	}
}

func TestStoreReporterDebounce(t *testing.T) {
	d, repo, _ := newTestDriver(t, nil, 0)
	_ = d
	v := startProcessing(t, repo)

	stage := &stubStage{id: models.StageDetecting, lo: 20, hi: 80}
	rep := newStoreReporter(repo, v.ID, stage)

	clock := time.Now()
	rep.now = func() time.Time { return clock }
	require.NoError(t, rep.stageStart(context.Background()))

	// Four frames within the debounce window: no progress movement.
	for i := 1; i <= 4; i++ {
		rep.ReportItemProgress(context.Background(), i, 10)
	}
	got, err := repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Progress)

	// The fifth frame forces a write: 20 + 60*5/10 = 50.
	rep.ReportItemProgress(context.Background(), 5, 10)
	got, err = repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)

	// A single frame after the interval elapses also writes.
	clock = clock.Add(time.Second)
	rep.ReportItemProgress(context.Background(), 6, 10)
	got, err = repo.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 56, got.Progress)
}
