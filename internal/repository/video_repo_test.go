package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/framesight/framesight/internal/models"
)

func newTestRepo(t *testing.T) *videoRepo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "state.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}))
	return NewVideoRepository(db)
}

func createQueued(t *testing.T, repo *videoRepo) *models.Video {
	t.Helper()
	v := &models.Video{Filename: "clip.mp4", IntervalSec: 5}
	require.NoError(t, repo.Create(context.Background(), v))
	return v
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	repo := newTestRepo(t)

	v := &models.Video{Filename: "clip.mp4", IntervalSec: 0}
	require.NoError(t, repo.Create(context.Background(), v))

	assert.True(t, models.ValidVideoID(v.ID))
	assert.Equal(t, models.StatusQueued, v.Status)
	assert.Equal(t, 1, v.IntervalSec, "interval is clamped to >= 1")
}

func TestGetNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAcquireTransitionsQueuedToProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	v := createQueued(t, repo)

	got, err := repo.Acquire(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, models.StageExtracting, got.CurrentStage)

	// Second acquire is rejected: the job is no longer queued.
	_, err = repo.Acquire(ctx, v.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestProgressIsMonotonicAndClamped(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	v := createQueued(t, repo)
	_, err := repo.Acquire(ctx, v.ID)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, v.ID, 40, models.StageDetecting, "frame 10/50"))

	// A lower value is silently ignored, not written.
	require.NoError(t, repo.UpdateProgress(ctx, v.ID, 20, models.StageDetecting, "stale write"))
	got, err := repo.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "frame 10/50", got.StatusText)

	// Values outside [0, 100] are clamped.
	require.NoError(t, repo.UpdateProgress(ctx, v.ID, 150, models.StageIndexing, "done"))
	got, err = repo.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
}

func TestUpdateProgressRejectsNonProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	v := createQueued(t, repo)

	err := repo.UpdateProgress(ctx, v.ID, 10, models.StageExtracting, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCompleteSetsTerminalState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	v := createQueued(t, repo)
	_, err := repo.Acquire(ctx, v.ID)
	require.NoError(t, err)

	err = repo.Complete(ctx, v.ID, CompletionSummary{
		FramesAnalyzed: 12,
		UniqueEntities: 3,
		EntitySummary:  `{"aircraft":{}}`,
		ReportPath:     "/data/reports/x/report.json",
		Annotated:      true,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 3, got.UniqueEntities)
	assert.True(t, got.Annotated)

	// Terminal records are immutable.
	assert.ErrorIs(t, repo.Complete(ctx, v.ID, CompletionSummary{}), models.ErrInvalidTransition)
	assert.ErrorIs(t, repo.Fail(ctx, v.ID, "late failure"), models.ErrInvalidTransition)
	assert.ErrorIs(t, repo.UpdateProgress(ctx, v.ID, 100, "", ""), models.ErrInvalidTransition)
}

func TestCompleteRequiresProcessing(t *testing.T) {
	repo := newTestRepo(t)
	v := createQueued(t, repo)

	err := repo.Complete(context.Background(), v.ID, CompletionSummary{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestFailFromQueuedAndProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	queued := createQueued(t, repo)
	require.NoError(t, repo.Fail(ctx, queued.ID, "invalid input"))
	got, err := repo.Get(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "invalid input", got.Error)

	processing := createQueued(t, repo)
	_, err = repo.Acquire(ctx, processing.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, processing.ID, "extraction failed"))
}

func TestDeleteRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	stale := time.Minute

	// Queued jobs cannot be deleted.
	queued := createQueued(t, repo)
	assert.ErrorIs(t, repo.Delete(ctx, queued.ID, stale), models.ErrJobActive)

	// Fresh processing jobs cannot be deleted.
	processing := createQueued(t, repo)
	_, err := repo.Acquire(ctx, processing.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Delete(ctx, processing.ID, stale), models.ErrJobActive)

	// Terminal jobs can.
	done := createQueued(t, repo)
	_, err = repo.Acquire(ctx, done.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, done.ID, CompletionSummary{}))
	require.NoError(t, repo.Delete(ctx, done.ID, stale))
	_, err = repo.Get(ctx, done.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Stale processing jobs can (stale window of zero).
	assert.NoError(t, repo.Delete(ctx, processing.ID, -time.Second))
}

func TestResetStale(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	abandoned := createQueued(t, repo)
	_, err := repo.Acquire(ctx, abandoned.ID)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateProgress(ctx, abandoned.ID, 42, models.StageDetecting, "frame 3/7"))

	fresh := createQueued(t, repo)
	_, err = repo.Acquire(ctx, fresh.ID)
	require.NoError(t, err)

	// Nothing is stale within a generous window.
	reset, err := repo.ResetStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, reset)

	// With a negative window every processing job is stale.
	reset, err = repo.ResetStale(ctx, -time.Second)
	require.NoError(t, err)
	require.Len(t, reset, 2)

	got, err := repo.Get(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Zero(t, got.Progress)
	assert.Empty(t, got.CurrentStage)
}

func TestListFiltersAndPaginates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for range 3 {
		createQueued(t, repo)
	}
	completed := createQueued(t, repo)
	_, err := repo.Acquire(ctx, completed.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, completed.ID, CompletionSummary{}))

	all, total, err := repo.List(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, all, 4)

	status := models.StatusQueued
	queued, total, err := repo.List(ctx, &status, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, queued, 2)

	page2, _, err := repo.List(ctx, &status, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)

	byStatus, err := repo.ListByStatus(ctx, models.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, completed.ID, byStatus[0].ID)
}
