package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/framesight/framesight/internal/broker"
	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/fetcher"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/report"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/storage"
)

type fixture struct {
	svc       *VideoService
	repo      repository.VideoRepository
	layout    *storage.Layout
	broker    broker.Broker
	assembler *report.Assembler
	cfg       *config.Config
}

func newFixture(t *testing.T, queueSize int) *fixture {
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

	cfg := &config.Config{}
	cfg.Pipeline.DefaultIntervalSec = 5
	cfg.Worker.StaleAfter = 15 * time.Minute

	taskBroker := broker.NewMemory(queueSize)
	t.Cleanup(func() { taskBroker.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	assembler := report.NewAssembler(layout, log)
	svc := NewVideoService(repo, layout, taskBroker, cfg).
		WithLogger(log).
		WithAssembler(assembler)

	return &fixture{
		svc:       svc,
		repo:      repo,
		layout:    layout,
		broker:    taskBroker,
		assembler: assembler,
		cfg:       cfg,
	}
}

func (f *fixture) receiveTask(t *testing.T) broker.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := f.broker.Receive(ctx)
	require.NoError(t, err)
	return task
}

func TestSubmitCreatesQueuedJob(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	video, err := f.svc.Submit(ctx, Submission{
		Filename: "patrol.mp4",
		Video:    strings.NewReader("fake video bytes"),
	})
	require.NoError(t, err)
	assert.Len(t, video.ID, 8)
	assert.Equal(t, models.StatusQueued, video.Status)
	assert.Equal(t, 5, video.IntervalSec, "default interval applied")

	data, err := os.ReadFile(video.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "fake video bytes", string(data))

	task := f.receiveTask(t)
	assert.Equal(t, video.ID, task.VideoID)
}

func TestSubmitStoresVoiceUpload(t *testing.T) {
	f := newFixture(t, 4)

	video, err := f.svc.Submit(context.Background(), Submission{
		Filename:    "patrol.mp4",
		Video:       strings.NewReader("video"),
		Voice:       strings.NewReader("two tanks on the ridge"),
		IntervalSec: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, video.IntervalSec)
	require.NotEmpty(t, video.VoicePath)

	data, err := os.ReadFile(video.VoicePath)
	require.NoError(t, err)
	assert.Equal(t, "two tanks on the ridge", string(data))
}

func TestSubmitRejectsEmptyUpload(t *testing.T) {
	f := newFixture(t, 4)

	_, err := f.svc.Submit(context.Background(), Submission{
		Filename: "patrol.mp4",
		Video:    strings.NewReader(""),
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	list, err := f.svc.List(context.Background(), "", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, list.Total, "no record for rejected submission")
}

func TestSubmitClampsInterval(t *testing.T) {
	f := newFixture(t, 4)

	video, err := f.svc.Submit(context.Background(), Submission{
		Filename:    "patrol.mp4",
		Video:       strings.NewReader("video"),
		IntervalSec: -3,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, video.IntervalSec, "below-minimum interval clamps to 1")
}

func TestSubmitQueueFullRollsBack(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)

	rejected, err := f.svc.Submit(ctx, Submission{Filename: "b.mp4", Video: strings.NewReader("b")})
	assert.ErrorIs(t, err, broker.ErrQueueFull)
	assert.Nil(t, rejected)

	list, err := f.svc.List(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total, "rejected submission left no record")
}

func TestSubmitURLDownloadsAndQueues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote video bytes"))
	}))
	defer srv.Close()

	f := newFixture(t, 4)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc.WithFetcher(fetcher.New(config.FetcherConfig{Timeout: 5 * time.Second}, log))

	video, err := f.svc.SubmitURL(context.Background(), URLSubmission{
		URL: srv.URL + "/clips/convoy.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, "convoy.mp4", video.Filename)

	data, err := os.ReadFile(video.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "remote video bytes", string(data))

	task := f.receiveTask(t)
	assert.Equal(t, video.ID, task.VideoID)
}

func TestSubmitURLFetchFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t, 4)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc.WithFetcher(fetcher.New(config.FetcherConfig{Timeout: time.Second}, log))

	_, err := f.svc.SubmitURL(context.Background(), URLSubmission{URL: "ftp://example.com/v.mp4"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	list, err := f.svc.List(context.Background(), "", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestStatusReflectsProgress(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	video, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)

	_, err = f.repo.Acquire(ctx, video.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.UpdateProgress(ctx, video.ID, 42, models.StageDetecting, "Detecting entities (3/7)"))

	status, err := f.svc.Status(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, status.Status)
	assert.Equal(t, 42, status.Progress)
	assert.Equal(t, models.StageDetecting, status.CurrentStage)
	assert.Equal(t, "Detecting entities (3/7)", status.StatusText)
}

func completeJob(t *testing.T, f *fixture, rep *models.Report) *models.Video {
	t.Helper()
	ctx := context.Background()
	video, err := f.svc.Submit(ctx, Submission{Filename: rep.Filename, Video: strings.NewReader("v")})
	require.NoError(t, err)
	rep.VideoID = video.ID

	_, err = f.repo.Acquire(ctx, video.ID)
	require.NoError(t, err)

	path, err := f.assembler.Write(rep)
	require.NoError(t, err)
	require.NoError(t, f.repo.Complete(ctx, video.ID, repository.CompletionSummary{
		FramesAnalyzed: rep.FramesAnalyzed,
		UniqueEntities: len(rep.Entities),
		ReportPath:     path,
	}))

	got, err := f.repo.Get(ctx, video.ID)
	require.NoError(t, err)
	return got
}

func TestReportRequiresCompletion(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	video, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)

	_, err = f.svc.Report(ctx, video.ID)
	assert.ErrorIs(t, err, models.ErrNotReady)

	_, err = f.svc.Report(ctx, "deadbeef")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReportReturnsStoredReport(t *testing.T) {
	f := newFixture(t, 4)
	video := completeJob(t, f, &models.Report{
		Filename:       "a.mp4",
		DurationSec:    30,
		IntervalSec:    5,
		FramesAnalyzed: 6,
		UniqueEntities: 1,
		Entities: map[string]models.EntitySummary{
			"tank": {Count: 4, Presence: 0.5, Appearances: 3},
		},
	})

	rep, err := f.svc.Report(context.Background(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, video.ID, rep.VideoID)
	assert.Contains(t, rep.Entities, "tank")
}

func framesFixture(t *testing.T, f *fixture) *models.Video {
	t.Helper()
	video := completeJob(t, f, &models.Report{Filename: "a.mp4", FramesAnalyzed: 5, IntervalSec: 5})

	frames := []models.Frame{
		{Index: 0, TimestampSec: 0, Filename: "frame_000000.jpg"},
		{Index: 1, TimestampSec: 5, Filename: "frame_000001.jpg",
			AnnotatedFilename: "annotated/frame_000001.jpg",
			Detections:        []models.Detection{{Label: "tank", Source: models.SourceYOLO, Confidence: 0.9}}},
		{Index: 2, TimestampSec: 10, Filename: "frame_000002.jpg"},
		{Index: 3, TimestampSec: 15, Filename: "frame_000003.jpg",
			Detections: []models.Detection{{Label: "tank", Source: models.SourceYOLO, Confidence: 0.8}}},
		{Index: 4, TimestampSec: 20, Filename: "frame_000004.jpg"},
	}
	require.NoError(t, f.assembler.WriteFramesIndex(&models.FrameSet{
		VideoID:     video.ID,
		IntervalSec: 5,
		Frames:      frames,
	}))
	return video
}

func TestFramesPagination(t *testing.T) {
	f := newFixture(t, 4)
	video := framesFixture(t, f)

	page, err := f.svc.Frames(context.Background(), video.ID, FramesQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Frames, 2)
	assert.Equal(t, 2, page.Frames[0].Index)
	assert.Equal(t, 3, page.Frames[1].Index)
}

func TestFramesEntityFilter(t *testing.T) {
	f := newFixture(t, 4)
	video := framesFixture(t, f)

	page, err := f.svc.Frames(context.Background(), video.ID, FramesQuery{Entity: "  Tank "})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Frames[0].Index)
	assert.Equal(t, 3, page.Frames[1].Index)
}

func TestFramesAnnotatedSharesFilter(t *testing.T) {
	f := newFixture(t, 4)
	video := framesFixture(t, f)

	page, err := f.svc.Frames(context.Background(), video.ID, FramesQuery{Annotated: true, Entity: "tank"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "annotated/frame_000001.jpg", page.Frames[0].Filename)
}

func TestFramesNotReadyBeforeExtraction(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	video, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)

	_, err = f.svc.Frames(ctx, video.ID, FramesQuery{})
	assert.ErrorIs(t, err, models.ErrNotReady)
}

func TestNearestFrameTieResolvesEarlier(t *testing.T) {
	f := newFixture(t, 4)
	video := framesFixture(t, f)

	// 7.5s is equidistant from the 5s and 10s frames.
	got, err := f.svc.NearestFrame(context.Background(), video.ID, 7.5, "", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Frame.Index)
	assert.Equal(t, 1, got.GlobalIndex)
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, 1, got.IndexInPage)
}

func TestNearestFrameWithEntity(t *testing.T) {
	f := newFixture(t, 4)
	video := framesFixture(t, f)

	got, err := f.svc.NearestFrame(context.Background(), video.ID, 20, "tank", 20)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Frame.Index, "nearest over the filtered sequence")
	assert.Equal(t, 1, got.GlobalIndex)

	_, err = f.svc.NearestFrame(context.Background(), video.ID, 0, "submarine", 20)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteRemovesRecordAndArtifacts(t *testing.T) {
	f := newFixture(t, 4)
	video := framesFixture(t, f)
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, video.ID))

	_, err := f.svc.Get(ctx, video.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, statErr := os.Stat(f.layout.VideoDir(video.ID))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(f.layout.ReportDir(video.ID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteRejectsActiveJob(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	video, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)
	_, err = f.repo.Acquire(ctx, video.ID)
	require.NoError(t, err)

	err = f.svc.Delete(ctx, video.ID)
	assert.ErrorIs(t, err, models.ErrJobActive)
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	video, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, video.ID))

	got, err := f.svc.Get(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.Error)
}

type cancellerFunc func(videoID string) bool

func (fn cancellerFunc) Cancel(videoID string) bool { return fn(videoID) }

func TestCancelProcessingJobSignalsWorker(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	var cancelled string
	f.svc.WithCanceller(cancellerFunc(func(videoID string) bool {
		cancelled = videoID
		return true
	}))

	video, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)
	_, err = f.repo.Acquire(ctx, video.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, video.ID))
	assert.Equal(t, video.ID, cancelled)
}

func TestCancelTerminalJobRejected(t *testing.T) {
	f := newFixture(t, 4)
	video := completeJob(t, f, &models.Report{Filename: "a.mp4"})

	err := f.svc.Cancel(context.Background(), video.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, Submission{Filename: "a.mp4", Video: strings.NewReader("a")})
	require.NoError(t, err)
	completeJob(t, f, &models.Report{Filename: "b.mp4"})

	queued, err := f.svc.List(ctx, "queued", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, queued.Total)

	completed, err := f.svc.List(ctx, "completed", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, completed.Total)

	_, err = f.svc.List(ctx, "exploded", 1, 10)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestResolveFrameFileRejectsTraversal(t *testing.T) {
	f := newFixture(t, 4)
	video := framesFixture(t, f)
	ctx := context.Background()

	framePath := filepath.Join(f.layout.FramesDir(video.ID), "frame_000000.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(framePath), 0o750))
	require.NoError(t, os.WriteFile(framePath, []byte("jpg"), 0o640))

	path, err := f.svc.ResolveFrameFile(ctx, video.ID, "frame_000000.jpg")
	require.NoError(t, err)
	assert.Equal(t, framePath, path)

	_, err = f.svc.ResolveFrameFile(ctx, video.ID, "../../../etc/passwd")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.ResolveFrameFile(ctx, video.ID, "frame_999999.jpg")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
