// Package service implements the business logic between the HTTP API and
// the job store: submission, artifact access, lifecycle operations, and
// search parameter validation.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/framesight/framesight/internal/broker"
	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/fetcher"
	"github.com/framesight/framesight/internal/fusion"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
	"github.com/framesight/framesight/internal/report"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/storage"
)

// Canceller signals cancellation to the worker that owns a processing job.
// Cancel returns false when no worker in this process owns the job.
type Canceller interface {
	Cancel(videoID string) bool
}

// VideoService handles video job submission and artifact access.
type VideoService struct {
	repo      repository.VideoRepository
	layout    *storage.Layout
	broker    broker.Broker
	cfg       *config.Config
	fetcher   fetcher.Fetcher
	assembler *report.Assembler
	index     *search.Index
	canceller Canceller
	logger    *slog.Logger
}

// NewVideoService creates a new VideoService.
func NewVideoService(repo repository.VideoRepository, layout *storage.Layout, taskBroker broker.Broker, cfg *config.Config) *VideoService {
	return &VideoService{
		repo:      repo,
		layout:    layout,
		broker:    taskBroker,
		cfg:       cfg,
		assembler: report.NewAssembler(layout, nil),
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *VideoService) WithLogger(logger *slog.Logger) *VideoService {
	s.logger = observability.WithComponent(logger, "video_service")
	return s
}

// WithFetcher sets the URL fetcher used by SubmitURL.
func (s *VideoService) WithFetcher(f fetcher.Fetcher) *VideoService {
	s.fetcher = f
	return s
}

// WithAssembler sets the report assembler used for artifact reads.
func (s *VideoService) WithAssembler(a *report.Assembler) *VideoService {
	s.assembler = a
	return s
}

// WithIndex sets the search index kept in sync on delete.
func (s *VideoService) WithIndex(ix *search.Index) *VideoService {
	s.index = ix
	return s
}

// WithCanceller sets the cancellation hook into the worker pool.
func (s *VideoService) WithCanceller(c Canceller) *VideoService {
	s.canceller = c
	return s
}

// Submission is a direct video upload.
type Submission struct {
	// Filename is the submitter-provided file name.
	Filename string

	// Video is the uploaded video content.
	Video io.Reader

	// Voice optionally carries a companion transcript file.
	Voice io.Reader

	// IntervalSec is the sampling interval; 0 selects the configured default.
	IntervalSec int
}

// URLSubmission is a video submitted by remote URL.
type URLSubmission struct {
	URL         string
	Cookies     string
	IntervalSec int
}

// Submit stores an uploaded video and queues it for processing. When the
// task queue is full the submission is rolled back completely and
// broker.ErrQueueFull is returned; no job record survives.
func (s *VideoService) Submit(ctx context.Context, sub Submission) (*models.Video, error) {
	interval := s.resolveInterval(sub.IntervalSec)
	if strings.TrimSpace(sub.Filename) == "" {
		return nil, fmt.Errorf("%w: missing filename", models.ErrInvalidInput)
	}
	if sub.Video == nil {
		return nil, fmt.Errorf("%w: missing video content", models.ErrInvalidInput)
	}

	id := models.NewVideoID()
	videoPath := s.layout.VideoPath(id, sub.Filename)
	if err := s.saveUpload(sub.Video, videoPath); err != nil {
		s.layout.RemoveJob(id)
		return nil, err
	}

	voicePath := ""
	if sub.Voice != nil {
		voicePath = s.layout.VoicePath(id)
		if err := s.saveUpload(sub.Voice, voicePath); err != nil {
			s.layout.RemoveJob(id)
			return nil, err
		}
	}

	video := &models.Video{
		ID:          id,
		Filename:    sub.Filename,
		IntervalSec: interval,
		VideoPath:   videoPath,
		VoicePath:   voicePath,
	}
	return s.register(ctx, video)
}

// SubmitURL downloads a remote video and queues it for processing.
func (s *VideoService) SubmitURL(ctx context.Context, sub URLSubmission) (*models.Video, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("%w: url submission is not configured", models.ErrInvalidInput)
	}
	interval := s.resolveInterval(sub.IntervalSec)
	if strings.TrimSpace(sub.URL) == "" {
		return nil, fmt.Errorf("%w: missing url", models.ErrInvalidInput)
	}

	id := models.NewVideoID()
	tmp := filepath.Join(s.layout.VideoDir(id), "download.tmp")
	filename, size, err := s.fetcher.Fetch(ctx, sub.URL, sub.Cookies, tmp)
	if err != nil {
		s.layout.RemoveJob(id)
		return nil, err
	}

	videoPath := s.layout.VideoPath(id, filename)
	if err := os.Rename(tmp, videoPath); err != nil {
		s.layout.RemoveJob(id)
		return nil, fmt.Errorf("storing downloaded video: %w", err)
	}
	s.logger.Info("url submission downloaded",
		slog.String("video_id", id),
		slog.String("filename", filename),
		slog.Int64("bytes", size),
	)

	video := &models.Video{
		ID:          id,
		Filename:    filename,
		IntervalSec: interval,
		VideoPath:   videoPath,
	}
	return s.register(ctx, video)
}

// register creates the job record and enqueues its task. Enqueue failure
// rolls the record and stored files back so backpressure leaves no trace.
func (s *VideoService) register(ctx context.Context, video *models.Video) (*models.Video, error) {
	if err := s.repo.Create(ctx, video); err != nil {
		s.layout.RemoveJob(video.ID)
		return nil, err
	}
	if err := s.broker.Enqueue(ctx, broker.NewTask(video.ID)); err != nil {
		if rbErr := s.repo.Remove(context.WithoutCancel(ctx), video.ID); rbErr != nil {
			s.logger.Error("rolling back rejected submission",
				slog.String("video_id", video.ID),
				slog.String("error", rbErr.Error()),
			)
		}
		s.layout.RemoveJob(video.ID)
		return nil, err
	}
	s.logger.Info("job queued",
		slog.String("video_id", video.ID),
		slog.String("filename", video.Filename),
		slog.Int("interval_sec", video.IntervalSec),
	)
	return video, nil
}

// resolveInterval substitutes the default for an unset interval and clamps
// anything below one second up to one.
func (s *VideoService) resolveInterval(intervalSec int) int {
	if intervalSec == 0 {
		return s.cfg.Pipeline.DefaultIntervalSec
	}
	if intervalSec < 1 {
		return 1
	}
	return intervalSec
}

// saveUpload writes reader content to dstPath, rejecting empty uploads.
// Size limits are enforced upstream by the HTTP layer.
func (s *VideoService) saveUpload(r io.Reader, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}
	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating upload file: %w", err)
	}
	defer out.Close()

	size, err := io.Copy(out, r)
	if err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("writing upload: %w", err)
	}
	if size == 0 {
		os.Remove(dstPath)
		return fmt.Errorf("%w: empty upload", models.ErrInvalidInput)
	}
	return nil
}

// Get returns the job record.
func (s *VideoService) Get(ctx context.Context, id string) (*models.Video, error) {
	return s.repo.Get(ctx, id)
}

// JobStatus is the live progress view of a job.
type JobStatus struct {
	VideoID      string             `json:"video_id"`
	Status       models.VideoStatus `json:"status"`
	Progress     int                `json:"progress"`
	CurrentStage string             `json:"current_stage,omitempty"`
	StatusText   string             `json:"status_text,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Status returns the progress view of a job.
func (s *VideoService) Status(ctx context.Context, id string) (*JobStatus, error) {
	video, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobStatus{
		VideoID:      video.ID,
		Status:       video.Status,
		Progress:     video.Progress,
		CurrentStage: video.CurrentStage,
		StatusText:   video.StatusText,
		Error:        video.Error,
	}, nil
}

// Report returns the canonical report of a completed job. Jobs that are
// not yet completed return models.ErrNotReady.
func (s *VideoService) Report(ctx context.Context, id string) (*models.Report, error) {
	video, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if video.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: job is %s", models.ErrNotReady, video.Status)
	}
	return s.assembler.ReadReport(id)
}

// VideoList is one page of job records.
type VideoList struct {
	Videos   []models.Video `json:"videos"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// List returns a page of jobs, optionally filtered by status.
func (s *VideoService) List(ctx context.Context, status string, page, pageSize int) (*VideoList, error) {
	var filter *models.VideoStatus
	if status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return nil, err
		}
		filter = &parsed
	}
	page, pageSize = normalizePage(page, pageSize)

	videos, total, err := s.repo.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	if videos == nil {
		videos = []models.Video{}
	}
	return &VideoList{Videos: videos, Total: total, Page: page, PageSize: pageSize}, nil
}

// Delete removes a job and all its artifacts. Queued jobs and live
// processing jobs are protected; the store returns models.ErrJobActive.
func (s *VideoService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id, s.cfg.Worker.StaleAfter); err != nil {
		return err
	}
	if err := s.layout.RemoveJob(id); err != nil {
		s.logger.Warn("removing job artifacts",
			slog.String("video_id", id),
			slog.String("error", err.Error()),
		)
	}
	if s.index != nil {
		s.index.Remove(id)
	}
	s.logger.Info("job deleted", slog.String("video_id", id))
	return nil
}

// Cancel stops a queued or processing job. Queued jobs fail immediately;
// processing jobs are signalled through the worker's cancel registry.
func (s *VideoService) Cancel(ctx context.Context, id string) error {
	video, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch video.Status {
	case models.StatusQueued:
		// The worker acks redelivered tasks for terminal jobs, so failing
		// the record here is enough to retire the queued task.
		if err := s.repo.Fail(ctx, id, "cancelled"); err != nil {
			return err
		}
		s.logger.Info("queued job cancelled", slog.String("video_id", id))
		return nil
	case models.StatusProcessing:
		if s.canceller != nil && s.canceller.Cancel(id) {
			s.logger.Info("processing job cancelled", slog.String("video_id", id))
			return nil
		}
		return fmt.Errorf("%w: job is owned by another worker", models.ErrJobActive)
	default:
		return fmt.Errorf("%w: job is %s", models.ErrInvalidTransition, video.Status)
	}
}

// FramesQuery selects a page of a job's retained frames.
type FramesQuery struct {
	Page     int
	PageSize int

	// Annotated selects overlay images instead of raw frames; frames
	// without an overlay are skipped.
	Annotated bool

	// Entity restricts the listing to frames where the entity appears.
	// Matching uses the canonical label form.
	Entity string
}

// FrameItem is one frame in a listing.
type FrameItem struct {
	Index             int                `json:"index"`
	TimestampSec      float64            `json:"timestamp_sec"`
	Filename          string             `json:"filename"`
	AnnotatedFilename string             `json:"annotated_filename,omitempty"`
	Detections        []models.Detection `json:"detections,omitempty"`
}

// FramesPage is one page of a job's frame listing.
type FramesPage struct {
	VideoID  string      `json:"video_id"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Frames   []FrameItem `json:"frames"`
}

// Frames returns a page of the job's retained frames. The entity filter
// applies identically to raw and annotated listings.
func (s *VideoService) Frames(ctx context.Context, id string, q FramesQuery) (*FramesPage, error) {
	filtered, err := s.filteredFrames(ctx, id, q.Entity, q.Annotated)
	if err != nil {
		return nil, err
	}
	page, pageSize := normalizePage(q.Page, q.PageSize)

	start := min((page-1)*pageSize, len(filtered))
	end := min(start+pageSize, len(filtered))
	items := make([]FrameItem, 0, end-start)
	for _, f := range filtered[start:end] {
		items = append(items, frameItem(f, q.Annotated))
	}
	return &FramesPage{
		VideoID:  id,
		Total:    len(filtered),
		Page:     page,
		PageSize: pageSize,
		Frames:   items,
	}, nil
}

// NearestResult locates the frame closest to a requested timestamp.
type NearestResult struct {
	Frame       FrameItem `json:"frame"`
	GlobalIndex int       `json:"global_index"`
	Page        int       `json:"page"`
	IndexInPage int       `json:"index_in_page"`
}

// NearestFrame returns the retained frame whose timestamp is closest to
// timestampSec, with its position in the paged listing. Ties between two
// equally distant frames resolve to the earlier one.
func (s *VideoService) NearestFrame(ctx context.Context, id string, timestampSec float64, entity string, pageSize int) (*NearestResult, error) {
	filtered, err := s.filteredFrames(ctx, id, entity, false)
	if err != nil {
		return nil, err
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: no matching frames", models.ErrNotFound)
	}

	best := 0
	bestDist := math.Abs(filtered[0].TimestampSec - timestampSec)
	for i := 1; i < len(filtered); i++ {
		dist := math.Abs(filtered[i].TimestampSec - timestampSec)
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}

	_, pageSize = normalizePage(1, pageSize)
	return &NearestResult{
		Frame:       frameItem(filtered[best], false),
		GlobalIndex: best,
		Page:        best/pageSize + 1,
		IndexInPage: best % pageSize,
	}, nil
}

// ResolveFrameFile resolves a frame image name to its on-disk path after
// verifying the job exists.
func (s *VideoService) ResolveFrameFile(ctx context.Context, id, name string) (string, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return "", err
	}
	path, err := s.layout.ResolveFrame(id, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", models.ErrNotFound
	}
	return path, nil
}

// VideoFile returns the stored original video path and download name.
func (s *VideoService) VideoFile(ctx context.Context, id string) (path, filename string, err error) {
	video, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	if video.VideoPath == "" {
		return "", "", models.ErrNotFound
	}
	if _, err := os.Stat(video.VideoPath); err != nil {
		return "", "", models.ErrNotFound
	}
	return video.VideoPath, video.Filename, nil
}

func (s *VideoService) filteredFrames(ctx context.Context, id, entity string, annotated bool) ([]models.Frame, error) {
	video, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	frameSet, err := s.assembler.ReadFramesIndex(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: frames are not available for a %s job", models.ErrNotReady, video.Status)
		}
		return nil, err
	}

	label := ""
	if entity != "" {
		label = fusion.Normalize(entity)
	}
	filtered := make([]models.Frame, 0, len(frameSet.Frames))
	for i := range frameSet.Frames {
		f := &frameSet.Frames[i]
		if label != "" && !f.HasLabel(label) {
			continue
		}
		if annotated && f.AnnotatedFilename == "" {
			continue
		}
		filtered = append(filtered, *f)
	}
	return filtered, nil
}

func frameItem(f models.Frame, annotated bool) FrameItem {
	item := FrameItem{
		Index:             f.Index,
		TimestampSec:      f.TimestampSec,
		Filename:          f.Filename,
		AnnotatedFilename: f.AnnotatedFilename,
		Detections:        f.Detections,
	}
	if annotated {
		item.Filename = f.AnnotatedFilename
	}
	return item
}

func parseStatus(s string) (models.VideoStatus, error) {
	switch models.VideoStatus(strings.ToLower(s)) {
	case models.StatusQueued:
		return models.StatusQueued, nil
	case models.StatusProcessing:
		return models.StatusProcessing, nil
	case models.StatusCompleted:
		return models.StatusCompleted, nil
	case models.StatusFailed:
		return models.StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, s)
	}
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
