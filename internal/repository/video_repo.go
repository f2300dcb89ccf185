// Package repository provides data access for the framesight job store.
// The repository is the single enforcement point for the job lifecycle:
// status transitions, monotonic progress, and delete rules are all guarded
// here with conditional updates so concurrent writers serialize per job.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/framesight/framesight/internal/models"
)

// CompletionSummary carries the report-derived fields written on completion.
type CompletionSummary struct {
	FramesAnalyzed int
	UniqueEntities int
	EntitySummary  string
	ReportPath     string
	Annotated      bool
}

// VideoRepository is the durable job store.
type VideoRepository interface {
	// Create inserts a new job record in the queued state.
	Create(ctx context.Context, video *models.Video) error

	// Get returns the job or models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Video, error)

	// List returns a page of jobs, newest first, optionally filtered by
	// status, along with the total matching count.
	List(ctx context.Context, status *models.VideoStatus, page, pageSize int) ([]models.Video, int64, error)

	// ListByStatus returns all jobs in the given status, oldest first.
	ListByStatus(ctx context.Context, status models.VideoStatus) ([]models.Video, error)

	// Acquire transitions queued -> processing and returns the fresh record.
	// Returns models.ErrInvalidTransition when the job is not queued, which
	// makes redelivered tasks for terminal jobs a no-op for callers.
	Acquire(ctx context.Context, id string) (*models.Video, error)

	// UpdateProgress writes progress/stage for a processing job. Progress is
	// clamped to [0, 100]; a value below the stored one is ignored so
	// observed progress is non-decreasing.
	UpdateProgress(ctx context.Context, id string, progress int, stage, statusText string) error

	// SetMedia records probe results on a processing job.
	SetMedia(ctx context.Context, id string, durationSec float64, framesAnalyzed int, framesDir string) error

	// SetVoicePath records the optional companion transcript upload.
	SetVoicePath(ctx context.Context, id, voicePath string) error

	// Complete transitions processing -> completed with progress 100.
	Complete(ctx context.Context, id string, summary CompletionSummary) error

	// Fail transitions a non-terminal job to failed with the given message.
	Fail(ctx context.Context, id, errMsg string) error

	// Delete removes the record. Only terminal jobs, or processing jobs not
	// updated within staleAfter, may be deleted; otherwise models.ErrJobActive.
	Delete(ctx context.Context, id string, staleAfter time.Duration) error

	// Remove deletes the record unconditionally. Used to roll back a
	// submission whose enqueue failed; never exposed through the API.
	Remove(ctx context.Context, id string) error

	// ResetStale returns processing jobs whose updated_at is older than
	// staleAfter to the queued state and reports which jobs were reset.
	ResetStale(ctx context.Context, staleAfter time.Duration) ([]models.Video, error)
}

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

var _ VideoRepository = (*videoRepo)(nil)

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		video.ID = models.NewVideoID()
	}
	if video.Status == "" {
		video.Status = models.StatusQueued
	}
	if video.IntervalSec < 1 {
		video.IntervalSec = 1
	}
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

func (r *videoRepo) Get(ctx context.Context, id string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("getting video: %w", err)
	}
	return &video, nil
}

func (r *videoRepo) List(ctx context.Context, status *models.VideoStatus, page, pageSize int) ([]models.Video, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&models.Video{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting videos: %w", err)
	}

	var videos []models.Video
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&videos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing videos: %w", err)
	}
	return videos, total, nil
}

func (r *videoRepo) ListByStatus(ctx context.Context, status models.VideoStatus) ([]models.Video, error) {
	var videos []models.Video
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("listing videos by status: %w", err)
	}
	return videos, nil
}

func (r *videoRepo) Acquire(ctx context.Context, id string) (*models.Video, error) {
	res := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Updates(map[string]any{
			"status":        models.StatusProcessing,
			"progress":      0,
			"current_stage": models.StageExtracting,
			"status_text":   "starting",
			"error":         "",
		})
	if res.Error != nil {
		return nil, fmt.Errorf("acquiring video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish missing from not-queued.
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidTransition
	}
	return r.Get(ctx, id)
}

func (r *videoRepo) UpdateProgress(ctx context.Context, id string, progress int, stage, statusText string) error {
	progress = min(max(progress, 0), 100)

	res := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status = ? AND progress <= ?", id, models.StatusProcessing, progress).
		Updates(map[string]any{
			"progress":      progress,
			"current_stage": stage,
			"status_text":   statusText,
		})
	if res.Error != nil {
		return fmt.Errorf("updating progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		video, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if video.Status != models.StatusProcessing {
			return models.ErrInvalidTransition
		}
		// A higher progress value is already stored; keep it.
		return nil
	}
	return nil
}

func (r *videoRepo) SetMedia(ctx context.Context, id string, durationSec float64, framesAnalyzed int, framesDir string) error {
	res := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"duration_sec":    durationSec,
			"frames_analyzed": framesAnalyzed,
			"frames_dir":      framesDir,
		})
	if res.Error != nil {
		return fmt.Errorf("setting media fields: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *videoRepo) SetVoicePath(ctx context.Context, id, voicePath string) error {
	res := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ?", id).
		Update("voice_path", voicePath)
	if res.Error != nil {
		return fmt.Errorf("setting voice path: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *videoRepo) Complete(ctx context.Context, id string, summary CompletionSummary) error {
	res := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"status":          models.StatusCompleted,
			"progress":        100,
			"current_stage":   "",
			"status_text":     "completed",
			"error":           "",
			"frames_analyzed": summary.FramesAnalyzed,
			"unique_entities": summary.UniqueEntities,
			"entity_summary":  summary.EntitySummary,
			"report_path":     summary.ReportPath,
			"annotated":       summary.Annotated,
		})
	if res.Error != nil {
		return fmt.Errorf("completing video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *videoRepo) Fail(ctx context.Context, id, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status IN ?", id, []models.VideoStatus{models.StatusQueued, models.StatusProcessing}).
		Updates(map[string]any{
			"status":        models.StatusFailed,
			"current_stage": "",
			"status_text":   "failed",
			"error":         errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("failing video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *videoRepo) Delete(ctx context.Context, id string, staleAfter time.Duration) error {
	cutoff := time.Now().Add(-staleAfter)
	res := r.db.WithContext(ctx).
		Where("id = ? AND (status IN ? OR (status = ? AND updated_at < ?))",
			id,
			[]models.VideoStatus{models.StatusCompleted, models.StatusFailed},
			models.StatusProcessing, cutoff,
		).
		Delete(&models.Video{})
	if res.Error != nil {
		return fmt.Errorf("deleting video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return models.ErrJobActive
	}
	return nil
}

func (r *videoRepo) Remove(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Video{})
	if res.Error != nil {
		return fmt.Errorf("removing video: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *videoRepo) ResetStale(ctx context.Context, staleAfter time.Duration) ([]models.Video, error) {
	cutoff := time.Now().Add(-staleAfter)

	var stale []models.Video
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusProcessing, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("finding stale videos: %w", err)
	}

	var reset []models.Video
	for i := range stale {
		// Guard on updated_at so a worker that resumed in the meantime
		// keeps ownership of its job.
		res := r.db.WithContext(ctx).Model(&models.Video{}).
			Where("id = ? AND status = ? AND updated_at < ?", stale[i].ID, models.StatusProcessing, cutoff).
			Updates(map[string]any{
				"status":          models.StatusQueued,
				"progress":        0,
				"current_stage":   "",
				"status_text":     "",
				"error":           "",
				"frames_analyzed": 0,
				"unique_entities": 0,
				"entity_summary":  "",
				"annotated":       false,
			})
		if res.Error != nil {
			return reset, fmt.Errorf("resetting stale video %s: %w", stale[i].ID, res.Error)
		}
		if res.RowsAffected > 0 {
			reset = append(reset, stale[i])
		}
	}
	return reset, nil
}
