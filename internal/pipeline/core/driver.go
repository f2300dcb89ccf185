package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/storage"
)

// activeJobs guards against the same job running twice in one process,
// e.g. when the broker redelivers a task the worker is still executing.
var (
	activeJobs   = make(map[string]bool)
	activeJobsMu sync.Mutex
)

// Driver executes the ordered stage list for one job and writes its
// terminal state. Only the worker owning a job calls Run for it.
type Driver struct {
	repo         repository.VideoRepository
	layout       *storage.Layout
	stages       []Stage
	stageTimeout time.Duration
	logger       *slog.Logger
}

// NewDriver creates a Driver. A zero stageTimeout disables the per-stage
// deadline.
func NewDriver(repo repository.VideoRepository, layout *storage.Layout, stages []Stage, stageTimeout time.Duration, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		repo:         repo,
		layout:       layout,
		stages:       stages,
		stageTimeout: stageTimeout,
		logger:       observability.WithComponent(logger, "pipeline"),
	}
}

// Run drives a job already in processing through every stage. The terminal
// status is always written before returning; the returned error reports a
// fatal outcome to the caller for logging only.
func (d *Driver) Run(ctx context.Context, video *models.Video) error {
	if !acquireJob(video.ID) {
		return models.ErrJobActive
	}
	defer releaseJob(video.ID)

	logger := observability.WithJob(d.logger, video.ID)
	state := NewState(video)

	logger.InfoContext(ctx, "starting pipeline",
		slog.String("filename", video.Filename),
		slog.Int("stage_count", len(d.stages)),
	)

	for i, stage := range d.stages {
		if ctx.Err() != nil {
			return d.interrupted(ctx, video, stage.ID(), logger)
		}

		reporter := newStoreReporter(d.repo, video.ID, stage)
		if err := reporter.stageStart(ctx); err != nil {
			logger.Warn("writing stage progress failed", slog.String("error", err.Error()))
		}
		state.ProgressReporter = reporter

		if err := d.executeStage(ctx, i, stage, state, logger); err != nil {
			if ctx.Err() != nil {
				return d.interrupted(ctx, video, stage.ID(), logger)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return d.fail(ctx, video, fmt.Sprintf("%s:%s", CodeStageTimeout, stage.ID()), logger)
			}
			return d.fail(ctx, video, Classify(stage.ID(), err), logger)
		}
	}

	summary := repository.CompletionSummary{
		FramesAnalyzed: len(state.Frames),
		UniqueEntities: len(state.Entities),
		EntitySummary:  encodeEntities(state.Entities),
		ReportPath:     state.ReportPath,
		Annotated:      state.Annotated > 0,
	}
	if err := d.repo.Complete(context.WithoutCancel(ctx), video.ID, summary); err != nil {
		logger.Error("marking job completed failed", slog.String("error", err.Error()))
		return fmt.Errorf("completing job: %w", err)
	}

	logger.InfoContext(ctx, "pipeline completed",
		slog.Int("frames_analyzed", summary.FramesAnalyzed),
		slog.Int("unique_entities", summary.UniqueEntities),
		slog.Int("non_fatal_errors", len(state.Errors)),
		slog.Duration("duration", state.Duration()),
	)
	return nil
}

func (d *Driver) executeStage(ctx context.Context, index int, stage Stage, state *State, logger *slog.Logger) error {
	stageCtx := ctx
	cancel := func() {}
	if d.stageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, d.stageTimeout)
	}
	defer cancel()

	start := time.Now()
	logger.InfoContext(ctx, "executing stage",
		slog.Int("stage_num", index+1),
		slog.Int("total_stages", len(d.stages)),
		slog.String("stage_id", stage.ID()),
	)

	if err := stage.Execute(stageCtx, state); err != nil {
		logger.ErrorContext(ctx, "stage failed",
			slog.String("stage_id", stage.ID()),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}

	logger.InfoContext(ctx, "stage completed",
		slog.String("stage_id", stage.ID()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (d *Driver) fail(ctx context.Context, video *models.Video, errMsg string, logger *slog.Logger) error {
	if err := d.repo.Fail(context.WithoutCancel(ctx), video.ID, errMsg); err != nil {
		logger.Error("marking job failed failed", slog.String("error", err.Error()))
	}
	return errors.New(errMsg)
}

// interrupted distinguishes a caller-requested cancel from a process
// shutdown. Only the former is terminal; a job interrupted by shutdown
// stays in processing so the stale sweep can requeue it.
func (d *Driver) interrupted(ctx context.Context, video *models.Video, stageID string, logger *slog.Logger) error {
	if errors.Is(context.Cause(ctx), ErrCancelRequested) {
		d.cancelled(ctx, video, logger)
		return fmt.Errorf("job cancelled at stage %s", stageID)
	}
	logger.Info("worker interrupted, leaving job for stale recovery", slog.String("stage_id", stageID))
	return fmt.Errorf("worker interrupted at stage %s", stageID)
}

// cancelled writes the terminal state and removes partial artifacts. The
// original video is kept so the job could be resubmitted; frames and any
// partial report are not.
func (d *Driver) cancelled(ctx context.Context, video *models.Video, logger *slog.Logger) {
	logger.Info("job cancelled, removing partial artifacts")
	_ = d.fail(ctx, video, CodeCancelled, logger)
	if err := d.layout.RemoveFrames(video.ID); err != nil {
		logger.Warn("removing partial frames failed", slog.String("error", err.Error()))
	}
	if err := os.RemoveAll(d.layout.ReportDir(video.ID)); err != nil {
		logger.Warn("removing partial report failed", slog.String("error", err.Error()))
	}
}

func encodeEntities(entities map[string]models.EntitySummary) string {
	if len(entities) == 0 {
		return "{}"
	}
	data, err := json.Marshal(entities)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func acquireJob(id string) bool {
	activeJobsMu.Lock()
	defer activeJobsMu.Unlock()
	if activeJobs[id] {
		return false
	}
	activeJobs[id] = true
	return true
}

func releaseJob(id string) {
	activeJobsMu.Lock()
	defer activeJobsMu.Unlock()
	delete(activeJobs, id)
}
