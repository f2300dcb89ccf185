// Package aggregation implements the report aggregation pipeline stage.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/framesight/framesight/internal/aggregate"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/pipeline/core"
	"github.com/framesight/framesight/internal/pipeline/shared"
	"github.com/framesight/framesight/internal/report"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = models.StageAggregating
	// StageName is the human-readable name for this stage.
	StageName = "Aggregating report"
)

// Progress budget.
const (
	budgetLo = 80
	budgetHi = 95
)

// Stage folds detections into entity summaries and persists the canonical
// artifacts. Failure is fatal: without a report the job has no value.
type Stage struct {
	shared.BaseStage
	assembler *report.Assembler
	opts      aggregate.Options
	annotate  bool
	logger    *slog.Logger
}

// New creates the aggregation stage.
func New(assembler *report.Assembler, opts aggregate.Options, annotate bool, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, budgetLo, budgetHi),
		assembler: assembler,
		opts:      opts,
		annotate:  annotate,
		logger:    logger.With("stage", StageID),
	}
}

// Execute aggregates, optionally annotates, and writes report.json,
// transcript.json and frames.json.
func (s *Stage) Execute(ctx context.Context, state *core.State) error {
	video := state.Video
	state.Entities = aggregate.Aggregate(state.Frames, s.opts)

	if s.annotate && len(state.Entities) > 0 {
		written, err := s.assembler.Annotate(video.ID, state.Frames, state.Entities)
		if err != nil {
			// Overlays are a convenience; the report is the product.
			s.logger.WarnContext(ctx, "annotating frames failed",
				slog.String("video_id", video.ID),
				slog.String("error", err.Error()),
			)
			state.AddError(err)
		}
		state.Annotated = written
	}

	frameSet := &models.FrameSet{
		VideoID:     video.ID,
		IntervalSec: video.IntervalSec,
		Frames:      state.Frames,
	}
	if err := s.assembler.WriteFramesIndex(frameSet); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}

	state.Report = report.Build(
		video.ID,
		video.Filename,
		state.DurationSec,
		video.IntervalSec,
		len(state.Frames),
		state.Entities,
		state.Transcript,
	)
	path, err := s.assembler.Write(state.Report)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrPersistence, err)
	}
	state.ReportPath = path
	return nil
}
