// Package extraction implements the frame extraction pipeline stage.
package extraction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/framesight/framesight/internal/extract"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/pipeline/core"
	"github.com/framesight/framesight/internal/pipeline/shared"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/storage"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = models.StageExtracting
	// StageName is the human-readable name for this stage.
	StageName = "Extracting frames"
)

// Progress budget.
const (
	budgetLo = 0
	budgetHi = 20
)

// Stage extracts the frame grid from the stored video. Failure is fatal.
type Stage struct {
	shared.BaseStage
	extractor *extract.Extractor
	repo      repository.VideoRepository
	layout    *storage.Layout
	logger    *slog.Logger
}

// New creates the extraction stage.
func New(extractor *extract.Extractor, repo repository.VideoRepository, layout *storage.Layout, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, budgetLo, budgetHi),
		extractor: extractor,
		repo:      repo,
		layout:    layout,
		logger:    logger.With("stage", StageID),
	}
}

// Execute runs frame extraction and records the media facts on the job row.
func (s *Stage) Execute(ctx context.Context, state *core.State) error {
	video := state.Video
	res, err := s.extractor.Extract(ctx, video.ID, video.VideoPath, video.IntervalSec)
	if err != nil {
		return err
	}

	state.Frames = res.FrameSet.Frames
	state.DurationSec = res.DurationSec

	s.logger.InfoContext(ctx, "frames extracted",
		slog.String("video_id", video.ID),
		slog.Int("frames", len(state.Frames)),
		slog.Float64("duration_sec", res.DurationSec),
	)

	err = s.repo.SetMedia(ctx, video.ID, res.DurationSec, len(state.Frames), s.layout.FramesDir(video.ID))
	if err != nil {
		return fmt.Errorf("%w: recording media facts: %v", core.ErrPersistence, err)
	}
	return nil
}
