// Package detection implements the entity detection pipeline stage.
package detection

import (
	"context"
	"log/slog"

	"github.com/framesight/framesight/internal/fusion"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/pipeline/core"
	"github.com/framesight/framesight/internal/pipeline/shared"
	"github.com/framesight/framesight/internal/storage"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = models.StageDetecting
	// StageName is the human-readable name for this stage.
	StageName = "Detecting entities"
)

// Progress budget. Progress within the stage is linear in frames
// processed.
const (
	budgetLo = 20
	budgetHi = 80
)

// Stage runs the detection sources over the extracted frames. Per-source
// failures are non-fatal; the stage fails only when the object detector
// errors on every frame. Zero surviving detections is a valid outcome.
type Stage struct {
	shared.BaseStage
	engine *fusion.Engine
	layout *storage.Layout
	logger *slog.Logger
}

// New creates the detection stage.
func New(engine *fusion.Engine, layout *storage.Layout, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, budgetLo, budgetHi),
		engine:    engine,
		layout:    layout,
		logger:    logger.With("stage", StageID),
	}
}

// Execute fills in each frame's detections.
func (s *Stage) Execute(ctx context.Context, state *core.State) error {
	video := state.Video

	if state.ProgressReporter != nil {
		reporter := state.ProgressReporter
		s.engine.OnFrame = func(done, total int) {
			reporter.ReportItemProgress(ctx, done, total)
		}
		defer func() { s.engine.OnFrame = nil }()
	}

	frames, err := s.engine.Run(ctx, s.layout.FramesDir(video.ID), state.Frames)
	if err != nil {
		return err
	}
	state.Frames = frames

	detections := 0
	for i := range frames {
		detections += len(frames[i].Detections)
		for _, msg := range frames[i].Errors {
			s.logger.DebugContext(ctx, "frame-level detection error",
				slog.String("video_id", video.ID),
				slog.Int("frame", frames[i].Index),
				slog.String("error", msg),
			)
		}
	}
	s.logger.InfoContext(ctx, "detection finished",
		slog.String("video_id", video.ID),
		slog.Int("frames", len(frames)),
		slog.Int("detections", detections),
	)
	return nil
}
