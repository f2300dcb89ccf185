// Package indexing implements the search indexing pipeline stage. Indexing
// failure is non-fatal: the report exists on disk and the index can be
// rebuilt on the next restart.
package indexing

import (
	"context"
	"log/slog"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/pipeline/core"
	"github.com/framesight/framesight/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = models.StageIndexing
	// StageName is the human-readable name for this stage.
	StageName = "Indexing search"
)

// Progress budget.
const (
	budgetLo = 95
	budgetHi = 100
)

// Stage publishes the finished report into the in-process search index.
type Stage struct {
	shared.BaseStage
	indexer core.Indexer
	logger  *slog.Logger
}

// New creates the indexing stage. A nil indexer makes the stage a no-op.
func New(indexer core.Indexer, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, budgetLo, budgetHi),
		indexer:   indexer,
		logger:    logger.With("stage", StageID),
	}
}

// Execute indexes the report, logging failures without failing the job.
func (s *Stage) Execute(ctx context.Context, state *core.State) error {
	if s.indexer == nil || state.Report == nil {
		return nil
	}
	if err := s.indexer.IndexReport(state.Report, state.Video); err != nil {
		s.logger.WarnContext(ctx, "search indexing failed",
			slog.String("video_id", state.Video.ID),
			slog.String("error", err.Error()),
		)
		state.AddError(err)
	}
	return nil
}
