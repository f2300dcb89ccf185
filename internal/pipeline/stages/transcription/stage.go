// Package transcription implements the audio transcription pipeline stage.
// The stage is non-fatal: any failure is recorded in the report's
// transcript block and the job continues.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/pipeline/core"
	"github.com/framesight/framesight/internal/pipeline/shared"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = models.StageTranscribing
	// StageName is the human-readable name for this stage.
	StageName = "Transcribing audio"
)

// The transcription stage is a point update on the progress scale.
const budgetPoint = 20

// Stage produces the optional transcript for the report.
type Stage struct {
	shared.BaseStage
	capabilities *capability.Set
	enabled      bool
	logger       *slog.Logger
}

// New creates the transcription stage.
func New(capabilities *capability.Set, enabled bool, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		BaseStage:    shared.NewBaseStage(StageID, StageName, budgetPoint, budgetPoint),
		capabilities: capabilities,
		enabled:      enabled,
		logger:       logger.With("stage", StageID),
	}
}

// Execute fills in state.Transcript. An uploaded companion transcript wins
// over running the transcriber.
func (s *Stage) Execute(ctx context.Context, state *core.State) error {
	if !s.enabled {
		return nil
	}
	video := state.Video

	if video.VoicePath != "" {
		data, err := os.ReadFile(video.VoicePath)
		if err != nil {
			state.Transcript = &models.Transcript{
				Error: fmt.Sprintf("%s: reading uploaded transcript: %v", core.CodeTranscriptError, err),
			}
			state.AddError(err)
			return nil
		}
		state.Transcript = &models.Transcript{Text: strings.TrimSpace(string(data))}
		return nil
	}

	transcriber, err := s.capabilities.Transcriber()
	if err != nil {
		if errors.Is(err, capability.ErrUnavailable) {
			s.logger.InfoContext(ctx, "transcriber unavailable, skipping",
				slog.String("video_id", video.ID),
			)
			state.Transcript = &models.Transcript{
				Error: fmt.Sprintf("%s: %v", core.CodeCapabilityUnavailable, err),
			}
			return nil
		}
		state.Transcript = &models.Transcript{
			Error: fmt.Sprintf("%s: %v", core.CodeTranscriptError, err),
		}
		state.AddError(err)
		return nil
	}

	transcript, err := transcriber.Transcribe(ctx, video.VideoPath)
	if err != nil {
		// Cancellation must still stop the job.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WarnContext(ctx, "transcription failed",
			slog.String("video_id", video.ID),
			slog.String("error", err.Error()),
		)
		state.Transcript = &models.Transcript{
			Error: fmt.Sprintf("%s: %v", core.CodeTranscriptError, err),
		}
		state.AddError(err)
		return nil
	}
	state.Transcript = transcript
	return nil
}
