// Package core provides the job pipeline orchestration framework.
package core

import (
	"context"
	"time"

	"github.com/framesight/framesight/internal/models"
)

// Stage represents a single step of the ingestion pipeline.
type Stage interface {
	// ID returns the stage identifier persisted in the job's current_stage
	// field (e.g., "extracting_frames").
	ID() string

	// Name returns a human-readable name (e.g., "Extracting frames").
	Name() string

	// Budget returns the stage's slice of the job's 0-100 progress scale.
	// A point stage returns lo == hi.
	Budget() (lo, hi int)

	// Execute performs the stage's work against the shared state. A
	// returned error is fatal for the job; stages with a non-fatal failure
	// policy record their errors in the state and return nil.
	Execute(ctx context.Context, state *State) error
}

// ProgressReporter receives per-item progress from inside a stage.
type ProgressReporter interface {
	// ReportItemProgress reports progress on individual items (frames).
	ReportItemProgress(ctx context.Context, current, total int)
}

// State holds all data shared between pipeline stages for one job.
type State struct {
	// Video is the job row as acquired by the worker.
	Video *models.Video

	// DurationSec is the probed container duration.
	DurationSec float64

	// Frames is the extracted (and pruned) frame sequence; the detection
	// stage fills in each frame's detections.
	Frames []models.Frame

	// Entities is the aggregated per-label summary map.
	Entities map[string]models.EntitySummary

	// Transcript is the optional speech-to-text result, including the
	// failure record when transcription did not succeed.
	Transcript *models.Transcript

	// Report is the assembled canonical report.
	Report *models.Report

	// ReportPath is where the report was persisted.
	ReportPath string

	// Annotated is the number of annotated overlay frames written.
	Annotated int

	// ProgressReporter is wired by the driver before each stage runs.
	ProgressReporter ProgressReporter

	// StartTime records when pipeline execution began.
	StartTime time.Time

	// Errors collects non-fatal errors during execution.
	Errors []error
}

// NewState creates the pipeline state for a job.
func NewState(video *models.Video) *State {
	return &State{
		Video:     video,
		StartTime: time.Now(),
	}
}

// AddError records a non-fatal error.
func (s *State) AddError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err)
	}
}

// Duration returns the elapsed time since pipeline start.
func (s *State) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// Indexer receives the finished report for search indexing.
type Indexer interface {
	IndexReport(report *models.Report, video *models.Video) error
}
