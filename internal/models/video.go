package models

import (
	"time"
)

// VideoStatus represents the lifecycle state of a submitted video.
type VideoStatus string

const (
	// StatusQueued indicates the job is waiting for a worker.
	StatusQueued VideoStatus = "queued"
	// StatusProcessing indicates a worker owns the job and is running stages.
	StatusProcessing VideoStatus = "processing"
	// StatusCompleted indicates the report was produced and indexed.
	StatusCompleted VideoStatus = "completed"
	// StatusFailed indicates the job terminated with an error.
	StatusFailed VideoStatus = "failed"
)

// Stage names used in the CurrentStage field and progress reporting.
const (
	StageExtracting   = "extracting_frames"
	StageTranscribing = "transcribing_audio"
	StageDetecting    = "detecting_entities"
	StageAggregating  = "aggregating_report"
	StageIndexing     = "indexing_search"
)

// Video is the durable job record: one submitted video plus the state of
// its derived artifacts. Only the worker that owns the job mutates it after
// submission; the record is immutable once terminal.
type Video struct {
	// ID is the 8-hex video identifier.
	ID string `gorm:"primaryKey;size:8" json:"video_id"`

	// Filename is the submitter-provided file name.
	Filename string `gorm:"not null;size:512" json:"filename"`

	// IntervalSec is the sampling interval in seconds, clamped to >= 1.
	IntervalSec int `gorm:"not null;default:5" json:"interval_sec"`

	// Status is the lifecycle state; transitions form the DAG
	// queued -> processing -> {completed, failed}.
	Status VideoStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// Progress is in [0, 100], non-decreasing until terminal.
	Progress int `gorm:"not null;default:0" json:"progress"`

	// CurrentStage is the pipeline stage currently executing.
	CurrentStage string `gorm:"size:50" json:"current_stage,omitempty"`

	// StatusText is a short human-readable progress description.
	StatusText string `gorm:"size:512" json:"status_text,omitempty"`

	// DurationSec is the probed video duration in seconds.
	DurationSec float64 `json:"duration_sec,omitempty"`

	// FramesAnalyzed is the number of frames that survived sampling.
	FramesAnalyzed int `json:"frames_analyzed,omitempty"`

	// UniqueEntities is the number of labels in the final report.
	UniqueEntities int `json:"unique_entities,omitempty"`

	// EntitySummary is the JSON-serialized entities map of the report,
	// denormalized onto the row for cheap listing.
	EntitySummary string `gorm:"type:text" json:"-"`

	// VideoPath is the stored original video file.
	VideoPath string `gorm:"size:1024" json:"video_path,omitempty"`

	// VoicePath is the optional companion transcript upload.
	VoicePath string `gorm:"size:1024" json:"voice_path,omitempty"`

	// FramesDir is the per-job frames directory.
	FramesDir string `gorm:"size:1024" json:"frames_dir,omitempty"`

	// ReportPath is the canonical report file.
	ReportPath string `gorm:"size:1024" json:"report_path,omitempty"`

	// Annotated indicates annotated overlays were produced.
	Annotated bool `json:"annotated"`

	// Error is set only when Status is failed.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// IsTerminal returns true once the job has entered completed or failed.
func (v *Video) IsTerminal() bool {
	return v.Status == StatusCompleted || v.Status == StatusFailed
}

// CanTransitionTo reports whether moving to the target status is legal.
func (v *Video) CanTransitionTo(target VideoStatus) bool {
	switch v.Status {
	case StatusQueued:
		return target == StatusProcessing || target == StatusFailed
	case StatusProcessing:
		return target == StatusCompleted || target == StatusFailed
	default:
		return false
	}
}

// MarkProcessing moves the job into the processing state.
func (v *Video) MarkProcessing() {
	v.Status = StatusProcessing
	v.Progress = 0
	v.CurrentStage = StageExtracting
	v.Error = ""
}

// MarkCompleted moves the job into the completed terminal state.
// Progress reaches exactly 100 on completion.
func (v *Video) MarkCompleted() {
	v.Status = StatusCompleted
	v.Progress = 100
	v.CurrentStage = ""
	v.StatusText = "completed"
	v.Error = ""
}

// MarkFailed moves the job into the failed terminal state.
func (v *Video) MarkFailed(err error) {
	v.Status = StatusFailed
	v.CurrentStage = ""
	v.StatusText = "failed"
	if err != nil {
		v.Error = err.Error()
	}
}

// ResetForRetry returns the job to queued with stage and progress cleared.
// Used by stale-job recovery before re-enqueueing.
func (v *Video) ResetForRetry() {
	v.Status = StatusQueued
	v.Progress = 0
	v.CurrentStage = ""
	v.StatusText = ""
	v.Error = ""
	v.FramesAnalyzed = 0
	v.UniqueEntities = 0
	v.EntitySummary = ""
	v.Annotated = false
}
