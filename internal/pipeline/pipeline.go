// Package pipeline assembles the job ingestion pipeline. Each stage
// implements the core.Stage interface and operates on shared state.
//
// The pipeline is organized into several sub-packages:
//   - core: driver, interfaces, progress reporting, and error taxonomy
//   - shared: utilities shared between stages
//   - stages/*: individual stage implementations
package pipeline

import (
	"log/slog"

	"github.com/framesight/framesight/internal/aggregate"
	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/extract"
	"github.com/framesight/framesight/internal/fusion"
	"github.com/framesight/framesight/internal/pipeline/core"
	"github.com/framesight/framesight/internal/pipeline/stages/aggregation"
	"github.com/framesight/framesight/internal/pipeline/stages/detection"
	"github.com/framesight/framesight/internal/pipeline/stages/extraction"
	"github.com/framesight/framesight/internal/pipeline/stages/indexing"
	"github.com/framesight/framesight/internal/pipeline/stages/transcription"
	"github.com/framesight/framesight/internal/report"
	"github.com/framesight/framesight/internal/repository"
	"github.com/framesight/framesight/internal/storage"
)

// Re-export core types for convenience.
type (
	// Stage is a single step in the pipeline.
	Stage = core.Stage

	// State holds shared data between stages.
	State = core.State

	// Driver executes stages in sequence.
	Driver = core.Driver

	// Indexer receives finished reports.
	Indexer = core.Indexer
)

// Re-export terminal error codes.
const (
	CodeInputInvalid          = core.CodeInputInvalid
	CodeExtractionFailed      = core.CodeExtractionFailed
	CodeCapabilityUnavailable = core.CodeCapabilityUnavailable
	CodeCapabilityRuntime     = core.CodeCapabilityRuntime
	CodeTranscriptError       = core.CodeTranscriptError
	CodeStageTimeout          = core.CodeStageTimeout
	CodeCancelled             = core.CodeCancelled
	CodePersistenceError      = core.CodePersistenceError
)

// ErrCancelRequested marks a job context cancelled on a caller's behalf,
// as opposed to a process shutdown.
var ErrCancelRequested = core.ErrCancelRequested

// Stage IDs in execution order.
const (
	StageIDExtraction    = extraction.StageID
	StageIDTranscription = transcription.StageID
	StageIDDetection     = detection.StageID
	StageIDAggregation   = aggregation.StageID
	StageIDIndexing      = indexing.StageID
)

// Dependencies bundles everything the default stage set needs.
type Dependencies struct {
	Repo         repository.VideoRepository
	Layout       *storage.Layout
	Extractor    *extract.Extractor
	Engine       *fusion.Engine
	Capabilities *capability.Set
	Assembler    *report.Assembler
	Indexer      core.Indexer
	Config       *config.Config
	Logger       *slog.Logger
}

// NewDefaultDriver builds a Driver with the standard five-stage pipeline.
func NewDefaultDriver(deps Dependencies) *Driver {
	opts := aggregate.Options{
		YOLOMinConsecutive:      deps.Config.Detection.MinConsecutive,
		OpenVocabMinConsecutive: deps.Config.OpenVocab.MinConsecutive,
		DiscoveryMinConsecutive: deps.Config.Discovery.MinConsecutive,
		ConfidenceMinScore:      deps.Config.Detection.ConfidenceMinScore,
	}

	stages := []Stage{
		extraction.New(deps.Extractor, deps.Repo, deps.Layout, deps.Logger),
		transcription.New(deps.Capabilities, deps.Config.Transcription.Enabled, deps.Logger),
		detection.New(deps.Engine, deps.Layout, deps.Logger),
		aggregation.New(deps.Assembler, opts, deps.Config.Pipeline.AnnotateFrames, deps.Logger),
		indexing.New(deps.Indexer, deps.Logger),
	}
	return core.NewDriver(deps.Repo, deps.Layout, stages, deps.Config.Pipeline.StageTimeout, deps.Logger)
}
