package core

import (
	"errors"
	"fmt"

	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/extract"
	"github.com/framesight/framesight/internal/fusion"
	"github.com/framesight/framesight/internal/models"
)

// Terminal error codes persisted in the job's error field.
const (
	CodeInputInvalid          = "input_invalid"
	CodeExtractionFailed      = "extraction_failed"
	CodeCapabilityUnavailable = "capability_unavailable"
	CodeCapabilityRuntime     = "capability_runtime_error"
	CodeTranscriptError       = "transcript_error"
	CodeStageTimeout          = "stage_timeout"
	CodeCancelled             = "cancelled"
	CodePersistenceError      = "persistence_error"
)

// ErrPersistence marks a durable-write failure inside a stage.
var ErrPersistence = errors.New("persistence error")

// ErrCancelRequested is the cancellation cause set when a caller cancels a
// running job. Context cancellation without this cause means the process is
// shutting down, which must not write a terminal state.
var ErrCancelRequested = errors.New("cancel requested")

// Classify maps a fatal stage error onto the terminal error string stored
// on the job row.
func Classify(stageID string, err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return fmt.Sprintf("%s: %v", CodeInputInvalid, trimPrefix(err, models.ErrInvalidInput))
	case errors.Is(err, ErrPersistence):
		return fmt.Sprintf("%s: %v", CodePersistenceError, err)
	case errors.Is(err, capability.ErrUnavailable):
		return fmt.Sprintf("%s: %v", CodeCapabilityUnavailable, err)
	case capability.IsRuntime(err), errors.Is(err, fusion.ErrAllFramesFailed):
		return fmt.Sprintf("%s: %v", CodeCapabilityRuntime, err)
	case errors.Is(err, extract.ErrNoFrames), stageID == models.StageExtracting:
		return fmt.Sprintf("%s: %v", CodeExtractionFailed, err)
	default:
		return fmt.Sprintf("%s: %v", stageID, err)
	}
}

func trimPrefix(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
