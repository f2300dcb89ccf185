package models

import "errors"

// Shared store and service errors.
var (
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("video not found")

	// ErrInvalidTransition indicates a status change that violates the
	// queued -> processing -> {completed, failed} DAG.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrJobActive indicates a delete of a non-stale processing job.
	ErrJobActive = errors.New("video is being processed")

	// ErrNotReady indicates the report was requested before completion.
	ErrNotReady = errors.New("report not ready")

	// ErrInvalidInput indicates an unusable submission (empty upload,
	// unreadable video, bad interval).
	ErrInvalidInput = errors.New("invalid input")
)
