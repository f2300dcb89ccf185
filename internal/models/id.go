// Package models defines the job record and the artifact data types
// (frames, detections, reports) for framesight.
package models

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// videoIDPattern matches valid video identifiers: 8 lowercase hex characters.
var videoIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// NewVideoID returns a new 8-character hex video identifier.
func NewVideoID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ValidVideoID reports whether s is a well-formed video identifier.
func ValidVideoID(s string) bool {
	return videoIDPattern.MatchString(s)
}
