// Package storage manages the on-disk artifact layout for framesight jobs.
// All operations are restricted to the data root to prevent path traversal.
//
// Layout under the data root:
//
//	state.db
//	videos/<video_id>/video.<ext>
//	frames/<video_id>/frame_<NNNNNN>.jpg
//	frames/<video_id>/annotated/frame_<NNNNNN>.jpg
//	frames/<video_id>/frames.json
//	reports/<video_id>/report.json
//	reports/<video_id>/transcript.json
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout provides per-job artifact paths rooted at the data directory.
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at dataDir, creating it if needed.
func NewLayout(dataDir string) (*Layout, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Layout{root: abs}, nil
}

// Root returns the absolute data root.
func (l *Layout) Root() string {
	return l.root
}

// VideoDir returns the directory holding the original video for a job.
func (l *Layout) VideoDir(videoID string) string {
	return filepath.Join(l.root, "videos", videoID)
}

// VideoPath returns the stored video path for a job, keeping the
// submitted file's extension.
func (l *Layout) VideoPath(videoID, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".mp4"
	}
	return filepath.Join(l.VideoDir(videoID), "video"+ext)
}

// VoicePath returns the companion transcript upload path for a job.
func (l *Layout) VoicePath(videoID string) string {
	return filepath.Join(l.VideoDir(videoID), "voice.txt")
}

// FramesDir returns the per-job frames directory.
func (l *Layout) FramesDir(videoID string) string {
	return filepath.Join(l.root, "frames", videoID)
}

// AnnotatedDir returns the per-job annotated overlays directory.
func (l *Layout) AnnotatedDir(videoID string) string {
	return filepath.Join(l.FramesDir(videoID), "annotated")
}

// FrameFilename returns the zero-padded image name for a frame ordinal.
func FrameFilename(index int) string {
	return fmt.Sprintf("frame_%06d.jpg", index)
}

// FramesIndexPath returns the frames.json path for a job.
func (l *Layout) FramesIndexPath(videoID string) string {
	return filepath.Join(l.FramesDir(videoID), "frames.json")
}

// ReportDir returns the per-job reports directory.
func (l *Layout) ReportDir(videoID string) string {
	return filepath.Join(l.root, "reports", videoID)
}

// ReportPath returns the canonical report path for a job.
func (l *Layout) ReportPath(videoID string) string {
	return filepath.Join(l.ReportDir(videoID), "report.json")
}

// TranscriptPath returns the transcript.json path for a job.
func (l *Layout) TranscriptPath(videoID string) string {
	return filepath.Join(l.ReportDir(videoID), "transcript.json")
}

// ResolveFrame resolves a client-supplied frame file name within a job's
// frames directory, rejecting names that would escape it.
func (l *Layout) ResolveFrame(videoID, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid frame name: %s", name)
	}
	base := l.FramesDir(videoID)
	full := filepath.Join(base, filepath.Clean(name))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid frame name: %s", name)
	}
	return full, nil
}

// RemoveJob deletes every artifact directory belonging to a job.
func (l *Layout) RemoveJob(videoID string) error {
	if videoID == "" || strings.ContainsAny(videoID, "/\\.") {
		return fmt.Errorf("invalid video id: %q", videoID)
	}
	var firstErr error
	for _, dir := range []string{l.VideoDir(videoID), l.FramesDir(videoID), l.ReportDir(videoID)} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return firstErr
}

// RemoveFrames deletes only the extracted frames of a job, used when a
// stale job is reset and will re-run extraction from scratch.
func (l *Layout) RemoveFrames(videoID string) error {
	if videoID == "" || strings.ContainsAny(videoID, "/\\.") {
		return fmt.Errorf("invalid video id: %q", videoID)
	}
	if err := os.RemoveAll(l.FramesDir(videoID)); err != nil {
		return fmt.Errorf("removing frames: %w", err)
	}
	return nil
}
