// Package extract produces the per-job frame set: a uniform grid of JPEG
// stills sampled at the configured interval, optionally pruned by smart
// sampling, persisted with an explicit (index, timestamp, filename) map.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/ffmpeg"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/storage"
)

// Extraction errors.
var (
	// ErrNoFrames indicates both extraction paths produced zero frames.
	ErrNoFrames = errors.New("no frames extracted")
)

// Result is the outcome of frame extraction.
type Result struct {
	FrameSet    models.FrameSet
	DurationSec float64
}

// Extractor turns a video file into the per-job frame set.
type Extractor struct {
	client *ffmpeg.Client
	layout *storage.Layout
	cfg    config.PipelineConfig
	logger *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(client *ffmpeg.Client, layout *storage.Layout, cfg config.PipelineConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, layout: layout, cfg: cfg, logger: logger}
}

// Extract samples the video at intervalSec, applying smart sampling when
// enabled. The primary single-pass decode is tried first; when it yields
// nothing the seek-per-grid-point fallback runs. Output frames are in
// ascending timestamp order with dense zero-based indices.
func (e *Extractor) Extract(ctx context.Context, videoID, videoPath string, intervalSec int) (*Result, error) {
	if intervalSec < 1 {
		intervalSec = 1
	}

	duration, err := e.client.Duration(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	framesDir := e.layout.FramesDir(videoID)
	paths, timestamps, err := e.extractGrid(ctx, videoPath, framesDir, intervalSec, duration)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNoFrames
	}

	if e.cfg.SmartSamplingEnabled {
		paths, timestamps, err = e.smartSample(paths, timestamps)
		if err != nil {
			return nil, fmt.Errorf("smart sampling: %w", err)
		}
	}

	frames, err := e.finalize(framesDir, paths, timestamps)
	if err != nil {
		return nil, err
	}

	result := &Result{
		FrameSet: models.FrameSet{
			VideoID:     videoID,
			IntervalSec: intervalSec,
			Frames:      frames,
		},
		DurationSec: duration,
	}
	return result, nil
}

// extractGrid runs the primary path and falls back to seeked single-frame
// grabs when the primary yields nothing.
func (e *Extractor) extractGrid(ctx context.Context, videoPath, framesDir string, intervalSec int, duration float64) ([]string, []float64, error) {
	paths, err := e.client.ExtractGrid(ctx, videoPath, framesDir, intervalSec)
	if err == nil && len(paths) > 0 {
		timestamps := make([]float64, len(paths))
		for i := range paths {
			timestamps[i] = float64(i * intervalSec)
		}
		return paths, timestamps, nil
	}
	if err != nil {
		e.logger.Warn("primary extraction failed, trying seek fallback",
			slog.String("error", err.Error()),
		)
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	// Fallback: seek to each grid point individually. Slower, but tolerant
	// of containers the single-pass decode chokes on.
	var (
		fallbackPaths []string
		timestamps    []float64
	)
	for i := 0; ; i++ {
		ts := float64(i * intervalSec)
		if duration > 0 && ts > duration {
			break
		}
		if duration == 0 && i > 0 {
			break
		}
		path, err := e.client.ExtractAt(ctx, videoPath, framesDir, i, ts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			// Past the end of stream or unreadable point; stop here.
			break
		}
		fallbackPaths = append(fallbackPaths, path)
		timestamps = append(timestamps, ts)
	}
	return fallbackPaths, timestamps, nil
}

// smartSample prunes near-duplicate successive frames and deletes the
// dropped image files.
func (e *Extractor) smartSample(paths []string, timestamps []float64) ([]string, []float64, error) {
	kept, err := prune(paths, e.cfg.SmartSamplingDiffThreshold, e.cfg.SmartSamplingMinKeep)
	if err != nil {
		return nil, nil, err
	}

	keptSet := make(map[int]bool, len(kept))
	for _, idx := range kept {
		keptSet[idx] = true
	}
	for i, path := range paths {
		if !keptSet[i] {
			_ = os.Remove(path)
		}
	}

	outPaths := make([]string, 0, len(kept))
	outTimestamps := make([]float64, 0, len(kept))
	for _, idx := range kept {
		outPaths = append(outPaths, paths[idx])
		outTimestamps = append(outTimestamps, timestamps[idx])
	}

	e.logger.Debug("smart sampling pruned frames",
		slog.Int("before", len(paths)),
		slog.Int("after", len(kept)),
	)
	return outPaths, outTimestamps, nil
}

// finalize renames retained images to dense zero-based ordinals and builds
// the frame records. Timestamps stay explicit so downstream aggregation
// uses actual seconds, not the original grid.
func (e *Extractor) finalize(framesDir string, paths []string, timestamps []float64) ([]models.Frame, error) {
	frames := make([]models.Frame, 0, len(paths))
	for i, src := range paths {
		name := storage.FrameFilename(i)
		dst := filepath.Join(framesDir, name)
		if src != dst {
			if err := os.Rename(src, dst); err != nil {
				return nil, fmt.Errorf("renaming frame %d: %w", i, err)
			}
		}
		frames = append(frames, models.Frame{
			Index:        i,
			TimestampSec: models.Round1(timestamps[i]),
			Filename:     name,
		})
	}
	return frames, nil
}
