// Package ffmpeg provides FFmpeg/FFprobe binary discovery, media probing,
// and frame extraction for the ingestion pipeline.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/storage"
)

// Client runs ffmpeg and ffprobe commands.
type Client struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewClient resolves the ffmpeg and ffprobe binaries. Explicit config paths
// win; otherwise FRAMESIGHT_FFMPEG_BINARY / FRAMESIGHT_FFPROBE_BINARY, the
// working directory, and PATH are searched in that order.
func NewClient(cfg config.FFmpegConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ffmpegPath := cfg.BinaryPath
	if ffmpegPath == "" {
		var err error
		ffmpegPath, err = findBinary("ffmpeg", "FRAMESIGHT_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
	}

	ffprobePath := cfg.ProbePath
	if ffprobePath == "" {
		var err error
		ffprobePath, err = findBinary("ffprobe", "FRAMESIGHT_FFPROBE_BINARY")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found: %w", err)
		}
	}

	logger.Debug("resolved media binaries",
		slog.String("ffmpeg", ffmpegPath),
		slog.String("ffprobe", ffprobePath),
	)

	return &Client{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}, nil
}

// probeFormat is the subset of ffprobe -show_format output we consume.
type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Duration returns the container duration in seconds.
func (c *Client) Duration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration,size",
		"-of", "json",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", videoPath, err)
	}

	var probe probeFormat
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parsing probe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("no duration reported for %s", videoPath)
	}
	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", probe.Format.Duration, err)
	}
	return duration, nil
}

// ExtractGrid decodes the video once and writes one JPEG per interval into
// outDir using the fps filter. Returns the written frame paths in order.
// This is the primary extraction path.
func (c *Client) ExtractGrid(ctx context.Context, videoPath, outDir string, intervalSec int) ([]string, error) {
	if intervalSec < 1 {
		intervalSec = 1
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating frames directory: %w", err)
	}

	pattern := filepath.Join(outDir, "frame_%06d.jpg")
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSec),
		"-q:v", "2",
		"-y",
		pattern,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("extracting frames: %w: %s", err, firstLine(out))
	}

	paths, err := filepath.Glob(filepath.Join(outDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("listing frames: %w", err)
	}
	return paths, nil
}

// ExtractAt seeks to a single timestamp and grabs one JPEG. Used by the
// fallback path for containers the single-pass decode cannot handle.
func (c *Client) ExtractAt(ctx context.Context, videoPath, outDir string, index int, timestampSec float64) (string, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return "", fmt.Errorf("creating frames directory: %w", err)
	}

	outPath := filepath.Join(outDir, storage.FrameFilename(index))
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(timestampSec, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("extracting frame at %.1fs: %w: %s", timestampSec, err, firstLine(out))
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("no frame produced at %.1fs", timestampSec)
	}
	return outPath, nil
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			b = b[:i]
			break
		}
	}
	const maxLen = 200
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	return string(b)
}
