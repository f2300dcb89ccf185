// Package report assembles and persists the canonical per-job artifacts:
// report.json, transcript.json, frames.json, and the annotated overlays.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
	"github.com/framesight/framesight/internal/storage"
)

// Assembler writes job artifacts into the storage layout.
type Assembler struct {
	layout *storage.Layout
	logger *slog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(layout *storage.Layout, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{layout: layout, logger: observability.WithComponent(logger, "report")}
}

// Build constructs the canonical report. Seconds are rounded to one
// decimal; presence and confidence were rounded during aggregation.
func Build(videoID, filename string, durationSec float64, intervalSec, framesAnalyzed int, entities map[string]models.EntitySummary, transcript *models.Transcript) *models.Report {
	if entities == nil {
		entities = map[string]models.EntitySummary{}
	}
	return &models.Report{
		VideoID:        videoID,
		Filename:       filename,
		DurationSec:    models.Round1(durationSec),
		IntervalSec:    intervalSec,
		FramesAnalyzed: framesAnalyzed,
		UniqueEntities: len(entities),
		Entities:       entities,
		Transcript:     transcript,
	}
}

// Write persists report.json atomically and, when a transcript exists,
// transcript.json next to it. Returns the report path.
func (a *Assembler) Write(report *models.Report) (string, error) {
	path := a.layout.ReportPath(report.VideoID)
	if err := writeJSON(path, report); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	if report.Transcript != nil {
		if err := writeJSON(a.layout.TranscriptPath(report.VideoID), report.Transcript); err != nil {
			return "", fmt.Errorf("writing transcript: %w", err)
		}
	}
	a.logger.Info("report written",
		slog.String("video_id", report.VideoID),
		slog.Int("unique_entities", report.UniqueEntities),
	)
	return path, nil
}

// WriteFramesIndex persists frames.json, the durable record aggregation
// can be re-run from.
func (a *Assembler) WriteFramesIndex(frameSet *models.FrameSet) error {
	path := a.layout.FramesIndexPath(frameSet.VideoID)
	if err := writeJSON(path, frameSet); err != nil {
		return fmt.Errorf("writing frames index: %w", err)
	}
	return nil
}

// ReadReport loads a previously written report.
func (a *Assembler) ReadReport(videoID string) (*models.Report, error) {
	return readJSON[models.Report](a.layout.ReportPath(videoID))
}

// ReadFramesIndex loads a previously written frames.json.
func (a *Assembler) ReadFramesIndex(videoID string) (*models.FrameSet, error) {
	return readJSON[models.FrameSet](a.layout.FramesIndexPath(videoID))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}
	data = append(data, '\n')
	return storage.WriteFileAtomic(path, data)
}

func readJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &v, nil
}
