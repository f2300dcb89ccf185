package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/storage"
)

// source colors for the box overlay.
var sourceColors = map[string]color.RGBA{
	models.SourceYOLO:      {R: 0x2e, G: 0xcc, B: 0x71, A: 0xff},
	models.SourceOpenVocab: {R: 0x34, G: 0x98, B: 0xdb, A: 0xff},
	models.SourceVerify:    {R: 0x9b, G: 0x59, B: 0xb6, A: 0xff},
	models.SourceOCR:       {R: 0xf3, G: 0x9c, B: 0x12, A: 0xff},
}

var defaultBoxColor = color.RGBA{R: 0xe7, G: 0x4c, B: 0x3c, A: 0xff}

const boxThickness = 3

// Annotate draws bounding boxes for surviving detections onto copies of the
// frames and records each overlay's filename on the frame. Detections
// without a box, labels that did not survive aggregation, and detections on
// frames outside the label's surviving time ranges are skipped. Returns the
// number of annotated frames written; per-frame draw failures are logged
// and do not abort the pass.
func (a *Assembler) Annotate(videoID string, frames []models.Frame, entities map[string]models.EntitySummary) (int, error) {
	annotatedDir := a.layout.AnnotatedDir(videoID)
	if err := os.MkdirAll(annotatedDir, 0o750); err != nil {
		return 0, fmt.Errorf("creating annotated directory: %w", err)
	}

	framesDir := a.layout.FramesDir(videoID)
	written := 0
	for i := range frames {
		frame := &frames[i]
		boxes := drawableDetections(frame.Detections, frame.TimestampSec, entities)
		if len(boxes) == 0 {
			continue
		}
		name := frame.Filename
		if err := drawOverlay(filepath.Join(framesDir, name), filepath.Join(annotatedDir, name), boxes); err != nil {
			a.logger.Warn("annotating frame failed",
				slog.String("video_id", videoID),
				slog.String("frame", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		frame.AnnotatedFilename = filepath.Join("annotated", name)
		written++
	}
	return written, nil
}

func drawableDetections(dets []models.Detection, timestampSec float64, entities map[string]models.EntitySummary) []models.Detection {
	var out []models.Detection
	for _, d := range dets {
		if d.Box == nil {
			continue
		}
		summary, ok := entities[d.Label]
		if !ok {
			continue
		}
		// Isolated sightings the consistency filter zeroed out are not
		// part of any surviving run and get no overlay.
		if !inTimeRanges(timestampSec, summary.TimeRanges) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func inTimeRanges(ts float64, ranges []models.TimeRange) bool {
	for _, r := range ranges {
		if ts >= r.StartSec && ts <= r.EndSec {
			return true
		}
	}
	return false
}

func drawOverlay(srcPath, dstPath string, dets []models.Detection) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening frame: %w", err)
	}
	src, err := jpeg.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, d := range dets {
		c, ok := sourceColors[d.Source]
		if !ok {
			c = defaultBoxColor
		}
		drawRect(canvas, *d.Box, c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encoding overlay: %w", err)
	}
	return storage.WriteFileAtomic(dstPath, buf.Bytes())
}

// drawRect paints a box outline clipped to the canvas bounds. Boxes fully
// outside the canvas paint nothing.
func drawRect(img *image.RGBA, box models.Box, c color.RGBA) {
	bounds := img.Bounds()
	clipped, ok := box.Clip(bounds.Dx(), bounds.Dy())
	if !ok {
		return
	}
	box = clipped

	x0, y0 := box.X, box.Y
	x1, y1 := box.X+box.W, box.Y+box.H
	for t := 0; t < boxThickness; t++ {
		for x := x0; x <= x1; x++ {
			img.SetRGBA(x, min(y0+t, bounds.Max.Y-1), c)
			img.SetRGBA(x, max(y1-t, 0), c)
		}
		for y := y0; y <= y1; y++ {
			img.SetRGBA(min(x0+t, bounds.Max.X-1), y, c)
			img.SetRGBA(max(x1-t, 0), y, c)
		}
	}
}
