package fusion

import (
	"strings"

	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/models"
)

// ocrDetections filters raw OCR words by vendor confidence and converts the
// survivors into detections. The original text is preserved as RawText; the
// label is the normalized form. Single characters and pure punctuation
// carry no search value and are dropped. Word boxes are clipped to the
// frame bounds when those are known.
func ocrDetections(words []capability.OCRWord, minConfidence float64, width, height int) []models.Detection {
	var out []models.Detection
	for _, w := range words {
		if w.Confidence < minConfidence {
			continue
		}
		label := Normalize(w.Text)
		if len([]rune(label)) < 2 || !hasLetterOrDigit(label) {
			continue
		}
		det := models.Detection{
			Label:      label,
			Source:     models.SourceOCR,
			Confidence: clamp01(w.Confidence / 100),
			RawText:    strings.TrimSpace(w.Text),
		}
		if w.Box != nil {
			det.Box = clipBox(*w.Box, width, height)
		}
		out = append(out, det)
	}
	return out
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
