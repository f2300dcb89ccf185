// Package capability wraps the external detection and transcription models.
// Each model is consumed through a narrow interface and may be absent:
// constructors report ErrUnavailable when the configured command is missing,
// and the pipeline skips that source instead of failing the job.
//
// All implementations here shell out to a configured command using a small
// JSON protocol: one request object on stdin, one response object on stdout.
// Model processes are expensive and not assumed thread-safe, so calls to a
// single capability are serialized.
package capability

import (
	"context"

	"github.com/framesight/framesight/internal/models"
)

// ObjectDetection is one localized detection from the object detector.
type ObjectDetection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        *models.Box `json:"box,omitempty"`
}

// ObjectDetector finds objects on a frame. An empty result is valid; the
// detector must not error on a decodable image.
type ObjectDetector interface {
	Detect(ctx context.Context, imagePath string) ([]ObjectDetection, error)
}

// Captioner produces a free-text caption for a frame. Candidate phrase
// extraction from the caption happens downstream.
type Captioner interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

// OpenVocabScorer scores arbitrary labels against a frame, returning a
// score in [0, 1] per label. It backs both the open_vocab source and the
// verify pass over discovered candidates.
type OpenVocabScorer interface {
	Score(ctx context.Context, imagePath string, labels []string) (map[string]float64, error)
}

// OCRWord is one recognized text fragment with vendor confidence on the
// 0-100 scale.
type OCRWord struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        *models.Box `json:"box,omitempty"`
}

// OcrReader recognizes text on a frame.
type OcrReader interface {
	Read(ctx context.Context, imagePath string) ([]OCRWord, error)
}

// Transcriber converts a video's audio track to text.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string) (*models.Transcript, error)
}

// Embedder maps text to a fixed-length vector for semantic search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
