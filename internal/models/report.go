package models

import (
	"fmt"
	"math"
)

// TimeRange is a closed interval of seconds during which an entity was
// continuously present. Labels are mm:ss renderings of the endpoints.
type TimeRange struct {
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	StartLabel string  `json:"start_label"`
	EndLabel   string  `json:"end_label"`
}

// EntitySummary aggregates every surviving observation of one label.
type EntitySummary struct {
	Count           int         `json:"count"`
	Presence        float64     `json:"presence"`
	Appearances     int         `json:"appearances"`
	TimeRanges      []TimeRange `json:"time_ranges"`
	ConfidenceScore float64     `json:"confidence_score"`
	Sources         []string    `json:"sources"`
}

// TranscriptSegment is one timed span of transcribed speech.
type TranscriptSegment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// AudioAnalysis summarizes the audio track as reported by the transcriber.
type AudioAnalysis struct {
	SpeechRatio   float64 `json:"speech_ratio"`
	SpeechSeconds float64 `json:"speech_seconds"`
	MusicDetected bool    `json:"music_detected"`
	VADAvailable  bool    `json:"vad_available"`
}

// Transcript is the optional speech-to-text block of the report.
// Error is set when transcription failed; the job still completes.
type Transcript struct {
	Language      string              `json:"language,omitempty"`
	Text          string              `json:"text,omitempty"`
	Segments      []TranscriptSegment `json:"segments,omitempty"`
	AudioAnalysis *AudioAnalysis      `json:"audio_analysis,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// Report is the canonical durable artifact, written once and atomically.
type Report struct {
	VideoID        string                   `json:"video_id"`
	Filename       string                   `json:"filename"`
	DurationSec    float64                  `json:"duration_sec"`
	IntervalSec    int                      `json:"interval_sec"`
	FramesAnalyzed int                      `json:"frames_analyzed"`
	UniqueEntities int                      `json:"unique_entities"`
	Entities       map[string]EntitySummary `json:"entities"`
	Transcript     *Transcript              `json:"transcript,omitempty"`
}

// Round1 rounds seconds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round4 rounds presence and confidence values to four decimal places.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// TimeLabel renders seconds as mm:ss.
func TimeLabel(sec float64) string {
	total := int(math.Round(sec))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
