package models

// Detection sources, in the order they run within the detect stage.
const (
	SourceYOLO      = "yolo"
	SourceDiscovery = "discovery"
	SourceOpenVocab = "open_vocab"
	SourceVerify    = "verify"
	SourceOCR       = "ocr"
)

// SourceCount is the number of distinct detection sources, used as the
// denominator of the source-diversity term in confidence scoring.
const SourceCount = 5

// Box is an axis-aligned bounding box in pixel units, clipped to image bounds.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Clip constrains the box to a width x height image, returning false when
// nothing of the box remains inside the bounds.
func (b Box) Clip(width, height int) (Box, bool) {
	x0, y0 := max(b.X, 0), max(b.Y, 0)
	x1, y1 := min(b.X+b.W, width), min(b.Y+b.H, height)
	if x1 <= x0 || y1 <= y0 {
		return Box{}, false
	}
	return Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// Detection is a single observation attached to a frame.
type Detection struct {
	// Label is the canonical label: unicode-normalized, lowercased, trimmed.
	Label string `json:"label"`

	// Source is one of the Source* constants.
	Source string `json:"source"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`

	// Box is present for sources that localize (yolo, ocr).
	Box *Box `json:"box,omitempty"`

	// RawText carries the unnormalized OCR payload.
	RawText string `json:"raw_text,omitempty"`
}

// Frame is one sampled still image with its detections.
type Frame struct {
	// Index is dense and 0-based over the retained frames.
	Index int `json:"index"`

	// TimestampSec is the actual sample time. For uniform sampling this is
	// index * interval; smart sampling records the retained grid point.
	TimestampSec float64 `json:"timestamp_sec"`

	// Filename is the image file name within the job's frames directory.
	Filename string `json:"filename"`

	// AnnotatedFilename is set once an overlay was drawn for this frame.
	AnnotatedFilename string `json:"annotated_filename,omitempty"`

	// Detections holds the fused per-frame observations.
	Detections []Detection `json:"detections,omitempty"`

	// Errors records per-frame capability failures (non-fatal).
	Errors []string `json:"errors,omitempty"`
}

// HasLabel reports whether any detection on the frame carries the label.
func (f *Frame) HasLabel(label string) bool {
	for i := range f.Detections {
		if f.Detections[i].Label == label {
			return true
		}
	}
	return false
}

// FrameSet is the persisted frames.json artifact: the retained frames of a
// job in ascending timestamp order, with their detections.
type FrameSet struct {
	VideoID     string  `json:"video_id"`
	IntervalSec int     `json:"interval_sec"`
	Frames      []Frame `json:"frames"`
}
