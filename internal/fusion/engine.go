package fusion

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	_ "image/jpeg" // frame images are JPEG

	"github.com/framesight/framesight/internal/capability"
	"github.com/framesight/framesight/internal/config"
	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
)

// ErrAllFramesFailed indicates the object detector errored on every frame
// it was invoked on. Individual frame failures are tolerated; losing the
// primary source entirely is not.
var ErrAllFramesFailed = errors.New("object detection failed on all frames")

// Engine fans each frame out to the enabled detection sources and collects
// normalized Detection records. Every source degrades to disabled when its
// capability is unavailable; with no sources at all a job still completes,
// just with an empty entity set.
type Engine struct {
	detector  capability.ObjectDetector
	captioner capability.Captioner
	scorer    capability.OpenVocabScorer
	ocr       capability.OcrReader

	mapper    *LabelMapper
	detection config.DetectionConfig
	discovery config.DiscoveryConfig
	openVocab config.OpenVocabConfig
	verify    config.VerifyConfig
	ocrCfg    config.OCRConfig
	logger    *slog.Logger

	// OnFrame, when set, is called after each frame with (processed, total).
	OnFrame func(processed, total int)
}

// NewEngine resolves the detection capabilities. Each unavailable
// capability disables its source with a log line; none of them is a
// construction error.
func NewEngine(set *capability.Set, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "fusion")

	detector, err := set.Detector()
	if err != nil {
		logger.Warn("object detector unavailable, source disabled", slog.String("error", err.Error()))
		detector = nil
	}

	e := &Engine{
		detector:  detector,
		mapper:    NewLabelMapper(cfg.Detection.LabelMap),
		detection: cfg.Detection,
		discovery: cfg.Discovery,
		openVocab: cfg.OpenVocab,
		verify:    cfg.Verify,
		ocrCfg:    cfg.OCR,
		logger:    logger,
	}

	if cfg.Discovery.Enabled {
		e.captioner, err = set.Captioner()
		if err != nil {
			logger.Warn("captioner unavailable, discovery disabled", slog.String("error", err.Error()))
			e.captioner = nil
		}
	}
	if cfg.OpenVocab.Enabled || cfg.Verify.Enabled {
		e.scorer, err = set.Scorer()
		if err != nil {
			logger.Warn("open-vocab scorer unavailable, open_vocab and verify disabled", slog.String("error", err.Error()))
			e.scorer = nil
		}
	}
	if cfg.OCR.Enabled {
		e.ocr, err = set.OCR()
		if err != nil {
			logger.Warn("ocr unavailable, source disabled", slog.String("error", err.Error()))
			e.ocr = nil
		}
	}
	return e, nil
}

// Run processes the pruned frame sequence in order and returns the frames
// with their detections filled in. Cadence is positional: source S fires on
// frame k iff k mod S.every_n == 0, counting over the pruned sequence.
func (e *Engine) Run(ctx context.Context, framesDir string, frames []models.Frame) ([]models.Frame, error) {
	disc := newDiscoverer(
		e.discovery.MinScore,
		e.discovery.MinConsecutive,
		e.discovery.MaxPhrases,
		e.discovery.OnlyMilitary,
		e.discovery.Lexicon,
	)

	yoloFailures := 0
	confirmed := make(map[string]bool)
	verifyRan := false

	for k := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame := &frames[k]
		imagePath := filepath.Join(framesDir, frame.Filename)

		if e.detector != nil {
			if err := e.runDetector(ctx, imagePath, frame); err != nil {
				yoloFailures++
				frame.Errors = append(frame.Errors, "yolo: "+err.Error())
			}
		}
		if e.captioner != nil && e.discovery.Enabled && onCadence(k, e.discovery.EveryN) {
			e.runDiscovery(ctx, imagePath, frame, disc)
		}
		if e.scorer != nil && e.openVocab.Enabled && len(e.openVocab.Labels) > 0 && onCadence(k, e.openVocab.EveryN) {
			e.runOpenVocab(ctx, imagePath, frame)
		}
		if e.scorer != nil && e.verify.Enabled && onCadence(k, e.verify.EveryN) {
			if e.runVerify(ctx, imagePath, frame, disc, confirmed) {
				verifyRan = true
			}
		}
		if e.ocr != nil && e.ocrCfg.Enabled && onCadence(k, e.ocrCfg.EveryN) {
			e.runOCR(ctx, imagePath, frame)
		}

		if e.OnFrame != nil {
			e.OnFrame(k+1, len(frames))
		}
	}

	if e.detector != nil && len(frames) > 0 && yoloFailures == len(frames) {
		return nil, ErrAllFramesFailed
	}

	// Discovery candidates that a verification pass never confirmed are
	// dropped. When no verification ran, candidates stand.
	if verifyRan {
		for i := range frames {
			frames[i].Detections = dropUnconfirmed(frames[i].Detections, confirmed)
		}
	}
	return frames, nil
}

func (e *Engine) runDetector(ctx context.Context, imagePath string, frame *models.Frame) error {
	found, err := e.detector.Detect(ctx, imagePath)
	if err != nil {
		return err
	}

	var width, height int
	for _, d := range found {
		if d.Confidence < e.detection.MinConfidence {
			continue
		}
		label := e.mapper.Apply(d.Label)
		if label == "" {
			continue
		}
		det := models.Detection{
			Label:      label,
			Source:     models.SourceYOLO,
			Confidence: clamp01(d.Confidence),
		}
		if d.Box != nil {
			if width == 0 {
				width, height = imageDims(imagePath)
			}
			det.Box = clipBox(*d.Box, width, height)
		}
		frame.Detections = append(frame.Detections, det)
	}
	return nil
}

func (e *Engine) runDiscovery(ctx context.Context, imagePath string, frame *models.Frame, disc *discoverer) {
	caption, err := e.captioner.Caption(ctx, imagePath)
	if err != nil {
		frame.Errors = append(frame.Errors, "discovery: "+err.Error())
		return
	}
	for _, c := range disc.ingest(caption) {
		frame.Detections = append(frame.Detections, models.Detection{
			Label:      c.Label,
			Source:     models.SourceDiscovery,
			Confidence: clamp01(c.Score),
		})
	}
}

func (e *Engine) runOpenVocab(ctx context.Context, imagePath string, frame *models.Frame) {
	labels := make([]string, 0, len(e.openVocab.Labels))
	for _, l := range e.openVocab.Labels {
		if n := Canonical(l); n != "" {
			labels = append(labels, n)
		}
	}
	scores, err := e.scorer.Score(ctx, imagePath, labels)
	if err != nil {
		frame.Errors = append(frame.Errors, "open_vocab: "+err.Error())
		return
	}
	for _, label := range labels {
		score, ok := scores[label]
		if !ok || score < e.openVocab.Threshold {
			continue
		}
		frame.Detections = append(frame.Detections, models.Detection{
			Label:      label,
			Source:     models.SourceOpenVocab,
			Confidence: clamp01(score),
		})
	}
}

// runVerify re-scores the top discovered labels against the current frame.
// Returns whether a verification call actually happened.
func (e *Engine) runVerify(ctx context.Context, imagePath string, frame *models.Frame, disc *discoverer, confirmed map[string]bool) bool {
	labels := disc.topLabels(e.verify.MaxLabels)
	if len(labels) == 0 {
		return false
	}
	scores, err := e.scorer.Score(ctx, imagePath, labels)
	if err != nil {
		frame.Errors = append(frame.Errors, "verify: "+err.Error())
		return false
	}
	for _, label := range labels {
		score, ok := scores[label]
		if !ok || score < e.verify.Threshold {
			continue
		}
		confirmed[label] = true
		frame.Detections = append(frame.Detections, models.Detection{
			Label:      label,
			Source:     models.SourceVerify,
			Confidence: clamp01(score),
		})
	}
	return true
}

func (e *Engine) runOCR(ctx context.Context, imagePath string, frame *models.Frame) {
	words, err := e.ocr.Read(ctx, imagePath)
	if err != nil {
		frame.Errors = append(frame.Errors, "ocr: "+err.Error())
		return
	}
	width, height := imageDims(imagePath)
	frame.Detections = append(frame.Detections, ocrDetections(words, e.ocrCfg.MinConfidence, width, height)...)
}

func dropUnconfirmed(dets []models.Detection, confirmed map[string]bool) []models.Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Source == models.SourceDiscovery && !confirmed[d.Label] {
			continue
		}
		out = append(out, d)
	}
	return out
}

func onCadence(k, everyN int) bool {
	if everyN < 1 {
		everyN = 1
	}
	return k%everyN == 0
}

// clipBox clamps a box to the frame bounds, dropping it entirely when it
// lies fully outside them. Unknown dimensions leave the box as reported.
func clipBox(box models.Box, width, height int) *models.Box {
	if width <= 0 || height <= 0 {
		return &box
	}
	clipped, ok := box.Clip(width, height)
	if !ok {
		return nil
	}
	return &clipped
}

func imageDims(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
