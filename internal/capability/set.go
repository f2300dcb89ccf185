package capability

import (
	"sync"

	"github.com/framesight/framesight/internal/config"
)

// Set is the per-worker capability table. Each capability is constructed
// lazily on first use and cached, including its construction error, so a
// missing model is probed once per worker rather than once per frame.
type Set struct {
	cfg config.CapabilitiesConfig

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	value any
	err   error
}

// NewSet creates a capability table from configuration.
func NewSet(cfg config.CapabilitiesConfig) *Set {
	return &Set{cfg: cfg, entries: make(map[string]*entry)}
}

func (s *Set) lookup(name string, build func() (any, error)) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[name]; ok {
		return e.value, e.err
	}
	value, err := build()
	s.entries[name] = &entry{value: value, err: err}
	return value, err
}

// Detector returns the object detector, or ErrUnavailable.
func (s *Set) Detector() (ObjectDetector, error) {
	v, err := s.lookup("detector", func() (any, error) {
		run, err := newRunner("detector", s.cfg.DetectorCmd, s.cfg.CallTimeout)
		if err != nil {
			return nil, err
		}
		return &subprocessDetector{run: run}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ObjectDetector), nil
}

// Captioner returns the caption model, or ErrUnavailable.
func (s *Set) Captioner() (Captioner, error) {
	v, err := s.lookup("captioner", func() (any, error) {
		run, err := newRunner("captioner", s.cfg.CaptionCmd, s.cfg.CallTimeout)
		if err != nil {
			return nil, err
		}
		return &subprocessCaptioner{run: run}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Captioner), nil
}

// Scorer returns the open-vocabulary scorer, or ErrUnavailable.
func (s *Set) Scorer() (OpenVocabScorer, error) {
	v, err := s.lookup("open_vocab", func() (any, error) {
		run, err := newRunner("open_vocab", s.cfg.OpenVocabCmd, s.cfg.CallTimeout)
		if err != nil {
			return nil, err
		}
		return &subprocessScorer{run: run}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(OpenVocabScorer), nil
}

// OCR returns the OCR reader, or ErrUnavailable.
func (s *Set) OCR() (OcrReader, error) {
	v, err := s.lookup("ocr", func() (any, error) {
		run, err := newRunner("ocr", s.cfg.OCRCmd, s.cfg.CallTimeout)
		if err != nil {
			return nil, err
		}
		return &subprocessOCR{run: run}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(OcrReader), nil
}

// Transcriber returns the speech-to-text engine, or ErrUnavailable.
func (s *Set) Transcriber() (Transcriber, error) {
	v, err := s.lookup("transcriber", func() (any, error) {
		run, err := newRunner("transcriber", s.cfg.TranscriberCmd, s.cfg.CallTimeout)
		if err != nil {
			return nil, err
		}
		return &subprocessTranscriber{run: run}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Transcriber), nil
}

// Embedder returns the text embedder, or ErrUnavailable.
func (s *Set) Embedder() (Embedder, error) {
	v, err := s.lookup("embedder", func() (any, error) {
		run, err := newRunner("embedder", s.cfg.EmbedderCmd, s.cfg.CallTimeout)
		if err != nil {
			return nil, err
		}
		return &subprocessEmbedder{run: run}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}
