package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/framesight/framesight/internal/models"
)

// runner invokes a model command with a JSON request on stdin and decodes
// a JSON response from stdout. Calls are serialized per runner.
type runner struct {
	name    string
	argv    []string
	timeout time.Duration

	mu sync.Mutex
}

// newRunner validates the command up front so a missing model surfaces as
// ErrUnavailable at construction rather than mid-job.
func newRunner(name string, argv []string, timeout time.Duration) (*runner, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%s: no command configured: %w", name, ErrUnavailable)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("%s: %s not found: %w", name, argv[0], ErrUnavailable)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &runner{name: name, argv: argv, timeout: timeout}, nil
}

// call performs one request/response round trip.
func (r *runner) call(ctx context.Context, req, resp any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return &RuntimeError{Capability: r.name, Err: fmt.Errorf("encoding request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return &RuntimeError{Capability: r.name, Err: ctx.Err()}
		}
		return &RuntimeError{Capability: r.name, Err: fmt.Errorf("%w: %s", err, firstLine(stderr.Bytes()))}
	}

	if err := json.Unmarshal(stdout.Bytes(), resp); err != nil {
		return &RuntimeError{Capability: r.name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	const maxLen = 200
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	return string(b)
}

// subprocess request/response shapes.

type detectRequest struct {
	Op        string `json:"op"`
	ImagePath string `json:"image_path"`
}

type detectResponse struct {
	Detections []ObjectDetection `json:"detections"`
}

type captionResponse struct {
	Caption string `json:"caption"`
}

type scoreRequest struct {
	Op        string   `json:"op"`
	ImagePath string   `json:"image_path"`
	Labels    []string `json:"labels"`
}

type scoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

type ocrResponse struct {
	Words []OCRWord `json:"words"`
}

type transcribeRequest struct {
	Op        string `json:"op"`
	VideoPath string `json:"video_path"`
}

type embedRequest struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type subprocessDetector struct{ run *runner }

func (d *subprocessDetector) Detect(ctx context.Context, imagePath string) ([]ObjectDetection, error) {
	var resp detectResponse
	if err := d.run.call(ctx, detectRequest{Op: "detect", ImagePath: imagePath}, &resp); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

type subprocessCaptioner struct{ run *runner }

func (c *subprocessCaptioner) Caption(ctx context.Context, imagePath string) (string, error) {
	var resp captionResponse
	if err := c.run.call(ctx, detectRequest{Op: "caption", ImagePath: imagePath}, &resp); err != nil {
		return "", err
	}
	return resp.Caption, nil
}

type subprocessScorer struct{ run *runner }

func (s *subprocessScorer) Score(ctx context.Context, imagePath string, labels []string) (map[string]float64, error) {
	var resp scoreResponse
	if err := s.run.call(ctx, scoreRequest{Op: "score", ImagePath: imagePath, Labels: labels}, &resp); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

type subprocessOCR struct{ run *runner }

func (o *subprocessOCR) Read(ctx context.Context, imagePath string) ([]OCRWord, error) {
	var resp ocrResponse
	if err := o.run.call(ctx, detectRequest{Op: "ocr", ImagePath: imagePath}, &resp); err != nil {
		return nil, err
	}
	return resp.Words, nil
}

type subprocessTranscriber struct{ run *runner }

func (t *subprocessTranscriber) Transcribe(ctx context.Context, videoPath string) (*models.Transcript, error) {
	var resp models.Transcript
	if err := t.run.call(ctx, transcribeRequest{Op: "transcribe", VideoPath: videoPath}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type subprocessEmbedder struct{ run *runner }

func (e *subprocessEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var resp embedResponse
	if err := e.run.call(ctx, embedRequest{Op: "embed", Text: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}
