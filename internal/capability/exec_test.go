package capability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framesight/framesight/internal/config"
)

// shCmd builds an argv that consumes stdin and emits the given stdout.
func shCmd(script string) []string {
	return []string{"sh", "-c", "cat >/dev/null; " + script}
}

func TestNewRunnerUnavailable(t *testing.T) {
	_, err := newRunner("detector", nil, time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = newRunner("detector", []string{"framesight-no-such-binary"}, time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSubprocessDetector(t *testing.T) {
	set := NewSet(config.CapabilitiesConfig{
		DetectorCmd: shCmd(`echo '{"detections":[{"label":"airplane","confidence":0.91,"box":{"x":1,"y":2,"w":30,"h":40}}]}'`),
		CallTimeout: 5 * time.Second,
	})

	det, err := set.Detector()
	require.NoError(t, err)

	found, err := det.Detect(context.Background(), "/tmp/frame.jpg")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "airplane", found[0].Label)
	assert.InDelta(t, 0.91, found[0].Confidence, 1e-9)
	require.NotNil(t, found[0].Box)
	assert.Equal(t, 30, found[0].Box.W)
}

func TestSubprocessScorer(t *testing.T) {
	set := NewSet(config.CapabilitiesConfig{
		OpenVocabCmd: shCmd(`echo '{"scores":{"warship":0.8,"aircraft":0.1}}'`),
		CallTimeout:  5 * time.Second,
	})

	scorer, err := set.Scorer()
	require.NoError(t, err)

	scores, err := scorer.Score(context.Background(), "/tmp/frame.jpg", []string{"warship", "aircraft"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, scores["warship"], 1e-9)
	assert.InDelta(t, 0.1, scores["aircraft"], 1e-9)
}

func TestSubprocessTranscriber(t *testing.T) {
	set := NewSet(config.CapabilitiesConfig{
		TranscriberCmd: shCmd(`echo '{"language":"en","text":"hello world","segments":[{"start_sec":0,"end_sec":2.5,"text":"hello world"}],"audio_analysis":{"speech_ratio":0.6,"speech_seconds":2.5,"music_detected":false,"vad_available":true}}'`),
		CallTimeout:    5 * time.Second,
	})

	tr, err := set.Transcriber()
	require.NoError(t, err)

	got, err := tr.Transcribe(context.Background(), "/tmp/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "en", got.Language)
	require.Len(t, got.Segments, 1)
	require.NotNil(t, got.AudioAnalysis)
	assert.True(t, got.AudioAnalysis.VADAvailable)
}

func TestRuntimeErrorOnNonZeroExit(t *testing.T) {
	set := NewSet(config.CapabilitiesConfig{
		OCRCmd:      shCmd(`echo "model crashed" >&2; exit 3`),
		CallTimeout: 5 * time.Second,
	})

	ocr, err := set.OCR()
	require.NoError(t, err)

	_, err = ocr.Read(context.Background(), "/tmp/frame.jpg")
	require.Error(t, err)
	assert.True(t, IsRuntime(err))
	assert.Contains(t, err.Error(), "model crashed")
}

func TestRuntimeErrorOnMalformedOutput(t *testing.T) {
	set := NewSet(config.CapabilitiesConfig{
		CaptionCmd:  shCmd(`echo 'not json'`),
		CallTimeout: 5 * time.Second,
	})

	cap, err := set.Captioner()
	require.NoError(t, err)

	_, err = cap.Caption(context.Background(), "/tmp/frame.jpg")
	require.Error(t, err)
	assert.True(t, IsRuntime(err))
}

func TestSetCachesUnavailable(t *testing.T) {
	set := NewSet(config.CapabilitiesConfig{})

	_, err1 := set.Embedder()
	_, err2 := set.Embedder()
	assert.ErrorIs(t, err1, ErrUnavailable)
	assert.ErrorIs(t, err2, ErrUnavailable)
}
