package extract

import (
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/storage"
)

// writeSolidJPEG writes a 160x90 solid-color JPEG and returns its path.
func writeSolidJPEG(t *testing.T, dir, name string, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 90))
	for y := 0; y < 90; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
	return path
}

func TestDiffScore(t *testing.T) {
	dir := t.TempDir()
	black := writeSolidJPEG(t, dir, "black.jpg", color.Black)
	white := writeSolidJPEG(t, dir, "white.jpg", color.White)

	a, err := grayThumb(black)
	require.NoError(t, err)
	b, err := grayThumb(white)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, diffScore(a, a), 0.01)
	assert.Greater(t, diffScore(a, b), 0.9)
}

func TestPruneCollapsesStaticRuns(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	// Ten identical frames: everything after the first is a near-duplicate.
	for i := 0; i < 10; i++ {
		paths = append(paths, writeSolidJPEG(t, dir, storage.FrameFilename(i), color.Gray{Y: 100}))
	}

	kept, err := prune(paths, 0.06, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, kept)
}

func TestPruneKeepsSceneChanges(t *testing.T) {
	dir := t.TempDir()
	colors := []color.Color{color.Black, color.White, color.Black, color.White}
	var paths []string
	for i, c := range colors {
		paths = append(paths, writeSolidJPEG(t, dir, storage.FrameFilename(i), c))
	}

	kept, err := prune(paths, 0.06, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, kept)
}

func TestPruneHonorsMinKeep(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		paths = append(paths, writeSolidJPEG(t, dir, storage.FrameFilename(i), color.Gray{Y: 42}))
	}

	kept, err := prune(paths, 0.06, 6)
	require.NoError(t, err)
	require.Len(t, kept, 6)
	assert.Equal(t, 0, kept[0])
	assert.Equal(t, 11, kept[5], "spread covers the full grid")
	assert.IsIncreasing(t, kept)
}

func TestPruneMinKeepLargerThanGrid(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		paths = append(paths, writeSolidJPEG(t, dir, storage.FrameFilename(i), color.Gray{Y: 42}))
	}

	kept, err := prune(paths, 0.06, 6)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, kept)
}

func TestFinalizeReindexesFrames(t *testing.T) {
	dir := t.TempDir()
	// Simulate the primary path's 1-based names with a pruned middle frame.
	srcs := []string{
		writeSolidJPEG(t, dir, "frame_000001.jpg", color.Black),
		writeSolidJPEG(t, dir, "frame_000003.jpg", color.White),
	}
	timestamps := []float64{0, 10}

	e := &Extractor{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	frames, err := e.finalize(dir, srcs, timestamps)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, models.Frame{Index: 0, TimestampSec: 0, Filename: "frame_000000.jpg"}, frames[0])
	assert.Equal(t, models.Frame{Index: 1, TimestampSec: 10, Filename: "frame_000001.jpg"}, frames[1])

	_, err = os.Stat(filepath.Join(dir, "frame_000000.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "frame_000003.jpg"))
	assert.True(t, os.IsNotExist(err))
}
