package extract

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // frame images are JPEG
	"math"
	"os"
	"sort"

	xdraw "golang.org/x/image/draw"
)

// thumbnail size used for pixel-difference scoring. Differencing tiny
// grayscale images is orders of magnitude cheaper than full frames and
// stable against compression noise.
const (
	diffWidth  = 64
	diffHeight = 36
)

// grayThumb decodes an image file and downscales it to a small grayscale
// thumbnail for differencing.
func grayThumb(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding frame %s: %w", path, err)
	}

	small := image.NewRGBA(image.Rect(0, 0, diffWidth, diffHeight))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	gray := image.NewGray(small.Bounds())
	for y := 0; y < diffHeight; y++ {
		for x := 0; x < diffWidth; x++ {
			gray.Set(x, y, color.GrayModel.Convert(small.At(x, y)))
		}
	}
	return gray, nil
}

// diffScore returns the mean absolute pixel difference between two
// thumbnails, normalized to [0, 1].
func diffScore(a, b *image.Gray) float64 {
	var total float64
	for i := range a.Pix {
		total += math.Abs(float64(a.Pix[i]) - float64(b.Pix[i]))
	}
	return total / float64(len(a.Pix)) / 255.0
}

// prune collapses successive frames whose difference from the last kept
// frame falls below threshold. At least minKeep frames survive; when the
// pruned set is smaller, frames are re-added evenly from the full grid.
// Returns the indices (into the input slice) of retained frames, ascending.
func prune(paths []string, threshold float64, minKeep int) ([]int, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	kept := []int{0}
	last, err := grayThumb(paths[0])
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(paths); i++ {
		thumb, err := grayThumb(paths[i])
		if err != nil {
			return nil, err
		}
		if diffScore(last, thumb) >= threshold {
			kept = append(kept, i)
			last = thumb
		}
	}

	target := min(minKeep, len(paths))
	if len(kept) >= target {
		return kept, nil
	}

	// Near-static video: fall back to an even spread over the grid.
	spread := make([]int, 0, target)
	seen := make(map[int]bool)
	for i := 0; i < target; i++ {
		idx := i * (len(paths) - 1) / max(target-1, 1)
		if !seen[idx] {
			spread = append(spread, idx)
			seen[idx] = true
		}
	}
	for _, idx := range kept {
		if !seen[idx] {
			spread = append(spread, idx)
			seen[idx] = true
		}
	}
	sort.Ints(spread)
	return spread, nil
}
