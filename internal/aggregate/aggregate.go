// Package aggregate folds per-frame detections into the per-label entity
// summaries of the final report. Aggregate is a pure function of its
// inputs: identical frames and options always produce identical output.
package aggregate

import (
	"sort"

	"github.com/framesight/framesight/internal/models"
)

// Options control run filtering and the final confidence floor.
type Options struct {
	// YOLOMinConsecutive applies to labels the object detector contributed
	// to; the other two apply to labels seen only by their source.
	YOLOMinConsecutive      int
	OpenVocabMinConsecutive int
	DiscoveryMinConsecutive int
	ConfidenceMinScore      float64
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		YOLOMinConsecutive:      2,
		OpenVocabMinConsecutive: 1,
		DiscoveryMinConsecutive: 1,
		ConfidenceMinScore:      0.1,
	}
}

// confidence score weights.
const (
	weightMeanConfidence  = 0.45
	weightSourceDiversity = 0.25
	weightConsistency     = 0.20
	weightOCREvidence     = 0.10
)

// Aggregate builds the entities map from the ordered frame sequence.
// Frames must be in ascending timestamp order.
func Aggregate(frames []models.Frame, opts Options) map[string]models.EntitySummary {
	entities := make(map[string]models.EntitySummary)
	if len(frames) == 0 {
		return entities
	}

	for _, label := range distinctLabels(frames) {
		summary, ok := summarize(frames, label, opts)
		if ok {
			entities[label] = summary
		}
	}
	return entities
}

// distinctLabels returns every observed label in ascending string order.
func distinctLabels(frames []models.Frame) []string {
	seen := make(map[string]bool)
	for _, frame := range frames {
		for _, det := range frame.Detections {
			seen[det.Label] = true
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func summarize(frames []models.Frame, label string, opts Options) (models.EntitySummary, bool) {
	occ := make([]bool, len(frames))
	sourceSeen := make(map[string]bool)
	for i, frame := range frames {
		for _, det := range frame.Detections {
			if det.Label == label {
				occ[i] = true
				sourceSeen[det.Source] = true
			}
		}
	}

	minConsecutive := minConsecutiveFor(sourceSeen, opts)
	runs := filterRuns(occ, minConsecutive)
	if len(runs) == 0 {
		return models.EntitySummary{}, false
	}

	surviving := make([]bool, len(frames))
	appearances := 0
	longestRun := 0
	for _, r := range runs {
		for i := r.start; i <= r.end; i++ {
			surviving[i] = true
		}
		length := r.end - r.start + 1
		appearances += length
		if length > longestRun {
			longestRun = length
		}
	}

	// Count instances and gather evidence only from surviving frames.
	count := 0
	var confSum float64
	sources := make(map[string]bool)
	ocrPresent := false
	for i, frame := range frames {
		if !surviving[i] {
			continue
		}
		for _, det := range frame.Detections {
			if det.Label != label {
				continue
			}
			count++
			confSum += det.Confidence
			sources[det.Source] = true
			if det.Source == models.SourceOCR {
				ocrPresent = true
			}
		}
	}

	score := confidenceScore(confSum/float64(count), len(sources), longestRun, appearances, ocrPresent)
	if score < opts.ConfidenceMinScore {
		return models.EntitySummary{}, false
	}

	ranges := make([]models.TimeRange, 0, len(runs))
	for _, r := range runs {
		start := frames[r.start].TimestampSec
		end := frames[r.end].TimestampSec
		ranges = append(ranges, models.TimeRange{
			StartSec:   models.Round1(start),
			EndSec:     models.Round1(end),
			StartLabel: models.TimeLabel(start),
			EndLabel:   models.TimeLabel(end),
		})
	}

	sourceList := make([]string, 0, len(sources))
	for s := range sources {
		sourceList = append(sourceList, s)
	}
	sort.Strings(sourceList)

	return models.EntitySummary{
		Count:           count,
		Appearances:     appearances,
		Presence:        models.Round4(float64(appearances) / float64(len(frames))),
		TimeRanges:      ranges,
		ConfidenceScore: models.Round4(score),
		Sources:         sourceList,
	}, true
}

// minConsecutiveFor picks the run threshold by label origin: detector-backed
// labels use the stricter detector threshold, open-vocab and discovery
// labels their own, everything else (ocr, verify only) passes at one.
func minConsecutiveFor(sources map[string]bool, opts Options) int {
	switch {
	case sources[models.SourceYOLO]:
		return max(opts.YOLOMinConsecutive, 1)
	case sources[models.SourceOpenVocab]:
		return max(opts.OpenVocabMinConsecutive, 1)
	case sources[models.SourceDiscovery]:
		return max(opts.DiscoveryMinConsecutive, 1)
	default:
		return 1
	}
}

type run struct {
	start, end int // inclusive frame indices
}

// filterRuns extracts maximal true runs of occ and drops those shorter than
// minConsecutive. Runs separated by any gap stay separate.
func filterRuns(occ []bool, minConsecutive int) []run {
	var runs []run
	i := 0
	for i < len(occ) {
		if !occ[i] {
			i++
			continue
		}
		j := i
		for j+1 < len(occ) && occ[j+1] {
			j++
		}
		if j-i+1 >= minConsecutive {
			runs = append(runs, run{start: i, end: j})
		}
		i = j + 1
	}
	return runs
}

func confidenceScore(meanConf float64, distinctSources, longestRun, appearances int, ocrPresent bool) float64 {
	diversity := float64(distinctSources) / float64(models.SourceCount)
	consistency := float64(longestRun) / float64(appearances)
	score := weightMeanConfidence*meanConf +
		weightSourceDiversity*diversity +
		weightConsistency*consistency
	if ocrPresent {
		score += weightOCREvidence
	}
	return min(max(score, 0), 1)
}
