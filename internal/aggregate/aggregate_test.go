package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framesight/framesight/internal/models"
)

// frameAt builds a frame at the given timestamp carrying one detection per
// (label, source) pair.
func frameAt(index int, ts float64, dets ...models.Detection) models.Frame {
	return models.Frame{Index: index, TimestampSec: ts, Detections: dets}
}

func yolo(label string, conf float64) models.Detection {
	return models.Detection{Label: label, Source: models.SourceYOLO, Confidence: conf}
}

func TestAggregateTwoFrameAircraft(t *testing.T) {
	frames := []models.Frame{
		frameAt(0, 0, yolo("aircraft", 0.9)),
		frameAt(1, 5, yolo("aircraft", 0.9)),
	}

	entities := Aggregate(frames, DefaultOptions())
	require.Contains(t, entities, "aircraft")
	e := entities["aircraft"]

	assert.Equal(t, 2, e.Appearances)
	assert.Equal(t, 2, e.Count)
	assert.InDelta(t, 1.0, e.Presence, 1e-9)
	require.Len(t, e.TimeRanges, 1)
	assert.Equal(t, models.TimeRange{StartSec: 0, EndSec: 5, StartLabel: "00:00", EndLabel: "00:05"}, e.TimeRanges[0])
	// 0.45*0.9 + 0.25*(1/5) + 0.20*1.0
	assert.InDelta(t, 0.655, e.ConfidenceScore, 1e-4)
	assert.Equal(t, []string{"yolo"}, e.Sources)
}

func TestAggregateSplitRuns(t *testing.T) {
	// helicopter on frames 0,1,2 and 4,5 of a 6-frame grid at 5s intervals.
	frames := []models.Frame{
		frameAt(0, 0, yolo("helicopter", 0.8)),
		frameAt(1, 5, yolo("helicopter", 0.8)),
		frameAt(2, 10, yolo("helicopter", 0.8)),
		frameAt(3, 15),
		frameAt(4, 20, yolo("helicopter", 0.8)),
		frameAt(5, 25, yolo("helicopter", 0.8)),
	}

	entities := Aggregate(frames, DefaultOptions())
	require.Contains(t, entities, "helicopter")
	e := entities["helicopter"]

	assert.Equal(t, 5, e.Appearances)
	assert.Equal(t, 5, e.Count)
	assert.InDelta(t, 0.8333, e.Presence, 1e-4)
	require.Len(t, e.TimeRanges, 2)
	assert.Equal(t, 0.0, e.TimeRanges[0].StartSec)
	assert.Equal(t, 10.0, e.TimeRanges[0].EndSec)
	assert.Equal(t, 20.0, e.TimeRanges[1].StartSec)
	assert.Equal(t, 25.0, e.TimeRanges[1].EndSec)
}

func TestAggregateSingleFrameGapNotMerged(t *testing.T) {
	frames := []models.Frame{
		frameAt(0, 0, yolo("tank", 0.9)),
		frameAt(1, 5, yolo("tank", 0.9)),
		frameAt(2, 10),
		frameAt(3, 15, yolo("tank", 0.9)),
		frameAt(4, 20, yolo("tank", 0.9)),
	}

	entities := Aggregate(frames, DefaultOptions())
	require.Contains(t, entities, "tank")
	assert.Len(t, entities["tank"].TimeRanges, 2)
}

func TestAggregateShortRunDropped(t *testing.T) {
	// One-frame blip with min_consecutive=2 never reaches the report.
	frames := []models.Frame{
		frameAt(0, 0, yolo("tank", 0.95)),
		frameAt(1, 5),
		frameAt(2, 10),
	}

	entities := Aggregate(frames, DefaultOptions())
	assert.NotContains(t, entities, "tank")
}

func TestAggregateDiscoveryRunOfOneSurvives(t *testing.T) {
	frames := []models.Frame{
		frameAt(0, 0, models.Detection{Label: "convoy", Source: models.SourceDiscovery, Confidence: 0.45}),
		frameAt(1, 5),
	}

	entities := Aggregate(frames, DefaultOptions())
	require.Contains(t, entities, "convoy")
	e := entities["convoy"]
	assert.Equal(t, 1, e.Appearances)
	require.Len(t, e.TimeRanges, 1)
	assert.Equal(t, e.TimeRanges[0].StartSec, e.TimeRanges[0].EndSec)
}

func TestAggregateMixedSourcesUseDetectorThreshold(t *testing.T) {
	// A label the detector contributed to is held to the detector's
	// min-consecutive even when discovery also saw it.
	frames := []models.Frame{
		frameAt(0, 0,
			yolo("warship", 0.9),
			models.Detection{Label: "warship", Source: models.SourceDiscovery, Confidence: 0.45},
		),
		frameAt(1, 5),
	}

	entities := Aggregate(frames, DefaultOptions())
	assert.NotContains(t, entities, "warship")
}

func TestAggregateConfidenceFloor(t *testing.T) {
	opts := DefaultOptions()
	opts.ConfidenceMinScore = 0.9

	frames := []models.Frame{
		frameAt(0, 0, yolo("tank", 0.3)),
		frameAt(1, 5, yolo("tank", 0.3)),
	}

	entities := Aggregate(frames, opts)
	assert.Empty(t, entities)
}

func TestAggregateOCREvidenceBoostsScore(t *testing.T) {
	base := []models.Frame{
		frameAt(0, 0, yolo("aircraft", 0.8)),
		frameAt(1, 5, yolo("aircraft", 0.8)),
	}
	withOCR := []models.Frame{
		frameAt(0, 0, yolo("aircraft", 0.8), models.Detection{Label: "aircraft", Source: models.SourceOCR, Confidence: 0.8}),
		frameAt(1, 5, yolo("aircraft", 0.8)),
	}

	a := Aggregate(base, DefaultOptions())["aircraft"]
	b := Aggregate(withOCR, DefaultOptions())["aircraft"]
	assert.Greater(t, b.ConfidenceScore, a.ConfidenceScore)
	assert.Contains(t, b.Sources, "ocr")
}

func TestAggregateCountExceedsAppearances(t *testing.T) {
	// Two instances on one frame: count 4 over 2 appearances.
	frames := []models.Frame{
		frameAt(0, 0, yolo("tank", 0.9), yolo("tank", 0.7)),
		frameAt(1, 5, yolo("tank", 0.9), yolo("tank", 0.7)),
	}

	entities := Aggregate(frames, DefaultOptions())
	e := entities["tank"]
	assert.Equal(t, 4, e.Count)
	assert.Equal(t, 2, e.Appearances)
}

func TestAggregateDeterministic(t *testing.T) {
	frames := []models.Frame{
		frameAt(0, 0, yolo("tank", 0.9), yolo("aircraft", 0.5)),
		frameAt(1, 5, yolo("tank", 0.9), yolo("aircraft", 0.5)),
		frameAt(2, 10, yolo("tank", 0.9)),
	}

	first := Aggregate(frames, DefaultOptions())
	for range 20 {
		assert.Equal(t, first, Aggregate(frames, DefaultOptions()))
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	assert.Empty(t, Aggregate(nil, DefaultOptions()))
	assert.Empty(t, Aggregate([]models.Frame{frameAt(0, 0)}, DefaultOptions()))
}
