package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFiltersGenericAndStopwords(t *testing.T) {
	d := newDiscoverer(0.2, 1, 8, false, nil)

	cands := d.extract("A large group of soldiers standing near a tank in the background")
	labels := make([]string, 0, len(cands))
	for _, c := range cands {
		labels = append(labels, c.Label)
	}

	assert.Contains(t, labels, "tank")
	assert.NotContains(t, labels, "large")
	assert.NotContains(t, labels, "background")
	assert.NotContains(t, labels, "the")
}

func TestExtractLexiconGate(t *testing.T) {
	d := newDiscoverer(0.2, 1, 8, true, nil)

	cands := d.extract("a brown dog next to an armored vehicle")
	require.Len(t, cands, 1)
	assert.Equal(t, "armored vehicle", cands[0].Label)
}

func TestExtractCustomLexicon(t *testing.T) {
	d := newDiscoverer(0.2, 1, 8, true, []string{"dog"})

	cands := d.extract("a brown dog next to an armored vehicle")
	require.Len(t, cands, 1)
	assert.Equal(t, "brown dog", cands[0].Label)
}

func TestExtractMaxPhrases(t *testing.T) {
	d := newDiscoverer(0.0, 1, 2, false, nil)

	cands := d.extract("tank near helicopter near missile near convoy")
	assert.Len(t, cands, 2)
}

func TestIngestStreakGating(t *testing.T) {
	d := newDiscoverer(0.2, 2, 8, true, nil)

	// First sighting: streak 1, below the threshold of 2.
	assert.Empty(t, d.ingest("a tank on a road"))

	// Second consecutive sighting qualifies.
	got := d.ingest("the tank")
	require.Len(t, got, 1)
	assert.Equal(t, "tank", got[0].Label)

	// A caption without the label resets the streak.
	assert.Empty(t, d.ingest("an empty field"))
	assert.Empty(t, d.ingest("a tank"))
}

func TestTopLabelsRanking(t *testing.T) {
	d := newDiscoverer(0.0, 1, 8, true, nil)
	d.bestScore = map[string]float64{
		"tank":       0.45,
		"helicopter": 0.3,
		"missile":    0.45,
	}

	top := d.topLabels(2)
	assert.Equal(t, []string{"missile", "tank"}, top, "score desc, label asc on ties")
}
