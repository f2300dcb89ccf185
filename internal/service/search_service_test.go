package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/search"
)

func newSearchFixture(t *testing.T) *SearchService {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	index := search.NewIndex(nil, log)
	require.NoError(t, index.IndexReport(&models.Report{
		VideoID:  "aaaa1111",
		Filename: "patrol.mp4",
		Entities: map[string]models.EntitySummary{
			"fighter jet": {Presence: 0.8, Count: 5},
		},
	}, &models.Video{ID: "aaaa1111", Filename: "patrol.mp4", Status: models.StatusCompleted}))
	return NewSearchService(index).WithLogger(log)
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := newSearchFixture(t)

	_, err := svc.Search(context.Background(), SearchParams{Q: "   "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSearchValidatesSimilarity(t *testing.T) {
	svc := newSearchFixture(t)
	ctx := context.Background()

	_, err := svc.Search(ctx, SearchParams{Q: "jet", Similarity: 0.4})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.Search(ctx, SearchParams{Q: "jet", Similarity: 1.2})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	// Zero selects the default threshold.
	result, err := svc.Search(ctx, SearchParams{Q: "jet"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExactMatchesCount)
}

func TestSearchValidatesFilters(t *testing.T) {
	svc := newSearchFixture(t)
	ctx := context.Background()

	_, err := svc.Search(ctx, SearchParams{Q: "jet", MinPresence: 1.5})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.Search(ctx, SearchParams{Q: "jet", MinFrames: -1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSearchDelegatesToIndex(t *testing.T) {
	svc := newSearchFixture(t)

	result, err := svc.Search(context.Background(), SearchParams{Q: "Fighter"})
	require.NoError(t, err)
	require.Len(t, result.Videos, 1)
	assert.Equal(t, "aaaa1111", result.Videos[0].VideoID)
	require.Len(t, result.Videos[0].Entities, 1)
	assert.Equal(t, "fighter jet", result.Videos[0].Entities[0].Label)
}
