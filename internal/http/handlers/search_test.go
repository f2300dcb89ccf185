package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/service"
)

func newSearchHandler(t *testing.T) *SearchHandler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	index := search.NewIndex(nil, log)
	require.NoError(t, index.IndexReport(&models.Report{
		VideoID:  "aaaa1111",
		Filename: "patrol.mp4",
		Entities: map[string]models.EntitySummary{
			"tank": {Presence: 0.6, Count: 4},
		},
	}, &models.Video{ID: "aaaa1111", Filename: "patrol.mp4", Status: models.StatusCompleted}))
	return NewSearchHandler(service.NewSearchService(index).WithLogger(log))
}

func TestSearchHandlerReturnsMatches(t *testing.T) {
	h := newSearchHandler(t)

	out, err := h.Search(context.Background(), &SearchInput{Q: "tank"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Body.ExactMatchesCount)
	require.Len(t, out.Body.Videos, 1)
	assert.Equal(t, "aaaa1111", out.Body.Videos[0].VideoID)
}

func TestSearchHandlerRejectsBadSimilarity(t *testing.T) {
	h := newSearchHandler(t)

	_, err := h.Search(context.Background(), &SearchInput{Q: "tank", Similarity: 0.2})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestSearchHandlerRejectsEmptyQuery(t *testing.T) {
	h := newSearchHandler(t)

	_, err := h.Search(context.Background(), &SearchInput{Q: " "})
	requireStatus(t, err, http.StatusBadRequest)
}
