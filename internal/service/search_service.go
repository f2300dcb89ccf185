package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/framesight/framesight/internal/models"
	"github.com/framesight/framesight/internal/observability"
	"github.com/framesight/framesight/internal/search"
)

// Search parameter bounds.
const (
	DefaultSimilarity = 0.7
	minSimilarity     = 0.5
	maxSimilarity     = 1.0
)

// SearchService validates search parameters and delegates to the index.
type SearchService struct {
	index  *search.Index
	logger *slog.Logger
}

// NewSearchService creates a new SearchService.
func NewSearchService(index *search.Index) *SearchService {
	return &SearchService{index: index, logger: slog.Default()}
}

// WithLogger sets the logger for the service.
func (s *SearchService) WithLogger(logger *slog.Logger) *SearchService {
	s.logger = observability.WithComponent(logger, "search_service")
	return s
}

// SearchParams are the raw query parameters of a search request.
type SearchParams struct {
	// Q is the search term; required.
	Q string

	// Similarity is the semantic match threshold; 0 selects the default.
	Similarity float64

	// MinPresence filters entities below the given presence ratio.
	MinPresence float64

	// MinFrames filters entities seen in fewer frames.
	MinFrames int
}

// Search validates params and runs the query against the index.
func (s *SearchService) Search(ctx context.Context, params SearchParams) (*search.Result, error) {
	q := strings.TrimSpace(params.Q)
	if q == "" {
		return nil, fmt.Errorf("%w: search query is required", models.ErrInvalidInput)
	}

	similarity := params.Similarity
	if similarity == 0 {
		similarity = DefaultSimilarity
	}
	if similarity < minSimilarity || similarity > maxSimilarity {
		return nil, fmt.Errorf("%w: similarity must be in [%.1f, %.1f]", models.ErrInvalidInput, minSimilarity, maxSimilarity)
	}
	if params.MinPresence < 0 || params.MinPresence > 1 {
		return nil, fmt.Errorf("%w: min_presence must be in [0, 1]", models.ErrInvalidInput)
	}
	if params.MinFrames < 0 {
		return nil, fmt.Errorf("%w: min_frames must not be negative", models.ErrInvalidInput)
	}

	result, err := s.index.Search(ctx, search.Query{
		Q:           q,
		Similarity:  similarity,
		MinPresence: params.MinPresence,
		MinFrames:   params.MinFrames,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("search executed",
		slog.String("query", q),
		slog.Int("exact_matches", result.ExactMatchesCount),
		slog.Int("similar_entities", result.AIEnhancementsCount),
	)
	return result, nil
}
