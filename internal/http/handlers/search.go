package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/framesight/framesight/internal/search"
	"github.com/framesight/framesight/internal/service"
)

// SearchHandler handles the entity search endpoint.
type SearchHandler struct {
	searches *service.SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searches *service.SearchService) *SearchHandler {
	return &SearchHandler{searches: searches}
}

// Register registers the search route with the API.
func (h *SearchHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "searchEntities",
		Method:      "GET",
		Path:        "/api/v1/search",
		Summary:     "Search entities",
		Description: "Searches indexed entities across completed videos, combining exact substring matches with semantic similarity",
		Tags:        []string{"Search"},
	}, h.Search)
}

// SearchInput carries the search query parameters.
type SearchInput struct {
	Q           string  `query:"q" required:"true" doc:"Search term"`
	Similarity  float64 `query:"similarity" doc:"Semantic similarity threshold in [0.5, 1.0]; 0 selects the default"`
	MinPresence float64 `query:"min_presence" doc:"Minimum presence ratio in [0, 1]"`
	MinFrames   int     `query:"min_frames" doc:"Minimum number of frames the entity appears in"`
}

// SearchOutput is the combined search result.
type SearchOutput struct {
	Body search.Result
}

// Search runs the entity search.
func (h *SearchHandler) Search(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	result, err := h.searches.Search(ctx, service.SearchParams{
		Q:           input.Q,
		Similarity:  input.Similarity,
		MinPresence: input.MinPresence,
		MinFrames:   input.MinFrames,
	})
	if err != nil {
		return nil, serviceError(err, "search failed")
	}
	return &SearchOutput{Body: *result}, nil
}
