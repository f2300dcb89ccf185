// Package handlers provides the HTTP API handlers for framesight.
package handlers

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/framesight/framesight/internal/broker"
	"github.com/framesight/framesight/internal/fetcher"
	"github.com/framesight/framesight/internal/models"
)

// serviceError maps service layer errors to API status codes. Queue
// backpressure surfaces as 503 so clients know to retry.
func serviceError(err error, fallback string) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, models.ErrInvalidInput):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, models.ErrNotReady),
		errors.Is(err, models.ErrJobActive),
		errors.Is(err, models.ErrInvalidTransition):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, broker.ErrQueueFull):
		return huma.Error503ServiceUnavailable("processing queue is full, retry later")
	case errors.Is(err, fetcher.ErrTooLarge):
		return huma.NewError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		return huma.Error500InternalServerError(fallback, err)
	}
}
