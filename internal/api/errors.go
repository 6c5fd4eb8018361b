package api

import (
	"errors"
	"net/http"

	"github.com/corvida/tunevault/internal/service"
	"github.com/corvida/tunevault/internal/upstream"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	var httpErr *upstream.HTTPError
	switch {
	case errors.Is(err, service.ErrAssetNotAvailable):
		return http.StatusNotFound

	case errors.Is(err, upstream.ErrNoTaskID):
		return http.StatusBadGateway

	case errors.As(err, &httpErr):
		// A 404 from the generation API means the task ID is unknown
		// there; everything else is an upstream failure on our side.
		if httpErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for the
// given error.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var httpErr *upstream.HTTPError
	switch {
	case errors.Is(err, service.ErrAssetNotAvailable):
		return "No asset available for this task"

	case errors.Is(err, upstream.ErrNoTaskID):
		return "Generation service returned an invalid response"

	case errors.As(err, &httpErr):
		if httpErr.StatusCode == http.StatusNotFound {
			return "Task not found"
		}
		return "Generation service request failed"

	default:
		return "An unexpected error occurred"
	}
}
