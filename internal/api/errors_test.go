package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvida/tunevault/internal/service"
	"github.com/corvida/tunevault/internal/upstream"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "asset not available",
			err:  fmt.Errorf("resolving: %w", service.ErrAssetNotAvailable),
			want: http.StatusNotFound,
		},
		{
			name: "upstream 404",
			err:  &upstream.HTTPError{StatusCode: http.StatusNotFound, Body: "no such task"},
			want: http.StatusNotFound,
		},
		{
			name: "upstream 500",
			err:  &upstream.HTTPError{StatusCode: http.StatusInternalServerError, Body: "boom"},
			want: http.StatusBadGateway,
		},
		{
			name: "missing task ID in submission response",
			err:  upstream.ErrNoTaskID,
			want: http.StatusBadGateway,
		},
		{
			name: "unknown error",
			err:  errors.New("something else"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MapErrorToStatusCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "No asset available for this task",
		GetSafeErrorMessage(service.ErrAssetNotAvailable))
	assert.Equal(t, "Task not found",
		GetSafeErrorMessage(&upstream.HTTPError{StatusCode: http.StatusNotFound}))

	msg := GetSafeErrorMessage(&upstream.HTTPError{StatusCode: 500, Body: "secret detail"})
	assert.NotContains(t, msg, "secret detail")
}
