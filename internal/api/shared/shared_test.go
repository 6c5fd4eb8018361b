package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := SetTraceID(context.Background())
	traceID := GetTraceID(ctx)
	assert.NotEmpty(t, traceID)

	other := GetTraceID(SetTraceID(context.Background()))
	assert.NotEqual(t, traceID, other)

	assert.Empty(t, GetTraceID(context.Background()))
}

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithJSON(rec, req, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, rec.Body.String())
}

func TestRespondWithError_IncludesTraceID(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(SetTraceID(req.Context()))

	RespondWithError(rec, req, http.StatusNotFound, "Task not found")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Task not found", resp.Error)
	assert.Equal(t, GetTraceID(req.Context()), resp.TraceID)
}

func TestRespondWithErrorAndLog_SanitizesError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	internal := errors.New("connect to 10.0.0.1:5432 failed with Bearer sk-secretsecret")
	RespondWithErrorAndLog(rec, req, http.StatusInternalServerError, "An unexpected error occurred", internal)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secretsecret")
	assert.Contains(t, rec.Body.String(), "An unexpected error occurred")
}

type selfValidating struct {
	ok bool
}

func (s selfValidating) Validate() error {
	if !s.ok {
		return errors.New("not ok")
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `validate:"required"`
	}

	assert.Error(t, ValidateRequest(payload{}))
	assert.NoError(t, ValidateRequest(payload{Name: "x"}))

	assert.Error(t, ValidateRequest(selfValidating{ok: false}))
	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var out struct {
		Prompt string `json:"prompt"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"prompt":"hi"}`))
	require.NoError(t, DecodeJSON(req, &out))
	assert.Equal(t, "hi", out.Prompt)

	bad := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{`))
	assert.Error(t, DecodeJSON(bad, &out))
}
