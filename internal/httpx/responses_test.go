package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSuccess_IncludesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ContextWithRequestID(r.Context(), "abc"))
	w := httptest.NewRecorder()

	JSONSuccess(w, r, map[string]string{"title": "Ficciones"}, map[string]any{"count": 1})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	meta := body["meta"].(map[string]any)
	assert.Equal(t, "abc", meta["request_id"])
	assert.Equal(t, float64(1), meta["count"])
}

func TestJSONSuccessCreated(t *testing.T) {
	w := httptest.NewRecorder()
	JSONSuccessCreated(w, httptest.NewRequest(http.MethodPost, "/", nil), []string{"1"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.NotContains(t, body, "meta")
}

func TestJSONError(t *testing.T) {
	w := httptest.NewRecorder()
	JSONError(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input",
		[]ErrorDetail{{Field: "title", Message: "title is required"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	require.Len(t, body.Error.Details, 1)
	assert.Equal(t, "title", body.Error.Details[0].Field)
}

func TestJSONSuccessNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	JSONSuccessNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())
}
