package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteValidationError(w, "title", "title is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "title is required", resp.Error)
	assert.Equal(t, "title", resp.Field)
}

func TestWriteDenied(t *testing.T) {
	w := httptest.NewRecorder()

	WriteDenied(w, "access restricted", "Upgrade your plan to read it.")

	assert.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "access restricted", resp.Error)
	assert.Equal(t, "Upgrade your plan to read it.", resp.Guidance)
}

func TestWriteInternalError_DoesNotLeakDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, RetryableErrorMessage, decodeError(t, w).Error)
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()

	WriteServiceUnavailable(w, "backend not configured", map[string]interface{}{"missing": []string{"QUILL_DATABASE_URL"}})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "backend not configured", resp.Error)
	assert.Contains(t, resp.Details, "missing")
}

func TestStatusWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "article not found") }, http.StatusNotFound},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "sign in required") }, http.StatusUnauthorized},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "email taken") }, http.StatusConflict},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "nope") }, http.StatusBadRequest},
		{"created", func(w http.ResponseWriter) { _ = WriteCreated(w, map[string]int{"id": 1}) }, http.StatusCreated},
		{"no content", WriteNoContent, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
