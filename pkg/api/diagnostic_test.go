package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quill/pkg/backend"
	"github.com/platinummonkey/quill/pkg/config"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestDiagnosticHandler_MissingConfig(t *testing.T) {
	h := NewDiagnosticHandler(&config.MissingConfigError{Vars: []string{config.EnvDatabaseURL, config.EnvSessionSecret}})

	for _, path := range []string{"/", "/api/articles", "/articles/new", "/health/ready"} {
		w := serve(h, "GET", path)
		require.Equal(t, http.StatusServiceUnavailable, w.Code, path)

		var diag backend.Diagnostic
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diag))
		assert.Equal(t, "backend not configured", diag.Error)
		assert.Equal(t, []string{config.EnvDatabaseURL, config.EnvSessionSecret}, diag.Missing)
	}

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "POST", "/api/auth/login").Code)
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/health/live").Code)
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/debug/env").Code)
}

func TestDiagnosticHandler_ConnectionError(t *testing.T) {
	h := NewDiagnosticHandler(errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	w := serve(h, "GET", "/")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var diag backend.Diagnostic
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diag))
	assert.Equal(t, "backend unavailable", diag.Error)
	assert.Empty(t, diag.Missing)
	assert.Contains(t, diag.Detail, "connection refused")
}
