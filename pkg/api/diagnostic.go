package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quill/pkg/backend"
	"github.com/platinummonkey/quill/pkg/httputil"
)

// NewDiagnosticHandler serves 503 with the backend diagnosis on every
// route. Liveness and the environment report keep working so operators
// can see what is missing.
func NewDiagnosticHandler(cause error) http.Handler {
	diag := backend.Diagnose(cause)

	router := mux.NewRouter()
	router.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, map[string]string{"status": "diagnostic"})
	}).Methods("GET")
	router.HandleFunc("/debug/env", debugEnv).Methods("GET")
	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, diag)
	})

	return httputil.Chain(httputil.RequestIDMiddleware)(router)
}
