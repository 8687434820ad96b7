package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/middleware"
	"github.com/platinummonkey/quill/pkg/session"
)

type setRoleRequest struct {
	IsAdmin *bool `json:"is_admin" validate:"required"`
}

type changePlanRequest struct {
	Plan    string     `json:"plan" validate:"required"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

func (s *Server) registerMembershipRoutes(r *mux.Router) {
	r.HandleFunc("/plans", s.listPlans).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/users", s.listUsers).Methods("GET")
	admin.HandleFunc("/users/{id}/role", s.setRole).Methods("PUT")
	admin.HandleFunc("/users/{id}/plan", s.changePlan).Methods("PUT")
}

// listPlans handles GET /api/plans
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Membership.ListPlans(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	httputil.WriteSuccess(w, plans)
}

// listUsers handles GET /api/admin/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Membership.ListUsers(r.Context(), session.FromContext(r.Context()).Viewer())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// setRole handles PUT /api/admin/users/{id}/role
func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req setRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	actor := session.FromContext(r.Context()).Viewer()
	if err := s.deps.Membership.SetRole(r.Context(), actor, userID, *req.IsAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user_id": userID, "is_admin": *req.IsAdmin})
}

// changePlan handles PUT /api/admin/users/{id}/plan
func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req changePlanRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	plan, err := access.ParsePlan(req.Plan)
	if err != nil {
		httputil.WriteValidationError(w, "plan", "plan must be one of: FREE BASIC PRO VIP")
		return
	}
	actor := session.FromContext(r.Context()).Viewer()
	if err := s.deps.Membership.ChangePlan(r.Context(), actor, userID, plan, req.EndDate); err != nil {
		writeError(w, s.logger, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user_id": userID, "plan": plan, "end_date": req.EndDate})
}
