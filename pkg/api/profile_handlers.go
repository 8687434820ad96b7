package api

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/media"
	"github.com/platinummonkey/quill/pkg/middleware"
	"github.com/platinummonkey/quill/pkg/profiles"
	"github.com/platinummonkey/quill/pkg/session"
)

// uploadField is the multipart field carrying an image
const uploadField = "file"

// multipartMemory is how much of an upload is buffered before spilling to disk
const multipartMemory = 4 << 20

func (s *Server) registerProfileRoutes(r *mux.Router) {
	r.Handle("/profile", middleware.RequireSession(http.HandlerFunc(s.getProfile))).Methods("GET")
	r.Handle("/profile", middleware.RequireSession(http.HandlerFunc(s.saveProfile))).Methods("PUT")
	r.Handle("/profile/avatar", middleware.RequireSession(http.HandlerFunc(s.uploadAvatar))).Methods("POST")
	r.Handle("/profile/avatar", middleware.RequireSession(http.HandlerFunc(s.deleteAvatar))).Methods("DELETE")
}

func (s *Server) registerImageRoutes(r *mux.Router) {
	r.Handle("/images", middleware.RequireSession(http.HandlerFunc(s.uploadImage))).Methods("POST")
	r.Handle("/images/validate", middleware.RequireSession(http.HandlerFunc(s.validateImage))).Methods("POST")
}

// getProfile handles GET /api/profile
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Profiles.Get(r.Context(), session.FromContext(r.Context()).UserID())
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteSuccess(w, res.Value)
}

// saveProfile handles PUT /api/profile
func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request) {
	var in profiles.Input
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	res := s.deps.Profiles.Save(r.Context(), session.FromContext(r.Context()).Viewer(), in)
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteSuccess(w, res.Value)
}

// uploadAvatar handles POST /api/profile/avatar
func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	res := s.deps.Profiles.UpdateAvatar(r.Context(), session.FromContext(r.Context()).Viewer(),
		header.Filename, header.Header.Get("Content-Type"), file)
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteSuccess(w, map[string]string{"avatar_url": res.Value})
}

// deleteAvatar handles DELETE /api/profile/avatar
func (s *Server) deleteAvatar(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Profiles.DeleteAvatar(r.Context(), session.FromContext(r.Context()).Viewer())
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteNoContent(w)
}

// uploadImage handles POST /api/images
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Images == nil {
		writeError(w, s.logger, profiles.ErrStorageDisabled)
		return
	}
	file, header, ok := s.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	url, err := s.deps.Images.Upload(r.Context(), media.BucketImages, session.FromContext(r.Context()).UserID(),
		header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	httputil.WriteCreated(w, map[string]string{"url": url})
}

type validateImageRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// validateImage handles POST /api/images/validate
func (s *Server) validateImage(w http.ResponseWriter, r *http.Request) {
	var req validateImageRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	valid := s.deps.Images != nil && s.deps.Images.IsValidImageURL(r.Context(), req.URL)
	httputil.WriteSuccess(w, map[string]bool{"valid": valid})
}

// formFile reads the upload field, writing 400 when it is absent and a
// validation error when the body exceeds the size limit
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteValidationError(w, uploadField, media.ErrTooLarge.Error())
			return nil, nil, false
		}
		httputil.WriteBadRequest(w, "expected a multipart form")
		return nil, nil, false
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		httputil.WriteValidationError(w, uploadField, "file is required")
		return nil, nil, false
	}
	return file, header, true
}
