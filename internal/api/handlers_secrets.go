package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/secret"
	"github.com/org/passvault/pkg/models"
)

// SecretListHandler handles GET /v1/secrets
func (s *Server) SecretListHandler(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := secret.ListOptions{
		Name:     q.Get("name"),
		Username: q.Get("username"),
		GroupID:  q.Get("group"),
		Page:     page,
	}
	if v := q.Get("mine"); v != "" {
		if opts.Mine, err = strconv.ParseBool(v); err != nil {
			writeServiceError(w, r, guard.Invalid("mine", "must be a boolean"))
			return
		}
	}

	secrets, err := s.secrets.ListSecrets(r.Context(), identityFromCtx(r.Context()), opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": secrets, "page": page})
}

// SecretCreateHandler handles POST /v1/secrets
func (s *Server) SecretCreateHandler(w http.ResponseWriter, r *http.Request) {
	var fields models.SecretFields
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := s.secrets.CreateSecret(r.Context(), identityFromCtx(r.Context()), fields)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": created})
}

// SecretGetHandler handles GET /v1/secrets/{id}
func (s *Server) SecretGetHandler(w http.ResponseWriter, r *http.Request) {
	sec, err := s.secrets.ViewSecret(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sec})
}

// SecretUpdateHandler handles PUT /v1/secrets/{id}
func (s *Server) SecretUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var fields models.SecretFields
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sec, err := s.secrets.UpdateSecret(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sec})
}

// SecretDeleteHandler handles DELETE /v1/secrets/{id}
func (s *Server) SecretDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.secrets.DeleteSecret(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PermissionListHandler handles GET /v1/secrets/{id}/permissions
func (s *Server) PermissionListHandler(w http.ResponseWriter, r *http.Request) {
	access, err := s.secrets.ListPermissions(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": access})
}

// PermissionGrantHandler handles PUT /v1/secrets/{id}/permissions. The
// principal ends up holding exactly the requested level.
func (s *Server) PermissionGrantHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal string `json:"principal"`
		Level     string `json:"level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := models.ParsePrincipal(req.Principal)
	if err != nil {
		writeServiceError(w, r, guard.Invalid("principal", "%s", err.Error()))
		return
	}
	err = s.secrets.GrantPermission(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), target, models.Level(req.Level))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PermissionRevokeHandler handles DELETE /v1/secrets/{id}/permissions/{principal}.
// With ?level= only that level is dropped; otherwise all access goes.
func (s *Server) PermissionRevokeHandler(w http.ResponseWriter, r *http.Request) {
	target, err := models.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		writeServiceError(w, r, guard.Invalid("principal", "%s", err.Error()))
		return
	}
	ident := identityFromCtx(r.Context())
	id := chi.URLParam(r, "id")
	if level := r.URL.Query().Get("level"); level != "" {
		err = s.secrets.RemovePermission(r.Context(), ident, id, target, models.Level(level))
	} else {
		err = s.secrets.RevokePermission(r.Context(), ident, id, target)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OTPSetupHandler handles PUT /v1/secrets/{id}/otp
func (s *Server) OTPSetupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.secrets.SetupOTP(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), req.URI); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OTPRemoveHandler handles DELETE /v1/secrets/{id}/otp
func (s *Server) OTPRemoveHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.secrets.RemoveOTP(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OTPCodeHandler handles GET /v1/secrets/{id}/otp/code
func (s *Server) OTPCodeHandler(w http.ResponseWriter, r *http.Request) {
	code, ok, err := s.secrets.GenerateOTPCode(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"otp_enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"otp_enabled": true, "code": code})
}
