package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/secret"
	"github.com/org/passvault/pkg/models"
)

// SecretAuditHandler handles GET /v1/secrets/{id}/audit
func (s *Server) SecretAuditHandler(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	entries, err := s.secrets.ListAudit(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries, "page": page})
}

// AuditLogHandler handles GET /v1/sys/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	query := secret.AuditQuery{
		UserID:   q.Get("user_id"),
		SecretID: q.Get("secret_id"),
		Page:     page,
	}
	for _, a := range q["action"] {
		query.Actions = append(query.Actions, models.AuditAction(a))
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeServiceError(w, r, guard.Invalid("since", "must be an RFC 3339 timestamp"))
			return
		}
		query.Since = &t
	}

	entries, err := s.secrets.SearchAudit(r.Context(), identityFromCtx(r.Context()), query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries, "page": page})
}
