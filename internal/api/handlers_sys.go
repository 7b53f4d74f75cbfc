package api

import (
	"net/http"

	"github.com/org/passvault/internal/directory"
	"github.com/rs/zerolog/log"
)

// InitHandler handles POST /v1/sys/init. It creates the first superuser and
// returns a verified token for it, once.
func (s *Server) InitHandler(w http.ResponseWriter, r *http.Request) {
	var req directory.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, err := s.directory.Bootstrap(r.Context(), req, s.cfg.TokenTTL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"root_token": token,
	})
}

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "unavailable",
			"initialized": false,
		})
		return
	}

	code := http.StatusOK
	if n == 0 {
		code = http.StatusNotImplemented
	}
	writeJSON(w, code, map[string]any{
		"status":      "ok",
		"initialized": n > 0,
	})
}
