package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/passvault/internal/directory"
)

// TokenCreateHandler handles POST /v1/auth/token/create
func (s *Server) TokenCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
		TTL         string `json:"ttl"`
		TwoFactor   bool   `json:"two_factor"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if ttl == 0 {
		ttl = s.cfg.TokenTTL
	}

	tok, plaintext, err := s.directory.IssueToken(r.Context(), identityFromCtx(r.Context()), directory.TokenRequest{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		TTL:         ttl,
		TwoFactor:   req.TwoFactor,
		Parent:      tokenFromCtx(r.Context()),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   plaintext,
			"accessor":       tok.ID,
			"user_id":        tok.UserID,
			"two_factor":     tok.TwoFactor,
			"lease_duration": int(tok.TTL.Seconds()),
		},
	})
}

// TokenLookupSelfHandler handles GET /v1/auth/token/lookup-self
func (s *Server) TokenLookupSelfHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	ident := identityFromCtx(r.Context())
	if token == nil || ident == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	data := map[string]any{
		"id":            token.ID,
		"display_name":  token.DisplayName,
		"user":          ident.User,
		"two_factor":    token.TwoFactor,
		"creation_time": token.CreatedAt.Unix(),
	}
	if !token.ExpiresAt.IsZero() {
		data["expire_time"] = token.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// TokenRevokeSelfHandler handles POST /v1/auth/token/revoke-self
func (s *Server) TokenRevokeSelfHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if token == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.tokens.RevokeToken(r.Context(), token.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserRevokeTokensHandler handles DELETE /v1/users/{id}/tokens
func (s *Server) UserRevokeTokensHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.RevokeUserTokens(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
