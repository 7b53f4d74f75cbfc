package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/directory"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/storage"
	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"errors":[%q]}`, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeServiceError maps a service error onto an HTTP status. Unexpected
// errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *guard.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, guard.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, guard.ErrInactiveUser),
		errors.Is(err, guard.ErrVerificationRequired),
		errors.Is(err, guard.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, guard.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, guard.ErrConflict),
		errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, directory.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).
			Str("request_id", requestIDFromCtx(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// pageParam reads the 1-based ?page= query parameter.
func pageParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("page")
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, guard.Invalid("page", "must be a positive integer")
	}
	return n, nil
}

func parseTTL(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, guard.Invalid("ttl", "invalid duration %q", v)
	}
	return d, nil
}
