package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/passvault/internal/guard"
)

// FileListHandler handles GET /v1/secrets/{id}/files
func (s *Server) FileListHandler(w http.ResponseWriter, r *http.Request) {
	files, err := s.secrets.ListFiles(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": files})
}

// FileUploadHandler handles POST /v1/secrets/{id}/files as multipart/form-data
// with the payload in the "file" part.
func (s *Server) FileUploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+(1<<20))
	part, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeServiceError(w, r, guard.Invalid("file", "exceeds the %d byte limit", s.cfg.MaxUploadSize))
			return
		}
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload failed")
		return
	}
	f, err := s.secrets.UploadFile(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), header.Filename, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": f})
}

// FileDownloadHandler handles GET /v1/secrets/{id}/files/{fileID}
func (s *Server) FileDownloadHandler(w http.ResponseWriter, r *http.Request) {
	f, err := s.secrets.DownloadFile(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "fileID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(f.Data) //nolint:errcheck
}

// FileDeleteHandler handles DELETE /v1/secrets/{id}/files/{fileID}
func (s *Server) FileDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.secrets.DeleteFile(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "fileID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
