package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/passvault/internal/directory"
)

// UserListHandler handles GET /v1/users
func (s *Server) UserListHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.directory.ListUsers(r.Context(), identityFromCtx(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": users})
}

// UserCreateHandler handles POST /v1/users
func (s *Server) UserCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req directory.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.directory.CreateUser(r.Context(), identityFromCtx(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": user})
}

// UserGetHandler handles GET /v1/users/{id}
func (s *Server) UserGetHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.directory.GetUser(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": user})
}

// UserUpdateHandler handles PATCH /v1/users/{id}
func (s *Server) UserUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req directory.UserUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.directory.UpdateUser(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": user})
}

// UserDeleteHandler handles DELETE /v1/users/{id}
func (s *Server) UserDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.DeleteUser(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupListHandler handles GET /v1/groups
func (s *Server) GroupListHandler(w http.ResponseWriter, r *http.Request) {
	groups, err := s.directory.ListGroups(r.Context(), identityFromCtx(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": groups})
}

// GroupCreateHandler handles POST /v1/groups
func (s *Server) GroupCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	group, err := s.directory.CreateGroup(r.Context(), identityFromCtx(r.Context()), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": group})
}

// GroupDeleteHandler handles DELETE /v1/groups/{id}
func (s *Server) GroupDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.DeleteGroup(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupMembersHandler handles GET /v1/groups/{id}/members
func (s *Server) GroupMembersHandler(w http.ResponseWriter, r *http.Request) {
	members, err := s.directory.ListMembers(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": members})
}

// GroupAddMemberHandler handles PUT /v1/groups/{id}/members/{userID}
func (s *Server) GroupAddMemberHandler(w http.ResponseWriter, r *http.Request) {
	err := s.directory.AddMember(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupRemoveMemberHandler handles DELETE /v1/groups/{id}/members/{userID}
func (s *Server) GroupRemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	err := s.directory.RemoveMember(r.Context(), identityFromCtx(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
