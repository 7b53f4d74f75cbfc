package models

import (
	"fmt"
	"strings"
	"time"
)

// PrincipalKind distinguishes the two kinds of grantee.
type PrincipalKind string

const (
	PrincipalUser  PrincipalKind = "user"
	PrincipalGroup PrincipalKind = "group"
)

// Principal identifies a user or a group that can hold permission grants.
type Principal struct {
	Kind PrincipalKind `json:"kind" validate:"required,principal_kind"`
	ID   string        `json:"id" validate:"required"`
}

// UserPrincipal returns the principal for a user id.
func UserPrincipal(id string) Principal {
	return Principal{Kind: PrincipalUser, ID: id}
}

// GroupPrincipal returns the principal for a group id.
func GroupPrincipal(id string) Principal {
	return Principal{Kind: PrincipalGroup, ID: id}
}

func (p Principal) String() string {
	return string(p.Kind) + ":" + p.ID
}

// ParsePrincipal parses the "kind:id" form produced by String.
func ParsePrincipal(s string) (Principal, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Principal{}, fmt.Errorf("invalid principal %q", s)
	}
	switch PrincipalKind(kind) {
	case PrincipalUser, PrincipalGroup:
		return Principal{Kind: PrincipalKind(kind), ID: id}, nil
	}
	return Principal{}, fmt.Errorf("invalid principal kind %q", kind)
}

// User is an account that can authenticate and hold grants.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Active       bool       `json:"active"`
	Superuser    bool       `json:"superuser"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// DisplayName prefers the full name and falls back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Principal returns the user's grantee identity.
func (u *User) Principal() Principal {
	return UserPrincipal(u.ID)
}

// Group is a named collection of users.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal returns the group's grantee identity.
func (g *Group) Principal() Principal {
	return GroupPrincipal(g.ID)
}
