package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/passvault/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrProtected is returned when deleting a row that audit history still references.
var ErrProtected = errors.New("referenced by audit history")

// Store defines the persistence interface for passvault. Every method may be
// called on the backend directly or on the transactional view passed to RunInTx.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	TouchUser(ctx context.Context, id string, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int64, error)

	// Groups
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]*models.User, error)
	UserGroupIDs(ctx context.Context, userID string) ([]string, error)

	// Secrets
	CreateSecret(ctx context.Context, secret *models.Secret) error
	GetSecret(ctx context.Context, id string) (*models.Secret, error)
	GetSecretSummary(ctx context.Context, id string) (*models.Secret, error)
	LockSecret(ctx context.Context, id string) error
	UpdateSecret(ctx context.Context, secret *models.Secret) error
	SetSecretOTP(ctx context.Context, id, otpURI string, at time.Time) error
	SoftDeleteSecret(ctx context.Context, secret *models.Secret) error
	ListSecrets(ctx context.Context, filter SecretFilter) ([]*models.Secret, error)

	// Files
	CreateFile(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, secretID, fileID string) (*models.File, error)
	GetFileInfo(ctx context.Context, secretID, fileID string) (*models.File, error)
	ListFiles(ctx context.Context, secretID string) ([]*models.File, error)
	DeleteFile(ctx context.Context, secretID, fileID string) error

	// Permission grants
	ListGrants(ctx context.Context, filter GrantFilter) ([]models.Grant, error)
	AddGrant(ctx context.Context, grant models.Grant) error
	RemoveGrant(ctx context.Context, secretID string, principal models.Principal, level models.Level) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	FindRecentAuditEntry(ctx context.Context, match AuditMatch) (*models.AuditEntry, error)
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Tokens
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RevokeToken(ctx context.Context, tokenID string) error
	RevokeUserTokens(ctx context.Context, userID string) error

	// Metrics helpers
	CountSecrets(ctx context.Context) (int64, error)
	CountActiveTokens(ctx context.Context) (int64, error)
}

// Backend is a Store that can open transactions.
type Backend interface {
	Store

	// RunInTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Close()
}

// SecretFilter specifies query parameters for secret listings.
type SecretFilter struct {
	NameContains string
	Username     string
	// VisibleTo restricts results to secrets granted to any of these
	// principals. nil means unrestricted.
	VisibleTo []models.Principal
	// GrantedTo further restricts results to secrets this principal holds a grant on.
	GrantedTo      *models.Principal
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// GrantFilter selects permission rows for one secret.
type GrantFilter struct {
	SecretID string
	// Principals limits rows to these grantees. nil means every grantee.
	Principals []models.Principal
}

// AuditMatch identifies a recent entry for deduplication. A nil SecretID
// matches entries regardless of their secret.
type AuditMatch struct {
	UserID   string
	Action   models.AuditAction
	SecretID *string
	Since    time.Time
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	SecretID string
	UserID   string
	Actions  []models.AuditAction
	Since    *time.Time
	Limit    int
	Offset   int
}
