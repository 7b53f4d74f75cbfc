// Package directory administers users, groups and group membership.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyInitialized is returned by Bootstrap once any user exists.
var ErrAlreadyInitialized = errors.New("passvault is already initialized")

// NewUser describes an account to create.
type NewUser struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Superuser bool   `json:"superuser"`
}

// UserUpdate changes mutable account attributes. Nil fields are left alone.
type UserUpdate struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	Active    *bool   `json:"active"`
	Superuser *bool   `json:"superuser"`
}

type newGroup struct {
	Name string `json:"name" validate:"required,max=150"`
}

// Service manages accounts. Everything except GetUser on oneself requires a
// superuser.
type Service struct {
	backend          storage.Backend
	tokens           *auth.TokenService
	requireTwoFactor bool
	validate         *validator.Validate
	maxTokenTTL      time.Duration
	now              func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxTokenTTL caps the lifetime of issued tokens. Requests without a ttl
// get the cap.
func WithMaxTokenTTL(d time.Duration) Option {
	return func(s *Service) { s.maxTokenTTL = d }
}

// WithClock replaces the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a directory Service.
func NewService(backend storage.Backend, tokens *auth.TokenService, requireTwoFactor bool, opts ...Option) *Service {
	s := &Service{
		backend:          backend,
		tokens:           tokens,
		requireTwoFactor: requireTwoFactor,
		validate:         models.NewValidator(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) admin(ident *models.Identity) (*models.User, error) {
	return guard.RequireSuperuser(ident, s.requireTwoFactor)
}

func (s *Service) newUser(in NewUser) (*models.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := s.validate.Struct(in); err != nil {
		return nil, guard.FromValidator(err)
	}
	return &models.User{
		ID:        uuid.NewString(),
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Active:    true,
		Superuser: in.Superuser,
		CreatedAt: s.now().UTC(),
	}, nil
}

// Bootstrap creates the first superuser together with a verified token.
// It refuses to run once any account exists.
func (s *Service) Bootstrap(ctx context.Context, in NewUser, ttl time.Duration) (*models.User, string, error) {
	in.Superuser = true
	user, err := s.newUser(in)
	if err != nil {
		return nil, "", err
	}

	var plaintext string
	err = s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		n, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyInitialized
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("creating root user: %w", err)
		}
		_, plaintext, err = s.tokens.With(tx).CreateToken(ctx, user.ID, "bootstrap", ttl, true)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("passvault initialized")
	return user, plaintext, nil
}

// CreateUser adds an account.
func (s *Service) CreateUser(ctx context.Context, ident *models.Identity, in NewUser) (*models.User, error) {
	if _, err := s.admin(ident); err != nil {
		return nil, err
	}
	user, err := s.newUser(in)
	if err != nil {
		return nil, err
	}
	if err := s.backend.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: a user with this email already exists", guard.ErrConflict)
		}
		return nil, err
	}
	return user, nil
}

// GetUser returns one account. Callers may always read their own.
func (s *Service) GetUser(ctx context.Context, ident *models.Identity, id string) (*models.User, error) {
	caller, err := guard.Authenticate(ident, s.requireTwoFactor)
	if err != nil {
		return nil, err
	}
	if caller.ID != id && !caller.Superuser {
		return nil, guard.ErrForbidden
	}
	user, err := s.backend.GetUser(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// ListUsers lists every account.
func (s *Service) ListUsers(ctx context.Context, ident *models.Identity) ([]*models.User, error) {
	if _, err := s.admin(ident); err != nil {
		return nil, err
	}
	return s.backend.ListUsers(ctx)
}

// UpdateUser applies upd. Deactivating an account revokes its tokens.
func (s *Service) UpdateUser(ctx context.Context, ident *models.Identity, id string, upd UserUpdate) (*models.User, error) {
	caller, err := s.admin(ident)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(upd); err != nil {
		return nil, guard.FromValidator(err)
	}
	if caller.ID == id && ((upd.Active != nil && !*upd.Active) || (upd.Superuser != nil && !*upd.Superuser)) {
		return nil, guard.Invalid("user", "cannot demote or deactivate yourself")
	}

	var updated *models.User
	err = s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		user, err := tx.GetUser(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if upd.FirstName != nil {
			user.FirstName = strings.TrimSpace(*upd.FirstName)
		}
		if upd.LastName != nil {
			user.LastName = strings.TrimSpace(*upd.LastName)
		}
		if upd.Superuser != nil {
			user.Superuser = *upd.Superuser
		}
		deactivated := false
		if upd.Active != nil {
			deactivated = user.Active && !*upd.Active
			user.Active = *upd.Active
		}
		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}
		if deactivated {
			if err := s.tokens.With(tx).RevokeUserTokens(ctx, user.ID); err != nil {
				return fmt.Errorf("revoking tokens: %w", err)
			}
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes an account and its grants. Accounts referenced by audit
// history cannot be removed; deactivate them instead.
func (s *Service) DeleteUser(ctx context.Context, ident *models.Identity, id string) error {
	caller, err := s.admin(ident)
	if err != nil {
		return err
	}
	if caller.ID == id {
		return guard.Invalid("user", "cannot delete yourself")
	}
	err = s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.RevokeUserTokens(ctx, id); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, id)
	})
	switch {
	case errors.Is(err, storage.ErrProtected):
		return fmt.Errorf("%w: user has audit history, deactivate instead", guard.ErrConflict)
	case err != nil:
		return notFound(err)
	}
	return nil
}

// CreateGroup adds a group.
func (s *Service) CreateGroup(ctx context.Context, ident *models.Identity, name string) (*models.Group, error) {
	if _, err := s.admin(ident); err != nil {
		return nil, err
	}
	in := newGroup{Name: strings.TrimSpace(name)}
	if err := s.validate.Struct(in); err != nil {
		return nil, guard.FromValidator(err)
	}
	group := &models.Group{ID: uuid.NewString(), Name: in.Name, CreatedAt: s.now().UTC()}
	if err := s.backend.CreateGroup(ctx, group); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: a group with this name already exists", guard.ErrConflict)
		}
		return nil, err
	}
	return group, nil
}

// ListGroups lists every group. Any authenticated user may see group names
// so that they can share secrets with them.
func (s *Service) ListGroups(ctx context.Context, ident *models.Identity) ([]*models.Group, error) {
	if _, err := guard.Authenticate(ident, s.requireTwoFactor); err != nil {
		return nil, err
	}
	return s.backend.ListGroups(ctx)
}

// DeleteGroup removes a group with its memberships and grants.
func (s *Service) DeleteGroup(ctx context.Context, ident *models.Identity, id string) error {
	if _, err := s.admin(ident); err != nil {
		return err
	}
	err := s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		return tx.DeleteGroup(ctx, id)
	})
	return notFound(err)
}

// AddMember puts a user in a group. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, ident *models.Identity, groupID, userID string) error {
	if _, err := s.admin(ident); err != nil {
		return err
	}
	return notFound(s.backend.AddGroupMember(ctx, groupID, userID))
}

// RemoveMember takes a user out of a group.
func (s *Service) RemoveMember(ctx context.Context, ident *models.Identity, groupID, userID string) error {
	if _, err := s.admin(ident); err != nil {
		return err
	}
	return notFound(s.backend.RemoveGroupMember(ctx, groupID, userID))
}

// ListMembers lists the users in a group.
func (s *Service) ListMembers(ctx context.Context, ident *models.Identity, groupID string) ([]*models.User, error) {
	if _, err := s.admin(ident); err != nil {
		return nil, err
	}
	if _, err := s.backend.GetGroup(ctx, groupID); err != nil {
		return nil, notFound(err)
	}
	return s.backend.ListGroupMembers(ctx, groupID)
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return guard.ErrNotFound
	}
	return err
}

// TokenRequest asks for a new API token.
type TokenRequest struct {
	// UserID defaults to the caller. Issuing for someone else needs a superuser.
	UserID      string
	DisplayName string
	TTL         time.Duration
	// TwoFactor is only honored when the caller's own session is verified.
	TwoFactor bool
	// Parent is the token the request was made with. An issued token never
	// outlives an expiring parent.
	Parent *models.Token
}

// IssueToken creates a token and returns its plaintext once.
func (s *Service) IssueToken(ctx context.Context, ident *models.Identity, req TokenRequest) (*models.Token, string, error) {
	caller, err := guard.Authenticate(ident, s.requireTwoFactor)
	if err != nil {
		return nil, "", err
	}
	if req.UserID == "" {
		req.UserID = caller.ID
	}
	if req.UserID != caller.ID && !caller.Superuser {
		return nil, "", guard.ErrForbidden
	}
	if len(req.DisplayName) > 100 {
		return nil, "", guard.Invalid("display_name", "must be at most 100 characters")
	}
	target, err := s.backend.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, "", notFound(err)
	}
	if !target.Active {
		return nil, "", guard.Invalid("user_id", "user is inactive")
	}
	ttl, err := s.tokenTTL(req.TTL, req.Parent)
	if err != nil {
		return nil, "", err
	}
	return s.tokens.CreateToken(ctx, target.ID, req.DisplayName, ttl, req.TwoFactor && ident.TwoFactorVerified)
}

// tokenTTL clamps a requested lifetime to the configured cap and to what is
// left of the parent token.
func (s *Service) tokenTTL(requested time.Duration, parent *models.Token) (time.Duration, error) {
	if requested < 0 {
		return 0, guard.Invalid("ttl", "must not be negative")
	}
	ttl := requested
	if s.maxTokenTTL > 0 && (ttl == 0 || ttl > s.maxTokenTTL) {
		ttl = s.maxTokenTTL
	}
	if parent != nil && !parent.ExpiresAt.IsZero() {
		remaining := parent.ExpiresAt.Sub(s.now())
		if remaining <= 0 {
			return 0, auth.ErrTokenExpired
		}
		if ttl == 0 || ttl > remaining {
			ttl = remaining
		}
	}
	return ttl, nil
}

// RevokeUserTokens revokes every token of a user. Superusers only.
func (s *Service) RevokeUserTokens(ctx context.Context, ident *models.Identity, userID string) error {
	if _, err := s.admin(ident); err != nil {
		return err
	}
	if _, err := s.backend.GetUser(ctx, userID); err != nil {
		return notFound(err)
	}
	return s.tokens.RevokeUserTokens(ctx, userID)
}
