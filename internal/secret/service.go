package secret

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/org/passvault/internal/audit"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/permission"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds the tunables passed in at startup.
type Config struct {
	// AuditRepeatWindow suppresses repeated read audits inside the window.
	AuditRepeatWindow time.Duration
	// PageSize is the number of items per listing page.
	PageSize int
	// RequireTwoFactor rejects sessions that have not passed 2FA.
	RequireTwoFactor bool
	// MaxFileSize caps attachment uploads, in bytes.
	MaxFileSize int64
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		AuditRepeatWindow: audit.DefaultRepeatWindow,
		PageSize:          25,
		RequireTwoFactor:  true,
		MaxFileSize:       10 << 20,
	}
}

// Service orchestrates secrets, their permissions and their audit trail.
// Every operation runs the same guard sequence: authentication, second
// factor, live-record lookup, object permission, then the action itself.
type Service struct {
	backend  storage.Backend
	registry *permission.Registry
	audit    *audit.Logger
	cfg      Config
	now      func() time.Time
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps and the audit window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over backend, which must already encrypt
// sensitive attributes.
func NewService(backend storage.Backend, cfg Config, opts ...Option) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	s := &Service{
		backend:  backend,
		registry: permission.NewRegistry(backend),
		cfg:      cfg,
		now:      time.Now,
		validate: models.NewValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit = audit.NewLogger(backend, cfg.AuditRepeatWindow, audit.WithClock(s.now))
	return s
}

// Registry exposes the permission registry.
func (s *Service) Registry() *permission.Registry {
	return s.registry
}

// AuditLog exposes the audit logger.
func (s *Service) AuditLog() *audit.Logger {
	return s.audit
}

// CreateSecret stores a new secret and grants the creator change and view.
func (s *Service) CreateSecret(ctx context.Context, ident *models.Identity, fields models.SecretFields) (*models.Secret, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(fields); err != nil {
		return nil, guard.FromValidator(err)
	}

	now := s.now().UTC()
	sec := &models.Secret{
		ID:        uuid.NewString(),
		CreatedBy: &user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	fields.Apply(sec)

	err = s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.CreateSecret(ctx, sec); err != nil {
			return fmt.Errorf("creating secret: %w", err)
		}
		if _, err := s.registry.With(tx).Grant(ctx, sec.ID, user.Principal(), models.LevelChange); err != nil {
			return fmt.Errorf("granting creator access: %w", err)
		}
		return s.record(ctx, tx, user, models.ActionCreated, sec.ID, "")
	})
	if err != nil {
		return nil, err
	}
	return sec, nil
}

// ViewSecret returns the decrypted secret and records a deduplicated view.
func (s *Service) ViewSecret(ctx context.Context, ident *models.Identity, id string) (*models.Secret, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}
	if _, err := s.guarded(ctx, s.backend, user, id, models.LevelView); err != nil {
		return nil, err
	}
	sec, err := s.backend.GetSecret(ctx, id)
	if err != nil {
		return nil, liveErr(err)
	}
	if sec.Deleted {
		return nil, guard.ErrNotFound
	}
	s.recordRead(ctx, user, models.ActionViewed, id)
	return sec, nil
}

// UpdateSecret replaces the editable attributes. Every call is audited.
func (s *Service) UpdateSecret(ctx context.Context, ident *models.Identity, id string, fields models.SecretFields) (*models.Secret, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}

	var updated *models.Secret
	err = s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		current, err := s.guarded(ctx, tx, user, id, models.LevelChange)
		if err != nil {
			return err
		}
		if err := s.validate.Struct(fields); err != nil {
			return guard.FromValidator(err)
		}
		fields.Apply(current)
		current.UpdatedAt = s.now().UTC()
		if err := tx.UpdateSecret(ctx, current); err != nil {
			return fmt.Errorf("updating secret: %w", err)
		}
		if err := s.record(ctx, tx, user, models.ActionUpdated, id, ""); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSecret scrubs the sensitive attributes and marks the secret deleted.
// The row is kept for audit history; afterwards the secret is not found by
// anyone.
func (s *Service) DeleteSecret(ctx context.Context, ident *models.Identity, id string) error {
	user, err := s.authenticate(ident)
	if err != nil {
		return err
	}
	return s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		current, err := s.guarded(ctx, tx, user, id, models.LevelChange)
		if err != nil {
			return err
		}
		current.Scrub()
		current.UpdatedAt = s.now().UTC()
		if err := tx.SoftDeleteSecret(ctx, current); err != nil {
			return fmt.Errorf("deleting secret: %w", err)
		}
		return s.record(ctx, tx, user, models.ActionDeleted, id, current.Name)
	})
}

// ListAudit returns one page of a secret's audit trail, newest first.
func (s *Service) ListAudit(ctx context.Context, ident *models.Identity, id string, page int) ([]*models.AuditEntry, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}
	if _, err := s.guarded(ctx, s.backend, user, id, models.LevelView); err != nil {
		return nil, err
	}
	limit, offset := s.paging(page)
	return s.audit.ForSecret(ctx, id, limit, offset)
}

// AuditQuery selects entries for the global audit view.
type AuditQuery struct {
	UserID   string
	SecretID string
	Actions  []models.AuditAction
	Since    *time.Time
	Page     int
}

// SearchAudit queries the whole audit log. Superusers only.
func (s *Service) SearchAudit(ctx context.Context, ident *models.Identity, q AuditQuery) ([]*models.AuditEntry, error) {
	if _, err := guard.RequireSuperuser(ident, s.cfg.RequireTwoFactor); err != nil {
		return nil, err
	}
	for _, a := range q.Actions {
		if !a.Valid() {
			return nil, guard.Invalid("action", "unknown action %q", a)
		}
	}
	limit, offset := s.paging(q.Page)
	return s.audit.Query(ctx, storage.AuditFilter{
		SecretID: q.SecretID,
		UserID:   q.UserID,
		Actions:  q.Actions,
		Since:    q.Since,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Service) authenticate(ident *models.Identity) (*models.User, error) {
	return guard.Authenticate(ident, s.cfg.RequireTwoFactor)
}

// guarded loads a live secret summary and checks that user holds level on it.
// Missing, deleted and malformed ids are all ErrNotFound.
func (s *Service) guarded(ctx context.Context, st storage.Store, user *models.User, id string, level models.Level) (*models.Secret, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, guard.ErrNotFound
	}
	sec, err := st.GetSecretSummary(ctx, id)
	if err != nil {
		return nil, liveErr(err)
	}
	if sec.Deleted {
		return nil, guard.ErrNotFound
	}
	ok, err := s.registry.With(st).Check(ctx, id, user, level)
	if err != nil {
		return nil, fmt.Errorf("checking %s permission: %w", level, err)
	}
	if !ok {
		return nil, guard.ErrForbidden
	}
	return sec, nil
}

// record appends a mutation's audit entry through tx. A failure aborts the
// surrounding transaction.
func (s *Service) record(ctx context.Context, tx storage.Store, user *models.User, action models.AuditAction, secretID, description string) error {
	_, err := s.audit.With(tx).Record(ctx, audit.Event{
		UserID:      user.ID,
		Action:      action,
		Description: description,
		SecretID:    secretID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", guard.ErrAuditWrite, err)
	}
	return nil
}

// recordRead appends a deduplicated read audit. Failures are logged and
// never fail the read.
func (s *Service) recordRead(ctx context.Context, user *models.User, action models.AuditAction, secretID string) {
	_, err := s.audit.RecordOnce(ctx, audit.Event{
		UserID:   user.ID,
		Action:   action,
		SecretID: secretID,
	}, audit.ScopeSecret)
	if err != nil {
		log.Warn().Err(err).
			Str("user_id", user.ID).
			Str("secret_id", secretID).
			Str("action", string(action)).
			Msg("read audit failed")
	}
}

func (s *Service) paging(page int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	return s.cfg.PageSize, (page - 1) * s.cfg.PageSize
}

func liveErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return guard.ErrNotFound
	}
	return err
}
