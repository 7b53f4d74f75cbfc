package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/permission"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// GrantPermission sets target's access on a secret to exactly level.
// Granting view to a principal holding change downgrades it.
func (s *Service) GrantPermission(ctx context.Context, ident *models.Identity, id string, target models.Principal, level models.Level) error {
	user, err := s.authenticate(ident)
	if err != nil {
		return err
	}
	return s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.guarded(ctx, tx, user, id, models.LevelChange); err != nil {
			return err
		}
		if _, err := models.ParseLevel(string(level)); err != nil {
			return guard.Invalid("level", "%v", err)
		}
		reg := s.registry.With(tx)
		name, err := describeTarget(ctx, reg, target)
		if err != nil {
			return err
		}
		if _, _, err := reg.SetLevel(ctx, id, target, level); err != nil {
			return fmt.Errorf("setting %s on %s: %w", level, target, err)
		}
		return s.record(ctx, tx, user, models.ActionPermissionAdded, id,
			fmt.Sprintf("%s granted to %s", level, name))
	})
}

// RevokePermission removes all of target's direct access to a secret.
// Revoking from a principal without grants still succeeds.
func (s *Service) RevokePermission(ctx context.Context, ident *models.Identity, id string, target models.Principal) error {
	user, err := s.authenticate(ident)
	if err != nil {
		return err
	}
	return s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.guarded(ctx, tx, user, id, models.LevelChange); err != nil {
			return err
		}
		reg := s.registry.With(tx)
		name, err := describeTarget(ctx, reg, target)
		if err != nil {
			return err
		}
		if _, err := reg.RevokeAll(ctx, id, target); err != nil {
			return fmt.Errorf("revoking access for %s: %w", target, err)
		}
		return s.record(ctx, tx, user, models.ActionPermissionRemoved, id,
			fmt.Sprintf("all access removed for %s", name))
	})
}

// RemovePermission removes a single level from target. Removing view also
// removes change.
func (s *Service) RemovePermission(ctx context.Context, ident *models.Identity, id string, target models.Principal, level models.Level) error {
	user, err := s.authenticate(ident)
	if err != nil {
		return err
	}
	return s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.guarded(ctx, tx, user, id, models.LevelChange); err != nil {
			return err
		}
		if _, err := models.ParseLevel(string(level)); err != nil {
			return guard.Invalid("level", "%v", err)
		}
		reg := s.registry.With(tx)
		name, err := describeTarget(ctx, reg, target)
		if err != nil {
			return err
		}
		if _, err := reg.Revoke(ctx, id, target, level); err != nil {
			return fmt.Errorf("revoking %s for %s: %w", level, target, err)
		}
		return s.record(ctx, tx, user, models.ActionPermissionRemoved, id,
			fmt.Sprintf("%s removed for %s", level, name))
	})
}

// ListPermissions lists every principal with direct access to a secret.
func (s *Service) ListPermissions(ctx context.Context, ident *models.Identity, id string) ([]models.Access, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}
	if _, err := s.guarded(ctx, s.backend, user, id, models.LevelView); err != nil {
		return nil, err
	}
	return s.registry.ListAccess(ctx, id)
}

// describeTarget resolves target's display name. Unknown principals are a
// validation failure of the request.
func describeTarget(ctx context.Context, reg *permission.Registry, target models.Principal) (string, error) {
	switch target.Kind {
	case models.PrincipalUser, models.PrincipalGroup:
	default:
		return "", guard.Invalid("target", "unknown principal kind %q", target.Kind)
	}
	name, err := reg.Describe(ctx, target)
	if errors.Is(err, storage.ErrNotFound) {
		return "", guard.Invalid("target", "%s %s does not exist", target.Kind, target.ID)
	}
	return name, err
}
