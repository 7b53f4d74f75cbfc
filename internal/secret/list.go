package secret

import (
	"context"
	"errors"
	"slices"

	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// ListOptions filters a secret listing.
type ListOptions struct {
	// Name matches case-insensitively anywhere in the secret name.
	Name string
	// Username matches exactly.
	Username string
	// GroupID limits results to secrets granted to this group. Non-superusers
	// may only name groups they belong to.
	GroupID string
	// Mine limits results to secrets granted to the caller directly.
	Mine bool
	Page int
}

// ListSecrets returns one page of the live secrets the caller may view,
// ordered by name. Sensitive attributes are never included.
func (s *Service) ListSecrets(ctx context.Context, ident *models.Identity, opts ListOptions) ([]*models.Secret, error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return nil, err
	}

	visible, all, err := s.registry.VisibleTo(ctx, user)
	if err != nil {
		return nil, err
	}
	limit, offset := s.paging(opts.Page)
	filter := storage.SecretFilter{
		NameContains: opts.Name,
		Username:     opts.Username,
		Limit:        limit,
		Offset:       offset,
	}
	if !all {
		filter.VisibleTo = visible
	}

	switch {
	case opts.GroupID != "":
		if !user.Superuser && !slices.Contains(visible, models.GroupPrincipal(opts.GroupID)) {
			return nil, guard.ErrForbidden
		}
		if _, err := s.backend.GetGroup(ctx, opts.GroupID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, guard.ErrNotFound
			}
			return nil, err
		}
		p := models.GroupPrincipal(opts.GroupID)
		filter.GrantedTo = &p
	case opts.Mine:
		p := user.Principal()
		filter.GrantedTo = &p
	}

	return s.backend.ListSecrets(ctx, filter)
}
