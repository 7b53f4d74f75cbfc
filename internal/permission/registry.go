package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// Store is the minimal interface the Registry needs from storage.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	UserGroupIDs(ctx context.Context, userID string) ([]string, error)
	LockSecret(ctx context.Context, id string) error
	ListGrants(ctx context.Context, filter storage.GrantFilter) ([]models.Grant, error)
	AddGrant(ctx context.Context, grant models.Grant) error
	RemoveGrant(ctx context.Context, secretID string, principal models.Principal, level models.Level) error
}

// Registry is the only writer of permission grants and answers whether a
// principal may act on a secret.
//
// Mutations lock the secret row first so that concurrent read-modify-write
// sequences on the same secret are serialized. Callers run them inside a
// storage transaction and bind the Registry to it with With.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a new Registry backed by the given storage.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// With returns a Registry reading and writing through tx.
func (r *Registry) With(tx Store) *Registry {
	return &Registry{store: tx, now: r.now}
}

// Grant ensures principal holds level on the secret. Change also ensures view.
// Existing grants are never removed. Returns the principal's direct levels.
func (r *Registry) Grant(ctx context.Context, secretID string, p models.Principal, level models.Level) (models.LevelSet, error) {
	if err := r.store.LockSecret(ctx, secretID); err != nil {
		return 0, err
	}
	held, err := r.direct(ctx, secretID, p)
	if err != nil {
		return 0, err
	}
	want := models.RequiredFor(level)
	if err := r.add(ctx, secretID, p, want.Minus(held)); err != nil {
		return 0, err
	}
	return held.Union(want), nil
}

// SetLevel converges principal's direct grants to exactly the levels level
// requires. Returns the levels added and removed.
func (r *Registry) SetLevel(ctx context.Context, secretID string, p models.Principal, level models.Level) (added, removed models.LevelSet, err error) {
	if err := r.store.LockSecret(ctx, secretID); err != nil {
		return 0, 0, err
	}
	held, err := r.direct(ctx, secretID, p)
	if err != nil {
		return 0, 0, err
	}
	required := models.RequiredFor(level)
	added = required.Minus(held)
	removed = held.Minus(required)
	if err := r.add(ctx, secretID, p, added); err != nil {
		return 0, 0, err
	}
	if err := r.remove(ctx, secretID, p, removed); err != nil {
		return 0, 0, err
	}
	return added, removed, nil
}

// Revoke removes one level from principal's direct grants. Removing view
// also removes change. Returns the levels actually removed.
func (r *Registry) Revoke(ctx context.Context, secretID string, p models.Principal, level models.Level) (models.LevelSet, error) {
	if err := r.store.LockSecret(ctx, secretID); err != nil {
		return 0, err
	}
	held, err := r.direct(ctx, secretID, p)
	if err != nil {
		return 0, err
	}
	drop := models.LevelsOf(level)
	if level == models.LevelView {
		drop = models.AllLevels
	}
	removed := held.Intersect(drop)
	if err := r.remove(ctx, secretID, p, removed); err != nil {
		return 0, err
	}
	return removed, nil
}

// RevokeAll removes every direct grant principal holds on the secret. It is a
// no-op when there are none.
func (r *Registry) RevokeAll(ctx context.Context, secretID string, p models.Principal) (models.LevelSet, error) {
	if err := r.store.LockSecret(ctx, secretID); err != nil {
		return 0, err
	}
	held, err := r.direct(ctx, secretID, p)
	if err != nil {
		return 0, err
	}
	if err := r.remove(ctx, secretID, p, held); err != nil {
		return 0, err
	}
	return held, nil
}

// EffectiveLevels returns what principal may do on the secret. Superusers
// hold every level. A user also holds whatever any of their groups hold.
// Inactive or unknown users hold nothing.
func (r *Registry) EffectiveLevels(ctx context.Context, secretID string, p models.Principal) (models.LevelSet, error) {
	switch p.Kind {
	case models.PrincipalUser:
		user, err := r.store.GetUser(ctx, p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return r.UserLevels(ctx, secretID, user)
	case models.PrincipalGroup:
		return r.direct(ctx, secretID, p)
	}
	return 0, fmt.Errorf("unknown principal kind %q", p.Kind)
}

// UserLevels is EffectiveLevels for an already loaded user.
func (r *Registry) UserLevels(ctx context.Context, secretID string, user *models.User) (models.LevelSet, error) {
	if !user.Active {
		return 0, nil
	}
	if user.Superuser {
		return models.AllLevels, nil
	}
	principals, err := r.principalsOf(ctx, user)
	if err != nil {
		return 0, err
	}
	grants, err := r.store.ListGrants(ctx, storage.GrantFilter{SecretID: secretID, Principals: principals})
	if err != nil {
		return 0, err
	}
	var levels models.LevelSet
	for _, g := range grants {
		levels = levels.Add(g.Level)
	}
	return levels, nil
}

// Check reports whether user may perform an action needing level.
func (r *Registry) Check(ctx context.Context, secretID string, user *models.User, level models.Level) (bool, error) {
	levels, err := r.UserLevels(ctx, secretID, user)
	if err != nil {
		return false, err
	}
	return levels.Allows(level), nil
}

// VisibleTo lists the principals whose grants make a secret visible to user.
// all is true for superusers, who see every secret.
func (r *Registry) VisibleTo(ctx context.Context, user *models.User) (principals []models.Principal, all bool, err error) {
	if !user.Active {
		return []models.Principal{}, false, nil
	}
	if user.Superuser {
		return nil, true, nil
	}
	principals, err = r.principalsOf(ctx, user)
	return principals, false, err
}

// ListAccess lists every principal with a direct grant on the secret, each
// with the single level that describes it.
func (r *Registry) ListAccess(ctx context.Context, secretID string) ([]models.Access, error) {
	grants, err := r.store.ListGrants(ctx, storage.GrantFilter{SecretID: secretID})
	if err != nil {
		return nil, err
	}

	levels := make(map[models.Principal]models.LevelSet)
	var order []models.Principal
	for _, g := range grants {
		if _, seen := levels[g.Principal]; !seen {
			order = append(order, g.Principal)
		}
		levels[g.Principal] = levels[g.Principal].Add(g.Level)
	}

	result := make([]models.Access, 0, len(order))
	for _, p := range order {
		name, err := r.Describe(ctx, p)
		if err != nil {
			return nil, err
		}
		result = append(result, models.Access{Principal: p, Name: name, Level: levels[p].Display()})
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Principal.Kind != result[j].Principal.Kind {
			return result[i].Principal.Kind == models.PrincipalUser
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Describe returns a human readable name for principal.
func (r *Registry) Describe(ctx context.Context, p models.Principal) (string, error) {
	switch p.Kind {
	case models.PrincipalUser:
		user, err := r.store.GetUser(ctx, p.ID)
		if err != nil {
			return "", err
		}
		return user.DisplayName(), nil
	case models.PrincipalGroup:
		group, err := r.store.GetGroup(ctx, p.ID)
		if err != nil {
			return "", err
		}
		return group.Name, nil
	}
	return "", fmt.Errorf("unknown principal kind %q", p.Kind)
}

func (r *Registry) principalsOf(ctx context.Context, user *models.User) ([]models.Principal, error) {
	groupIDs, err := r.store.UserGroupIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	principals := make([]models.Principal, 0, len(groupIDs)+1)
	principals = append(principals, user.Principal())
	for _, id := range groupIDs {
		principals = append(principals, models.GroupPrincipal(id))
	}
	return principals, nil
}

func (r *Registry) direct(ctx context.Context, secretID string, p models.Principal) (models.LevelSet, error) {
	grants, err := r.store.ListGrants(ctx, storage.GrantFilter{SecretID: secretID, Principals: []models.Principal{p}})
	if err != nil {
		return 0, err
	}
	var levels models.LevelSet
	for _, g := range grants {
		levels = levels.Add(g.Level)
	}
	return levels, nil
}

// add writes view before change.
func (r *Registry) add(ctx context.Context, secretID string, p models.Principal, levels models.LevelSet) error {
	now := r.now().UTC()
	for _, l := range levels.Levels() {
		grant := models.Grant{SecretID: secretID, Principal: p, Level: l, CreatedAt: now}
		if err := r.store.AddGrant(ctx, grant); err != nil {
			return fmt.Errorf("granting %s to %s: %w", l, p, err)
		}
	}
	return nil
}

// remove drops change before view.
func (r *Registry) remove(ctx context.Context, secretID string, p models.Principal, levels models.LevelSet) error {
	list := levels.Levels()
	for i := len(list) - 1; i >= 0; i-- {
		if err := r.store.RemoveGrant(ctx, secretID, p, list[i]); err != nil {
			return fmt.Errorf("revoking %s from %s: %w", list[i], p, err)
		}
	}
	return nil
}
