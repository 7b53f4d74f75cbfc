package permission

import (
	"context"
	"testing"

	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// mockStore is a minimal in-memory Store for testing.
type mockStore struct {
	users   map[string]*models.User
	groups  map[string]*models.Group
	members map[string][]string
	secrets map[string]bool
	grants  map[grantKey]bool
	locks   int
}

type grantKey struct {
	secretID  string
	principal models.Principal
	level     models.Level
}

func newMockStore() *mockStore {
	return &mockStore{
		users:   map[string]*models.User{},
		groups:  map[string]*models.Group{},
		members: map[string][]string{},
		secrets: map[string]bool{"s1": true, "s2": true},
		grants:  map[grantKey]bool{},
	}
}

func (m *mockStore) addUser(id string, superuser bool) *models.User {
	u := &models.User{ID: id, Email: id + "@example.com", Active: true, Superuser: superuser}
	m.users[id] = u
	return u
}

func (m *mockStore) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockStore) GetGroup(_ context.Context, id string) (*models.Group, error) {
	if g, ok := m.groups[id]; ok {
		return g, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockStore) UserGroupIDs(_ context.Context, userID string) ([]string, error) {
	return m.members[userID], nil
}

func (m *mockStore) LockSecret(_ context.Context, id string) error {
	if !m.secrets[id] {
		return storage.ErrNotFound
	}
	m.locks++
	return nil
}

func (m *mockStore) ListGrants(_ context.Context, filter storage.GrantFilter) ([]models.Grant, error) {
	var out []models.Grant
	for k := range m.grants {
		if k.secretID != filter.SecretID {
			continue
		}
		if filter.Principals != nil && !containsPrincipal(filter.Principals, k.principal) {
			continue
		}
		out = append(out, models.Grant{SecretID: k.secretID, Principal: k.principal, Level: k.level})
	}
	return out, nil
}

func containsPrincipal(list []models.Principal, p models.Principal) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}

func (m *mockStore) AddGrant(_ context.Context, g models.Grant) error {
	m.grants[grantKey{g.SecretID, g.Principal, g.Level}] = true
	return nil
}

func (m *mockStore) RemoveGrant(_ context.Context, secretID string, p models.Principal, level models.Level) error {
	delete(m.grants, grantKey{secretID, p, level})
	return nil
}

func (m *mockStore) hasRow(secretID string, p models.Principal, level models.Level) bool {
	return m.grants[grantKey{secretID, p, level}]
}

func TestGrantChangeImpliesView(t *testing.T) {
	store := newMockStore()
	u := store.addUser("u", false)
	reg := NewRegistry(store)
	ctx := context.Background()

	levels, err := reg.Grant(ctx, "s1", u.Principal(), models.LevelChange)
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if levels != models.AllLevels {
		t.Errorf("expected {view,change}, got %s", levels)
	}
	if !store.hasRow("s1", u.Principal(), models.LevelView) {
		t.Error("expected view row to be created alongside change")
	}

	eff, err := reg.EffectiveLevels(ctx, "s1", u.Principal())
	if err != nil {
		t.Fatalf("EffectiveLevels: %v", err)
	}
	if !eff.Has(models.LevelView) || !eff.Has(models.LevelChange) {
		t.Errorf("expected effective levels to include view and change, got %s", eff)
	}
}

func TestGrantViewKeepsChange(t *testing.T) {
	store := newMockStore()
	u := store.addUser("u", false)
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Grant(ctx, "s1", u.Principal(), models.LevelChange); err != nil {
		t.Fatal(err)
	}
	levels, err := reg.Grant(ctx, "s1", u.Principal(), models.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if levels != models.AllLevels {
		t.Errorf("granting view must not drop change, got %s", levels)
	}
	if len(store.grants) != 2 {
		t.Errorf("expected 2 grant rows, got %d", len(store.grants))
	}
}

func TestSetLevel(t *testing.T) {
	cases := []struct {
		name    string
		start   models.LevelSet
		target  models.Level
		want    models.LevelSet
		added   models.LevelSet
		removed models.LevelSet
	}{
		{"none to view", 0, models.LevelView, models.LevelsOf(models.LevelView), models.LevelsOf(models.LevelView), 0},
		{"none to change", 0, models.LevelChange, models.AllLevels, models.AllLevels, 0},
		{"view to view", models.LevelsOf(models.LevelView), models.LevelView, models.LevelsOf(models.LevelView), 0, 0},
		{"view to change", models.LevelsOf(models.LevelView), models.LevelChange, models.AllLevels, models.LevelsOf(models.LevelChange), 0},
		{"change to view", models.AllLevels, models.LevelView, models.LevelsOf(models.LevelView), 0, models.LevelsOf(models.LevelChange)},
		{"change to change", models.AllLevels, models.LevelChange, models.AllLevels, 0, 0},
		{"orphan change to view", models.LevelsOf(models.LevelChange), models.LevelView, models.LevelsOf(models.LevelView), models.LevelsOf(models.LevelView), models.LevelsOf(models.LevelChange)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMockStore()
			u := store.addUser("u", false)
			for _, l := range tc.start.Levels() {
				store.grants[grantKey{"s1", u.Principal(), l}] = true
			}
			reg := NewRegistry(store)
			ctx := context.Background()

			added, removed, err := reg.SetLevel(ctx, "s1", u.Principal(), tc.target)
			if err != nil {
				t.Fatalf("SetLevel: %v", err)
			}
			if added != tc.added || removed != tc.removed {
				t.Errorf("added/removed: got %s/%s, want %s/%s", added, removed, tc.added, tc.removed)
			}
			got, err := reg.EffectiveLevels(ctx, "s1", u.Principal())
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("effective: got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRevokeAllIdempotent(t *testing.T) {
	starts := []models.LevelSet{0, models.LevelsOf(models.LevelView), models.AllLevels}
	for _, start := range starts {
		store := newMockStore()
		u := store.addUser("u", false)
		for _, l := range start.Levels() {
			store.grants[grantKey{"s1", u.Principal(), l}] = true
		}
		reg := NewRegistry(store)
		ctx := context.Background()

		removed, err := reg.RevokeAll(ctx, "s1", u.Principal())
		if err != nil {
			t.Fatalf("RevokeAll from %s: %v", start, err)
		}
		if removed != start {
			t.Errorf("RevokeAll from %s removed %s", start, removed)
		}
		got, err := reg.EffectiveLevels(ctx, "s1", u.Principal())
		if err != nil {
			t.Fatal(err)
		}
		if !got.Empty() {
			t.Errorf("expected no levels after RevokeAll from %s, got %s", start, got)
		}
	}
}

func TestRevokeViewRemovesChange(t *testing.T) {
	store := newMockStore()
	u := store.addUser("u", false)
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Grant(ctx, "s1", u.Principal(), models.LevelChange); err != nil {
		t.Fatal(err)
	}
	removed, err := reg.Revoke(ctx, "s1", u.Principal(), models.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if removed != models.AllLevels {
		t.Errorf("expected both levels removed, got %s", removed)
	}

	if _, err := reg.Grant(ctx, "s1", u.Principal(), models.LevelChange); err != nil {
		t.Fatal(err)
	}
	removed, err = reg.Revoke(ctx, "s1", u.Principal(), models.LevelChange)
	if err != nil {
		t.Fatal(err)
	}
	if removed != models.LevelsOf(models.LevelChange) {
		t.Errorf("expected only change removed, got %s", removed)
	}
	if !store.hasRow("s1", u.Principal(), models.LevelView) {
		t.Error("expected view row to survive revoking change")
	}
}

func TestSuperuserWithoutGrants(t *testing.T) {
	store := newMockStore()
	su := store.addUser("root", true)
	reg := NewRegistry(store)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "never-created"} {
		ok, err := reg.Check(ctx, id, su, models.LevelChange)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("superuser denied change on %s", id)
		}
	}
	if len(store.grants) != 0 {
		t.Error("superuser check must not create grant rows")
	}
}

func TestInactiveUserHasNoAccess(t *testing.T) {
	store := newMockStore()
	u := store.addUser("u", true)
	u.Active = false
	reg := NewRegistry(store)

	ok, err := reg.Check(context.Background(), "s1", u, models.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("inactive user must not pass a check")
	}
}

func TestGroupGrantSurvivesDirectRevoke(t *testing.T) {
	store := newMockStore()
	u := store.addUser("u", false)
	store.groups["g"] = &models.Group{ID: "g", Name: "ops"}
	store.members["u"] = []string{"g"}
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Grant(ctx, "s1", models.GroupPrincipal("g"), models.LevelChange); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Grant(ctx, "s1", u.Principal(), models.LevelView); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Revoke(ctx, "s1", u.Principal(), models.LevelView); err != nil {
		t.Fatal(err)
	}

	ok, err := reg.Check(ctx, "s1", u, models.LevelView)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected group-derived view to remain after direct revoke")
	}
	ok, _ = reg.Check(ctx, "s1", u, models.LevelChange)
	if !ok {
		t.Error("expected group-derived change")
	}
	ok, _ = reg.Check(ctx, "s2", u, models.LevelView)
	if ok {
		t.Error("group grant on s1 must not leak to s2")
	}
}

func TestUnionOfDirectAndGroup(t *testing.T) {
	store := newMockStore()
	u := store.addUser("u", false)
	store.members["u"] = []string{"readers"}
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Grant(ctx, "s1", models.GroupPrincipal("readers"), models.LevelView); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Grant(ctx, "s1", u.Principal(), models.LevelChange); err != nil {
		t.Fatal(err)
	}
	levels, err := reg.UserLevels(ctx, "s1", u)
	if err != nil {
		t.Fatal(err)
	}
	if levels != models.AllLevels {
		t.Errorf("expected union {view,change}, got %s", levels)
	}
}

func TestMutationsLockSecret(t *testing.T) {
	store := newMockStore()
	u := store.addUser("u", false)
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Grant(ctx, "missing", u.Principal(), models.LevelView); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown secret, got %v", err)
	}
	if _, _, err := reg.SetLevel(ctx, "s1", u.Principal(), models.LevelView); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RevokeAll(ctx, "s1", u.Principal()); err != nil {
		t.Fatal(err)
	}
	if store.locks != 2 {
		t.Errorf("expected 2 locks, got %d", store.locks)
	}
}

func TestListAccessShowsSuperset(t *testing.T) {
	store := newMockStore()
	alice := store.addUser("alice", false)
	alice.FirstName, alice.LastName = "Alice", "Smith"
	bob := store.addUser("bob", false)
	store.groups["g"] = &models.Group{ID: "g", Name: "ops"}
	reg := NewRegistry(store)
	ctx := context.Background()

	grants := []models.Grant{
		{Principal: alice.Principal(), Level: models.LevelChange},
		{Principal: bob.Principal(), Level: models.LevelView},
		{Principal: models.GroupPrincipal("g"), Level: models.LevelView},
	}
	for _, g := range grants {
		if _, err := reg.Grant(ctx, "s1", g.Principal, g.Level); err != nil {
			t.Fatal(err)
		}
	}

	access, err := reg.ListAccess(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(access) != 3 {
		t.Fatalf("expected one entry per principal, got %d", len(access))
	}
	want := []models.Access{
		{Principal: alice.Principal(), Name: "Alice Smith", Level: models.LevelChange},
		{Principal: bob.Principal(), Name: "bob@example.com", Level: models.LevelView},
		{Principal: models.GroupPrincipal("g"), Name: "ops", Level: models.LevelView},
	}
	for i, w := range want {
		if access[i] != w {
			t.Errorf("entry %d: got %+v, want %+v", i, access[i], w)
		}
	}
}
