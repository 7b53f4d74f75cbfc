package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/org/passvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	testDB := filepath.Join(t.TempDir(), fmt.Sprintf("passvault_ut_%s.db", ulid.Make().String()))
	b, err := NewSQLiteBackend(context.Background(), testDB, logger.Silent)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func testUser(t *testing.T, s Store, email string) *models.User {
	t.Helper()
	u := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func testSecret(t *testing.T, s Store, name string, owner *models.User) *models.Secret {
	t.Helper()
	now := time.Now().UTC()
	sec := &models.Secret{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  "admin",
		Password:  "hunter2",
		CreatedBy: &owner.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateSecret(context.Background(), sec))
	return sec
}

func TestSQLiteUsersAndGroups(t *testing.T) {
	assert := assert.New(t)
	b := newTestBackend(t)
	ctx := context.Background()

	alice := testUser(t, b, "alice@example.com")
	bob := testUser(t, b, "bob@example.com")

	// Case-insensitive lookup
	{
		u, err := b.GetUserByEmail(ctx, "ALICE@example.com")
		assert.Nil(err)
		assert.Equal(alice.ID, u.ID)
	}

	// Duplicate email
	{
		dup := &models.User{ID: uuid.NewString(), Email: "alice@example.com", CreatedAt: time.Now()}
		assert.ErrorIs(b.CreateUser(ctx, dup), ErrAlreadyExists)
	}

	// Missing user
	{
		_, err := b.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(err, ErrNotFound)
	}

	count, err := b.CountUsers(ctx)
	assert.Nil(err)
	assert.EqualValues(2, count)

	grp := &models.Group{ID: uuid.NewString(), Name: "ops", CreatedAt: time.Now()}
	assert.Nil(b.CreateGroup(ctx, grp))
	assert.Nil(b.AddGroupMember(ctx, grp.ID, alice.ID))
	// Adding twice is a no-op
	assert.Nil(b.AddGroupMember(ctx, grp.ID, alice.ID))
	assert.ErrorIs(b.AddGroupMember(ctx, grp.ID, uuid.NewString()), ErrNotFound)

	members, err := b.ListGroupMembers(ctx, grp.ID)
	assert.Nil(err)
	assert.Len(members, 1)
	assert.Equal(alice.ID, members[0].ID)

	ids, err := b.UserGroupIDs(ctx, alice.ID)
	assert.Nil(err)
	assert.Equal([]string{grp.ID}, ids)

	ids, err = b.UserGroupIDs(ctx, bob.ID)
	assert.Nil(err)
	assert.Empty(ids)

	assert.Nil(b.RemoveGroupMember(ctx, grp.ID, alice.ID))
	ids, err = b.UserGroupIDs(ctx, alice.ID)
	assert.Nil(err)
	assert.Empty(ids)

	assert.Nil(b.DeleteGroup(ctx, grp.ID))
	assert.ErrorIs(b.DeleteGroup(ctx, grp.ID), ErrNotFound)
}

func TestSQLiteGrants(t *testing.T) {
	assert := assert.New(t)
	b := newTestBackend(t)
	ctx := context.Background()

	alice := testUser(t, b, "alice@example.com")
	sec := testSecret(t, b, "aws-prod", alice)
	p := alice.Principal()

	grant := models.Grant{SecretID: sec.ID, Principal: p, Level: models.LevelView, CreatedAt: time.Now()}
	assert.Nil(b.AddGrant(ctx, grant))
	// Idempotent
	assert.Nil(b.AddGrant(ctx, grant))

	grants, err := b.ListGrants(ctx, GrantFilter{SecretID: sec.ID})
	assert.Nil(err)
	assert.Len(grants, 1)
	assert.Equal(models.LevelView, grants[0].Level)
	assert.Equal(p, grants[0].Principal)

	// Empty principal list matches nothing
	grants, err = b.ListGrants(ctx, GrantFilter{SecretID: sec.ID, Principals: []models.Principal{}})
	assert.Nil(err)
	assert.Empty(grants)

	// Grant on unknown secret
	missing := grant
	missing.SecretID = uuid.NewString()
	assert.ErrorIs(b.AddGrant(ctx, missing), ErrNotFound)

	assert.Nil(b.RemoveGrant(ctx, sec.ID, p, models.LevelView))
	grants, err = b.ListGrants(ctx, GrantFilter{SecretID: sec.ID})
	assert.Nil(err)
	assert.Empty(grants)
}

func TestSQLiteListSecrets(t *testing.T) {
	assert := assert.New(t)
	b := newTestBackend(t)
	ctx := context.Background()

	alice := testUser(t, b, "alice@example.com")
	prod := testSecret(t, b, "aws-prod", alice)
	stage := testSecret(t, b, "aws-staging", alice)
	other := testSecret(t, b, "github_token", alice)

	assert.Nil(b.AddGrant(ctx, models.Grant{
		SecretID: prod.ID, Principal: alice.Principal(), Level: models.LevelView, CreatedAt: time.Now(),
	}))

	// Name filter is case-insensitive and escapes wildcards
	{
		result, err := b.ListSecrets(ctx, SecretFilter{NameContains: "AWS"})
		assert.Nil(err)
		assert.Len(result, 2)
		assert.Equal(prod.ID, result[0].ID)
		assert.Equal(stage.ID, result[1].ID)
		// Summaries never carry sensitive attributes
		assert.Empty(result[0].Password)

		result, err = b.ListSecrets(ctx, SecretFilter{NameContains: "b_t"})
		assert.Nil(err)
		assert.Len(result, 1)
		assert.Equal(other.ID, result[0].ID)

		result, err = b.ListSecrets(ctx, SecretFilter{NameContains: "%"})
		assert.Nil(err)
		assert.Empty(result)
	}

	// Visibility
	{
		result, err := b.ListSecrets(ctx, SecretFilter{VisibleTo: []models.Principal{alice.Principal()}})
		assert.Nil(err)
		assert.Len(result, 1)
		assert.Equal(prod.ID, result[0].ID)

		result, err = b.ListSecrets(ctx, SecretFilter{VisibleTo: []models.Principal{}})
		assert.Nil(err)
		assert.Empty(result)
	}

	// Deleted secrets are hidden
	{
		scrubbed := *stage
		scrubbed.Scrub()
		assert.Nil(b.SoftDeleteSecret(ctx, &scrubbed))

		result, err := b.ListSecrets(ctx, SecretFilter{NameContains: "aws"})
		assert.Nil(err)
		assert.Len(result, 1)

		result, err = b.ListSecrets(ctx, SecretFilter{NameContains: "aws", IncludeDeleted: true})
		assert.Nil(err)
		assert.Len(result, 2)

		count, err := b.CountSecrets(ctx)
		assert.Nil(err)
		assert.EqualValues(2, count)
	}

	// Paging
	{
		result, err := b.ListSecrets(ctx, SecretFilter{Limit: 1, Offset: 1})
		assert.Nil(err)
		assert.Len(result, 1)
		assert.Equal(other.ID, result[0].ID)
	}
}

func TestSQLiteAuditLog(t *testing.T) {
	assert := assert.New(t)
	b := newTestBackend(t)
	ctx := context.Background()

	alice := testUser(t, b, "alice@example.com")
	sec := testSecret(t, b, "aws-prod", alice)
	base := time.Now().UTC().Add(-time.Hour)

	for i, action := range []models.AuditAction{models.ActionCreated, models.ActionViewed, models.ActionViewed} {
		entry := &models.AuditEntry{
			ID:        ulid.Make().String(),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			UserID:    alice.ID,
			Action:    action,
			SecretID:  &sec.ID,
		}
		assert.Nil(b.WriteAuditEntry(ctx, entry))
	}

	// Newest first
	entries, err := b.QueryAuditLog(ctx, AuditFilter{SecretID: sec.ID})
	assert.Nil(err)
	assert.Len(entries, 3)
	assert.Equal(models.ActionCreated, entries[2].Action)
	assert.True(entries[0].Timestamp.After(entries[1].Timestamp))

	entries, err = b.QueryAuditLog(ctx, AuditFilter{Actions: []models.AuditAction{models.ActionViewed}})
	assert.Nil(err)
	assert.Len(entries, 2)

	// Recent match
	{
		found, err := b.FindRecentAuditEntry(ctx, AuditMatch{
			UserID: alice.ID, Action: models.ActionViewed, SecretID: &sec.ID, Since: base,
		})
		assert.Nil(err)
		assert.Equal(base.Add(2*time.Minute).Unix(), found.Timestamp.Unix())

		_, err = b.FindRecentAuditEntry(ctx, AuditMatch{
			UserID: alice.ID, Action: models.ActionViewed, Since: base.Add(time.Hour),
		})
		assert.ErrorIs(err, ErrNotFound)
	}

	// Audit history protects users and secrets from hard deletion
	assert.ErrorIs(b.DeleteUser(ctx, alice.ID), ErrProtected)
}

func TestSQLiteAuditHistoryProtectsUser(t *testing.T) {
	assert := assert.New(t)
	b := newTestBackend(t)
	ctx := context.Background()

	alice := testUser(t, b, "alice@example.com")
	bob := testUser(t, b, "bob@example.com")
	assert.Nil(b.WriteAuditEntry(ctx, &models.AuditEntry{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UTC(),
		UserID:    alice.ID,
		Action:    models.ActionCreated,
	}))

	err := b.DeleteUser(ctx, alice.ID)
	assert.ErrorIs(err, ErrProtected)
	_, err = b.GetUser(ctx, alice.ID)
	assert.Nil(err)

	// the same failure inside a transaction is translated too
	err = b.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.DeleteUser(ctx, alice.ID)
	})
	assert.ErrorIs(err, ErrProtected)

	// users without history can still be removed
	assert.Nil(b.DeleteUser(ctx, bob.ID))
}

func TestTranslateGormErrorConstraints(t *testing.T) {
	assert := assert.New(t)

	fk := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}
	assert.ErrorIs(translateGormError(fk), ErrProtected)
	assert.ErrorIs(translateGormError(fmt.Errorf("delete: %w", fk)), ErrProtected)

	unique := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
	assert.NotErrorIs(translateGormError(unique), ErrProtected)

	assert.ErrorIs(translateGormError(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(translateGormError(gorm.ErrDuplicatedKey), ErrAlreadyExists)
	assert.ErrorIs(translateGormError(gorm.ErrForeignKeyViolated), ErrProtected)
	assert.Nil(translateGormError(nil))
}

func TestSQLiteTransactionRollback(t *testing.T) {
	assert := assert.New(t)
	b := newTestBackend(t)
	ctx := context.Background()

	alice := testUser(t, b, "alice@example.com")
	boom := fmt.Errorf("boom")

	err := b.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		testSecret(t, tx, "rolled-back", alice)
		return boom
	})
	assert.ErrorIs(err, boom)

	result, err := b.ListSecrets(ctx, SecretFilter{})
	assert.Nil(err)
	assert.Empty(result)
}

func TestSQLiteTokens(t *testing.T) {
	assert := assert.New(t)
	b := newTestBackend(t)
	ctx := context.Background()

	alice := testUser(t, b, "alice@example.com")
	now := time.Now().UTC()
	tok := &models.Token{
		ID:        uuid.NewString(),
		UserID:    alice.ID,
		TwoFactor: true,
		TTL:       time.Hour,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	assert.Nil(b.WriteToken(ctx, tok, "hash-1"))

	got, err := b.GetToken(ctx, "hash-1")
	assert.Nil(err)
	assert.Equal(tok.ID, got.ID)
	assert.True(got.TwoFactor)
	assert.Equal(time.Hour, got.TTL)
	assert.False(got.IsRevoked())

	active, err := b.CountActiveTokens(ctx)
	assert.Nil(err)
	assert.EqualValues(1, active)

	assert.Nil(b.RevokeToken(ctx, tok.ID))
	assert.ErrorIs(b.RevokeToken(ctx, tok.ID), ErrNotFound)

	got, err = b.GetToken(ctx, "hash-1")
	assert.Nil(err)
	assert.True(got.IsRevoked())
}
