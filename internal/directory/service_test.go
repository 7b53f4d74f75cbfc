package directory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type fixture struct {
	backend *storage.SQLiteBackend
	tokens  *auth.TokenService
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testDB := filepath.Join(t.TempDir(), fmt.Sprintf("passvault_ut_%s.db", ulid.Make().String()))
	backend, err := storage.NewSQLiteBackend(context.Background(), testDB, logger.Silent)
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	tokens := auth.NewTokenService(backend)
	return &fixture{backend: backend, tokens: tokens, svc: NewService(backend, tokens, true)}
}

func (f *fixture) root(t *testing.T) *models.Identity {
	t.Helper()
	user, token, err := f.svc.Bootstrap(context.Background(), NewUser{Email: "Root@Example.com"}, time.Hour)
	require.NoError(t, err)
	ident, _, err := f.tokens.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, user.ID, ident.User.ID)
	return ident
}

func TestBootstrap(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	root := f.root(t)
	assert.Equal("root@example.com", root.User.Email)
	assert.True(root.User.Superuser)
	assert.True(root.TwoFactorVerified)

	_, _, err := f.svc.Bootstrap(ctx, NewUser{Email: "other@example.com"}, time.Hour)
	assert.ErrorIs(err, ErrAlreadyInitialized)

	n, err := f.backend.CountUsers(ctx)
	assert.Nil(err)
	assert.Equal(int64(1), n)
}

func TestCreateUser(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	root := f.root(t)

	alice, err := f.svc.CreateUser(ctx, root, NewUser{Email: " Alice@Example.com ", FirstName: "Alice"})
	assert.Nil(err)
	assert.Equal("alice@example.com", alice.Email)
	assert.True(alice.Active)
	assert.False(alice.Superuser)

	_, err = f.svc.CreateUser(ctx, root, NewUser{Email: "alice@example.com"})
	assert.ErrorIs(err, guard.ErrConflict)

	_, err = f.svc.CreateUser(ctx, root, NewUser{Email: "not-an-email"})
	var verr *guard.ValidationError
	if assert.True(errors.As(err, &verr)) {
		assert.Equal("email", verr.Field)
	}

	// non-superusers may not administer accounts
	aliceIdent := &models.Identity{User: alice, TwoFactorVerified: true}
	_, err = f.svc.CreateUser(ctx, aliceIdent, NewUser{Email: "bob@example.com"})
	assert.ErrorIs(err, guard.ErrForbidden)
	_, err = f.svc.ListUsers(ctx, aliceIdent)
	assert.ErrorIs(err, guard.ErrForbidden)

	// but may read themselves
	self, err := f.svc.GetUser(ctx, aliceIdent, alice.ID)
	assert.Nil(err)
	assert.Equal(alice.ID, self.ID)
	_, err = f.svc.GetUser(ctx, aliceIdent, root.User.ID)
	assert.ErrorIs(err, guard.ErrForbidden)

	_, err = f.svc.ListUsers(ctx, &models.Identity{User: root.User})
	assert.ErrorIs(err, guard.ErrVerificationRequired)
}

func TestDeactivateRevokesTokens(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	root := f.root(t)

	alice, err := f.svc.CreateUser(ctx, root, NewUser{Email: "alice@example.com"})
	require.NoError(t, err)
	_, token, err := f.tokens.CreateToken(ctx, alice.ID, "cli", time.Hour, true)
	require.NoError(t, err)

	inactive := false
	updated, err := f.svc.UpdateUser(ctx, root, alice.ID, UserUpdate{Active: &inactive})
	assert.Nil(err)
	assert.False(updated.Active)

	_, _, err = f.tokens.Authenticate(ctx, token)
	assert.ErrorIs(err, auth.ErrTokenRevoked)

	_, err = f.svc.UpdateUser(ctx, root, root.User.ID, UserUpdate{Active: &inactive})
	var verr *guard.ValidationError
	assert.True(errors.As(err, &verr))

	_, err = f.svc.UpdateUser(ctx, root, uuid.NewString(), UserUpdate{Active: &inactive})
	assert.ErrorIs(err, guard.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	root := f.root(t)

	bob, err := f.svc.CreateUser(ctx, root, NewUser{Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Nil(f.svc.DeleteUser(ctx, root, bob.ID))
	assert.ErrorIs(f.svc.DeleteUser(ctx, root, bob.ID), guard.ErrNotFound)

	carol, err := f.svc.CreateUser(ctx, root, NewUser{Email: "carol@example.com"})
	require.NoError(t, err)
	require.NoError(t, f.backend.WriteAuditEntry(ctx, &models.AuditEntry{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UTC(),
		UserID:    carol.ID,
		Action:    models.ActionViewed,
	}))
	assert.ErrorIs(f.svc.DeleteUser(ctx, root, carol.ID), guard.ErrConflict)

	_, err = f.backend.GetUser(ctx, carol.ID)
	assert.Nil(err)

	var verr *guard.ValidationError
	assert.True(errors.As(f.svc.DeleteUser(ctx, root, root.User.ID), &verr))
}

func TestGroups(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	root := f.root(t)

	alice, err := f.svc.CreateUser(ctx, root, NewUser{Email: "alice@example.com"})
	require.NoError(t, err)

	ops, err := f.svc.CreateGroup(ctx, root, "ops")
	assert.Nil(err)
	_, err = f.svc.CreateGroup(ctx, root, "ops")
	assert.ErrorIs(err, guard.ErrConflict)
	_, err = f.svc.CreateGroup(ctx, root, "  ")
	var verr *guard.ValidationError
	assert.True(errors.As(err, &verr))

	assert.Nil(f.svc.AddMember(ctx, root, ops.ID, alice.ID))
	assert.Nil(f.svc.AddMember(ctx, root, ops.ID, alice.ID))
	assert.ErrorIs(f.svc.AddMember(ctx, root, ops.ID, uuid.NewString()), guard.ErrNotFound)

	members, err := f.svc.ListMembers(ctx, root, ops.ID)
	assert.Nil(err)
	if assert.Len(members, 1) {
		assert.Equal(alice.ID, members[0].ID)
	}

	aliceIdent := &models.Identity{User: alice, TwoFactorVerified: true}
	groups, err := f.svc.ListGroups(ctx, aliceIdent)
	assert.Nil(err)
	assert.Len(groups, 1)
	assert.ErrorIs(f.svc.AddMember(ctx, aliceIdent, ops.ID, alice.ID), guard.ErrForbidden)

	assert.Nil(f.svc.RemoveMember(ctx, root, ops.ID, alice.ID))
	members, err = f.svc.ListMembers(ctx, root, ops.ID)
	assert.Nil(err)
	assert.Empty(members)

	assert.Nil(f.svc.DeleteGroup(ctx, root, ops.ID))
	assert.ErrorIs(f.svc.DeleteGroup(ctx, root, ops.ID), guard.ErrNotFound)
	_, err = f.svc.ListMembers(ctx, root, ops.ID)
	assert.ErrorIs(err, guard.ErrNotFound)
}

func TestIssueToken(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	root := f.root(t)

	alice, err := f.svc.CreateUser(ctx, root, NewUser{Email: "alice@example.com"})
	require.NoError(t, err)

	// superusers can issue verified tokens for others
	tok, plaintext, err := f.svc.IssueToken(ctx, root, TokenRequest{UserID: alice.ID, TTL: time.Hour, TwoFactor: true})
	require.NoError(t, err)
	assert.Equal(alice.ID, tok.UserID)
	aliceIdent, _, err := f.tokens.Authenticate(ctx, plaintext)
	require.NoError(t, err)
	assert.True(aliceIdent.TwoFactorVerified)

	// users cannot issue tokens for others
	_, _, err = f.svc.IssueToken(ctx, aliceIdent, TokenRequest{UserID: root.User.ID})
	assert.ErrorIs(err, guard.ErrForbidden)

	// an unverified session cannot mint a verified one
	unverified := &models.Identity{User: alice}
	f.svc.requireTwoFactor = false
	tok, _, err = f.svc.IssueToken(ctx, unverified, TokenRequest{TwoFactor: true})
	require.NoError(t, err)
	assert.False(tok.TwoFactor)
	f.svc.requireTwoFactor = true

	assert.ErrorIs(f.svc.RevokeUserTokens(ctx, aliceIdent, alice.ID), guard.ErrForbidden)
	assert.Nil(f.svc.RevokeUserTokens(ctx, root, alice.ID))
	_, _, err = f.tokens.Authenticate(ctx, plaintext)
	assert.ErrorIs(err, auth.ErrTokenRevoked)
}

func TestIssueTokenLifetime(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	root := f.root(t)
	f.svc.maxTokenTTL = time.Hour

	// requests above the cap, or without a ttl, get the cap
	for _, requested := range []time.Duration{0, 30 * 24 * time.Hour} {
		tok, _, err := f.svc.IssueToken(ctx, root, TokenRequest{TTL: requested, TwoFactor: true})
		require.NoError(t, err)
		assert.Equal(time.Hour, tok.TTL)
		assert.False(tok.ExpiresAt.IsZero())
	}
	tok, _, err := f.svc.IssueToken(ctx, root, TokenRequest{TTL: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(5*time.Minute, tok.TTL)

	_, _, err = f.svc.IssueToken(ctx, root, TokenRequest{TTL: -time.Minute})
	var vErr *guard.ValidationError
	assert.True(errors.As(err, &vErr))

	// a derived token never outlives the session that minted it
	parent := &models.Token{ID: uuid.NewString(), ExpiresAt: time.Now().Add(10 * time.Minute)}
	tok, plaintext, err := f.svc.IssueToken(ctx, root, TokenRequest{TTL: time.Hour, TwoFactor: true, Parent: parent})
	require.NoError(t, err)
	assert.LessOrEqual(tok.TTL, 10*time.Minute)
	assert.Greater(tok.TTL, 9*time.Minute)
	assert.False(tok.ExpiresAt.After(parent.ExpiresAt.Add(time.Second)))

	// chaining from the derived token cannot extend it either
	child, childToken, err := f.tokens.Authenticate(ctx, plaintext)
	require.NoError(t, err)
	grandchild, _, err := f.svc.IssueToken(ctx, child, TokenRequest{TTL: time.Hour, TwoFactor: true, Parent: childToken})
	require.NoError(t, err)
	assert.False(grandchild.ExpiresAt.After(parent.ExpiresAt.Add(time.Second)))

	expired := &models.Token{ID: uuid.NewString(), ExpiresAt: time.Now().Add(-time.Minute)}
	_, _, err = f.svc.IssueToken(ctx, root, TokenRequest{Parent: expired})
	assert.ErrorIs(err, auth.ErrTokenExpired)
}
