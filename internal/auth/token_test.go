package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
)

// memStore is an in-memory Store for testing.
type memStore struct {
	users   map[string]*models.User
	tokens  map[string]*models.Token
	touched map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[string]*models.User{},
		tokens:  map[string]*models.Token{},
		touched: map[string]time.Time{},
	}
}

func (m *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) TouchUser(_ context.Context, id string, at time.Time) error {
	m.touched[id] = at
	return nil
}

func (m *memStore) WriteToken(_ context.Context, t *models.Token, hash string) error {
	cp := *t
	m.tokens[hash] = &cp
	return nil
}

func (m *memStore) GetToken(_ context.Context, hash string) (*models.Token, error) {
	if t, ok := m.tokens[hash]; ok {
		return t, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) RevokeToken(_ context.Context, id string) error {
	for _, t := range m.tokens {
		if t.ID == id && t.RevokedAt == nil {
			now := time.Now()
			t.RevokedAt = &now
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) RevokeUserTokens(_ context.Context, userID string) error {
	now := time.Now()
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

func TestCreateAndAuthenticate(t *testing.T) {
	store := newMemStore()
	store.users["u1"] = &models.User{ID: "u1", Email: "u1@example.com", Active: true}
	svc := NewTokenService(store)
	ctx := context.Background()

	tok, plaintext, err := svc.CreateToken(ctx, "u1", "laptop", time.Hour, true)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if !strings.HasPrefix(plaintext, "pvt_") {
		t.Errorf("expected pvt_ prefix, got %q", plaintext)
	}
	if _, ok := store.tokens[plaintext]; ok {
		t.Error("plaintext token must never be stored")
	}

	ident, got, err := svc.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != tok.ID || ident.User.ID != "u1" || !ident.TwoFactorVerified {
		t.Errorf("unexpected identity %+v / token %+v", ident, got)
	}
	if _, ok := store.touched["u1"]; !ok {
		t.Error("expected last access to be recorded")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	store := newMemStore()
	store.users["u1"] = &models.User{ID: "u1", Active: true}
	svc := NewTokenService(store)
	ctx := context.Background()

	if _, _, err := svc.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, "pvt_unknown"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}

	tok, plaintext, err := svc.CreateToken(ctx, "u1", "", time.Minute, false)
	if err != nil {
		t.Fatal(err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, _, err := svc.Authenticate(ctx, plaintext); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	svc.now = time.Now

	if err := svc.RevokeToken(ctx, tok.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Authenticate(ctx, plaintext); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestRevokeUserTokens(t *testing.T) {
	store := newMemStore()
	store.users["u1"] = &models.User{ID: "u1", Active: true}
	svc := NewTokenService(store)
	ctx := context.Background()

	var plaintexts []string
	for i := 0; i < 3; i++ {
		_, p, err := svc.CreateToken(ctx, "u1", "", 0, false)
		if err != nil {
			t.Fatal(err)
		}
		plaintexts = append(plaintexts, p)
	}
	if err := svc.RevokeUserTokens(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	for _, p := range plaintexts {
		if _, _, err := svc.Authenticate(ctx, p); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("expected ErrTokenRevoked, got %v", err)
		}
	}
}
