package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
	"github.com/rs/zerolog/log"
)

const tokenPrefix = "pvt_"

var (
	// ErrInvalidToken is returned for unknown or malformed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for revoked tokens.
	ErrTokenRevoked = errors.New("token has been revoked")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token has expired")
)

// Store is the storage the TokenService needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	TouchUser(ctx context.Context, id string, at time.Time) error
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RevokeToken(ctx context.Context, tokenID string) error
	RevokeUserTokens(ctx context.Context, userID string) error
}

// TokenService handles token creation, validation and revocation. Tokens are
// opaque; only their SHA-256 hash is stored.
type TokenService struct {
	store Store
	now   func() time.Time
}

// NewTokenService creates a TokenService backed by the given storage.
func NewTokenService(store Store) *TokenService {
	return &TokenService{store: store, now: time.Now}
}

// With returns a TokenService using tx.
func (s *TokenService) With(tx Store) *TokenService {
	return &TokenService{store: tx, now: s.now}
}

// CreateToken generates a new token for userID and persists it. twoFactor
// marks a session that completed second-factor verification. Returns the
// token model and the plaintext token string (shown once to the caller).
func (s *TokenService) CreateToken(ctx context.Context, userID, displayName string, ttl time.Duration, twoFactor bool) (*models.Token, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := s.now().UTC()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	t := &models.Token{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		TwoFactor:   twoFactor,
		TTL:         ttl,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.WriteToken(ctx, t, HashToken(plaintext)); err != nil {
		return nil, "", fmt.Errorf("persisting token: %w", err)
	}
	return t, plaintext, nil
}

// Authenticate resolves a plaintext token to the identity it represents.
// Inactive users still resolve; the request guard rejects them.
func (s *TokenService) Authenticate(ctx context.Context, plaintext string) (*models.Identity, *models.Token, error) {
	if !strings.HasPrefix(plaintext, tokenPrefix) {
		return nil, nil, ErrInvalidToken
	}
	token, err := s.store.GetToken(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	now := s.now()
	if token.IsRevoked() {
		return nil, nil, ErrTokenRevoked
	}
	if token.IsExpired(now) {
		return nil, nil, ErrTokenExpired
	}

	user, err := s.store.GetUser(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if err := s.store.TouchUser(ctx, user.ID, now); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last access")
	}
	return &models.Identity{User: user, TwoFactorVerified: token.TwoFactor}, token, nil
}

// RevokeToken revokes a single token.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID string) error {
	return s.store.RevokeToken(ctx, tokenID)
}

// RevokeUserTokens revokes every token belonging to a user.
func (s *TokenService) RevokeUserTokens(ctx context.Context, userID string) error {
	return s.store.RevokeUserTokens(ctx, userID)
}

// HashToken returns the SHA-256 hex hash of a plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
