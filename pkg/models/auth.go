package models

import "time"

// Token is an API token bound to one user. TwoFactor marks a session that
// completed second-factor verification when it was issued.
type Token struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	TwoFactor   bool          `json:"two_factor"`
	TTL         time.Duration `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at,omitempty"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty"`
}

// IsExpired returns true if the token has passed its expiry time.
func (t *Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

// Identity is an authenticated caller as seen by the services.
type Identity struct {
	User              *User
	TwoFactorVerified bool
}
