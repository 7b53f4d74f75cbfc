package secret

import (
	"context"
	"fmt"
	"time"

	"github.com/org/passvault/internal/guard"
	"github.com/org/passvault/internal/storage"
	"github.com/org/passvault/pkg/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// SetupOTP attaches a TOTP enrollment URI to a secret, replacing any
// existing one.
func (s *Service) SetupOTP(ctx context.Context, ident *models.Identity, id, uri string) error {
	user, err := s.authenticate(ident)
	if err != nil {
		return err
	}
	return s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.guarded(ctx, tx, user, id, models.LevelChange); err != nil {
			return err
		}
		now := s.now().UTC()
		if _, err := totpCode(uri, now); err != nil {
			return guard.Invalid("otp", "invalid OTP string")
		}
		if err := tx.SetSecretOTP(ctx, id, uri, now); err != nil {
			return fmt.Errorf("storing otp: %w", err)
		}
		return s.record(ctx, tx, user, models.ActionOTPEnrolled, id, "")
	})
}

// RemoveOTP detaches the enrollment URI. It is a no-op when none is set.
func (s *Service) RemoveOTP(ctx context.Context, ident *models.Identity, id string) error {
	user, err := s.authenticate(ident)
	if err != nil {
		return err
	}
	return s.backend.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		current, err := s.guarded(ctx, tx, user, id, models.LevelChange)
		if err != nil {
			return err
		}
		if !current.OTPEnabled {
			return nil
		}
		if err := tx.SetSecretOTP(ctx, id, "", s.now().UTC()); err != nil {
			return fmt.Errorf("removing otp: %w", err)
		}
		return s.record(ctx, tx, user, models.ActionOTPRemoved, id, "")
	})
}

// GenerateOTPCode returns the current TOTP code for a secret. ok is false
// when the secret has no enrollment.
func (s *Service) GenerateOTPCode(ctx context.Context, ident *models.Identity, id string) (code string, ok bool, err error) {
	user, err := s.authenticate(ident)
	if err != nil {
		return "", false, err
	}
	if _, err := s.guarded(ctx, s.backend, user, id, models.LevelView); err != nil {
		return "", false, err
	}
	sec, err := s.backend.GetSecret(ctx, id)
	if err != nil {
		return "", false, liveErr(err)
	}
	if sec.OTPURI == "" {
		return "", false, nil
	}
	code, err = totpCode(sec.OTPURI, s.now())
	if err != nil {
		return "", false, fmt.Errorf("generating otp code: %w", err)
	}
	s.recordRead(ctx, user, models.ActionOTPTokenGenerated, id)
	return code, true, nil
}

// totpCode parses an otpauth:// URI and computes the code for t.
func totpCode(uri string, t time.Time) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", err
	}
	if key.Type() != "totp" {
		return "", fmt.Errorf("unsupported otp type %q", key.Type())
	}
	if key.Secret() == "" {
		return "", fmt.Errorf("otp secret missing")
	}
	return totp.GenerateCodeCustom(key.Secret(), t, totp.ValidateOpts{
		Period:    uint(key.Period()),
		Digits:    key.Digits(),
		Algorithm: key.Algorithm(),
	})
}
