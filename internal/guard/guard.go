// Package guard holds the error taxonomy shared by the passvault services and
// the request guard every operation runs before touching a secret.
package guard

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/org/passvault/pkg/models"
)

var (
	// ErrUnauthenticated is returned when no identity accompanies a call.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInactiveUser is returned for identities whose account is disabled.
	ErrInactiveUser = errors.New("user is inactive")
	// ErrVerificationRequired is returned when the session has not passed
	// second-factor verification.
	ErrVerificationRequired = errors.New("two-factor verification required")
	// ErrForbidden is returned when the caller lacks the required level.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when an id does not resolve to a live record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create collides with an existing record.
	ErrConflict = errors.New("conflict")
	// ErrAuditWrite wraps a failed audit append on a mutating path. The
	// mutation it describes has been rolled back.
	ErrAuditWrite = errors.New("audit write failed")
)

// ValidationError is malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// FromValidator converts a validator failure into a ValidationError for the
// first offending field.
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "url":
		msg = "must be a valid URL"
	case "email":
		msg = "must be a valid email address"
	default:
		msg = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}

// Authenticate checks identity in a fixed order: presence, active account,
// then second factor. Object permission is checked by the caller afterwards.
func Authenticate(ident *models.Identity, requireTwoFactor bool) (*models.User, error) {
	if ident == nil || ident.User == nil {
		return nil, ErrUnauthenticated
	}
	if !ident.User.Active {
		return nil, ErrInactiveUser
	}
	if requireTwoFactor && !ident.TwoFactorVerified {
		return nil, ErrVerificationRequired
	}
	return ident.User, nil
}

// RequireSuperuser authenticates and then demands the superuser flag.
func RequireSuperuser(ident *models.Identity, requireTwoFactor bool) (*models.User, error) {
	user, err := Authenticate(ident, requireTwoFactor)
	if err != nil {
		return nil, err
	}
	if !user.Superuser {
		return nil, ErrForbidden
	}
	return user, nil
}
