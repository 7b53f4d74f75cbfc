package models

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterWithValidator registers the custom model validations on v.
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_action", validateAuditAction); err != nil {
		return err
	}
	if err := v.RegisterValidation("principal_kind", validatePrincipalKind); err != nil {
		return err
	}
	if err := v.RegisterValidation("permission_level", validatePermissionLevel); err != nil {
		return err
	}
	return nil
}

// NewValidator returns a validator with the model validations registered.
// Field errors are reported under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterWithValidator(v); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

func validateAuditAction(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return AuditAction(fl.Field().String()).Valid()
}

func validatePrincipalKind(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch PrincipalKind(fl.Field().String()) {
	case PrincipalUser, PrincipalGroup:
		return true
	}
	return false
}

func validatePermissionLevel(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	_, err := ParseLevel(fl.Field().String())
	return err == nil
}
