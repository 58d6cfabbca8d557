package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AlibekovAA/class-schedule/internal/common/validation"
)

type LoginInput struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=72"`
}

type RegisterInput struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=72"`
	IsAdmin  bool
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (in LoginInput) normalized() LoginInput {
	in.Email = normalizeEmail(in.Email)
	return in
}

func (in RegisterInput) normalized() RegisterInput {
	in.Email = normalizeEmail(in.Email)
	return in
}

// checkPasswordLength applies the configured minimum. Zero accepts any
// non-empty password.
func checkPasswordLength(password string, minLength int) error {
	if minLength <= 0 || utf8.RuneCountInString(password) >= minLength {
		return nil
	}
	return validation.Fields(validation.FieldErrors{
		"password": fmt.Sprintf("must be at least %d characters", minLength),
	})
}
