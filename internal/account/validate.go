package account

import (
	"context"
	"fmt"
	"net/mail"
	"unicode"
	"unicode/utf8"

	"github.com/dukerupert/lingo/internal/apperr"
)

const (
	usernameMin    = 4
	usernameMax    = 32
	passwordMin    = 6
	activationSize = 16
	resetSize      = 16

	// MaxPageSize bounds the user listing; out of range sizes fall back to it.
	MaxPageSize = 10
)

// validEmail accepts a bare address only, no display name.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func checkUsername(ve *apperr.ValidationError, username string) {
	switch n := utf8.RuneCountInString(username); {
	case username == "":
		ve.Add("username", "username_null")
	case n < usernameMin || n > usernameMax:
		ve.Add("username", "username_size")
	}
}

func checkPassword(ve *apperr.ValidationError, password string) {
	if password == "" {
		ve.Add("password", "password_null")
		return
	}
	if utf8.RuneCountInString(password) < passwordMin {
		ve.Add("password", "password_size")
		return
	}
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower || !upper || !digit {
		ve.Add("password", "password_pattern")
	}
}

// validateRegistration also rejects emails that already belong to an account.
func (s *Service) validateRegistration(ctx context.Context, in RegisterInput) error {
	var ve apperr.ValidationError
	checkUsername(&ve, in.Username)

	switch {
	case in.Email == "":
		ve.Add("email", "email_null")
	case !validEmail(in.Email):
		ve.Add("email", "email_invalid")
	default:
		u, err := s.users.GetByEmail(ctx, in.Email)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if u != nil {
			ve.Add("email", "email_inuse")
		}
	}

	checkPassword(&ve, in.Password)
	return ve.Err()
}
