package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"

	"phone-onboarding/backend/internal/identity/domain"
)

const (
	phoneDigits       = 10
	maxNameLength     = 200
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes; the same limit applies to argon2id for parity.
	maxPasswordLength = 72
)

// ValidPhone reports whether phone is exactly 10 ASCII digits.
func ValidPhone(phone string) bool {
	if len(phone) != phoneDigits {
		return false
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] < '0' || phone[i] > '9' {
			return false
		}
	}
	return true
}

// signupInput is the normalized signup request. The phone is kept as sent.
type signupInput struct {
	name, email, phone string
}

func validateSignup(name, email, phone string) (signupInput, error) {
	in := signupInput{
		name:  strings.TrimSpace(name),
		email: strings.ToLower(strings.TrimSpace(email)),
		phone: phone,
	}
	if !ValidPhone(in.phone) {
		return in, domain.ErrInvalidPhone
	}
	if in.name == "" {
		return in, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(in.name) > maxNameLength {
		return in, fmt.Errorf("%w: name must be at most %d characters", domain.ErrValidation, maxNameLength)
	}
	if in.email == "" {
		return in, fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if !govalidator.IsEmail(in.email) {
		return in, fmt.Errorf("%w: invalid email format", domain.ErrValidation)
	}
	return in, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", domain.ErrValidation, maxPasswordLength)
	}
	var hasUpper, hasLower, hasNumber bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasUpper {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", domain.ErrValidation)
	}
	if !hasLower {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", domain.ErrValidation)
	}
	if !hasNumber {
		return fmt.Errorf("%w: password must contain at least one number", domain.ErrValidation)
	}
	return nil
}
