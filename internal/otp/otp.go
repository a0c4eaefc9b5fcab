// Package otp generates fixed-width numeric one-time codes.
package otp

import (
	"crypto/rand"
	"io"
	"math/big"

	"phone-onboarding/backend/internal/identity/domain"
)

var ten = big.NewInt(10)

// Generator draws codes from a random source. The zero value uses crypto/rand.
type Generator struct {
	Rand io.Reader
}

// Generate returns a domain.OTPDigits-wide code (e.g. "0421"). Each digit is
// drawn independently and uniformly over 0-9; leading zeros are kept.
func (g Generator) Generate() (string, error) {
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	s := make([]byte, domain.OTPDigits)
	for i := range s {
		n, err := rand.Int(src, ten)
		if err != nil {
			return "", err
		}
		s[i] = '0' + byte(n.Int64())
	}
	return string(s), nil
}

// Generate returns a code using crypto/rand.
func Generate() (string, error) {
	return Generator{}.Generate()
}
