package domain

import "errors"

// Sentinel errors for the signup workflow; the HTTP handler maps each kind to
// a distinct status, so callers must use errors.Is rather than string checks.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrChallengeExpired   = errors.New("otp challenge expired")
	ErrInvalidChallenge   = errors.New("invalid otp")
	ErrTooManyAttempts    = errors.New("otp attempts exhausted; request a new code")
	ErrNotVerified        = errors.New("phone not verified")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrNotFound           = errors.New("identity not found")
	ErrPhoneTaken         = errors.New("phone already registered")
	ErrIssueThrottled     = errors.New("too many otp requests; try again later")
	ErrInvalidCredentials = errors.New("invalid phone or password")
	ErrPersistence        = errors.New("identity store unavailable")
)
