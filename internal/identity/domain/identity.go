package domain

import (
	"crypto/subtle"
	"time"
)

// Identity is one registrant moving through the signup workflow
// (stored in the identities table).
type Identity struct {
	ID                string
	Name              string
	Email             string
	Phone             string // exactly 10 digits, unique
	OTPCode           string // current 4-digit challenge; overwritten by each issuance
	OTPIssuedAt       time.Time
	OTPExpiresAt      time.Time
	OTPVerified       bool
	OTPFailedAttempts int
	VerifiedAt        *time.Time // first successful verification; nil until then
	PasswordHash      string     // empty until a credential is set
	Version           int64      // optimistic concurrency counter, bumped by every update
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Stage is the workflow position reported to clients by stage resolution.
type Stage string

const (
	StageNoSuchIdentity     Stage = "no_such_identity"
	StageOTPNotIssued       Stage = "otp_not_issued"
	StageAwaitingCredential Stage = "awaiting_credential"
	StageReady              Stage = "ready"
)

// State is the lifecycle state of a record: Created → OTPIssued → OTPVerified → CredentialSet.
type State string

const (
	StateCreated       State = "created"
	StateOTPIssued     State = "otp_issued"
	StateOTPVerified   State = "otp_verified"
	StateCredentialSet State = "credential_set"
)

// HasPassword reports whether a credential has been established.
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != ""
}

// State derives the lifecycle state from the record fields.
func (i *Identity) State() State {
	switch {
	case i.HasPassword() && i.OTPVerified:
		return StateCredentialSet
	case i.HasPassword():
		// Re-issued after a credential was set; password is kept.
		return StateOTPIssued
	case i.OTPVerified:
		return StateOTPVerified
	case i.OTPCode != "":
		return StateOTPIssued
	default:
		return StateCreated
	}
}

// Stage classifies the record for login routing. A set password wins over a
// re-issued challenge because re-issuance never clears the credential.
func (i *Identity) Stage() Stage {
	switch {
	case i.HasPassword():
		return StageReady
	case !i.OTPVerified:
		return StageOTPNotIssued
	default:
		return StageAwaitingCredential
	}
}

// IssueChallenge replaces the current challenge with code valid for ttl from now.
// Verification state and failed attempts are reset; the password hash is untouched.
func (i *Identity) IssueChallenge(code string, now time.Time, ttl time.Duration) error {
	if !ValidOTPFormat(code) {
		return ErrValidation
	}
	if ttl <= 0 {
		return ErrValidation
	}
	i.OTPCode = code
	i.OTPIssuedAt = now
	i.OTPExpiresAt = now.Add(ttl)
	i.OTPVerified = false
	i.OTPFailedAttempts = 0
	i.UpdatedAt = now
	return nil
}

// Expired reports whether now is strictly past the challenge window.
func (i *Identity) Expired(now time.Time) bool {
	return now.After(i.OTPExpiresAt)
}

// VerifyChallenge applies one verification attempt. Expiry is checked before
// the code so an expired window fails even with the right code. A mismatch on
// an unverified challenge increments the failed attempt counter, which the
// caller must persist. Once verified, the correct code keeps succeeding and
// mismatches are not counted. maxAttempts <= 0 disables the attempt bound.
func (i *Identity) VerifyChallenge(code string, now time.Time, maxAttempts int) error {
	if i.OTPCode == "" || i.Expired(now) {
		return ErrChallengeExpired
	}
	if i.OTPVerified {
		if !CodesEqual(code, i.OTPCode) {
			return ErrInvalidChallenge
		}
		return nil
	}
	if maxAttempts > 0 && i.OTPFailedAttempts >= maxAttempts {
		return ErrTooManyAttempts
	}
	if !CodesEqual(code, i.OTPCode) {
		i.OTPFailedAttempts++
		i.UpdatedAt = now
		return ErrInvalidChallenge
	}
	i.OTPVerified = true
	if i.VerifiedAt == nil {
		t := now
		i.VerifiedAt = &t
	}
	i.UpdatedAt = now
	return nil
}

// SetPasswordHash stores hash. The challenge must be verified at call time.
func (i *Identity) SetPasswordHash(hash string, now time.Time) error {
	if !i.OTPVerified {
		return ErrNotVerified
	}
	if hash == "" {
		return ErrValidation
	}
	i.PasswordHash = hash
	i.UpdatedAt = now
	return nil
}

// ValidOTPFormat reports whether code is exactly OTPDigits ASCII digits.
func ValidOTPFormat(code string) bool {
	if len(code) != OTPDigits {
		return false
	}
	for j := 0; j < len(code); j++ {
		if code[j] < '0' || code[j] > '9' {
			return false
		}
	}
	return true
}

// CodesEqual compares two codes as fixed-width strings in constant time.
// Codes of different length never match, so "0099" != "99".
func CodesEqual(supplied, stored string) bool {
	if stored == "" || len(supplied) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) == 1
}

// OTPDigits is the fixed challenge width.
const OTPDigits = 4

// DefaultChallengeTTL is the fixed challenge window.
const DefaultChallengeTTL = 5 * time.Minute
