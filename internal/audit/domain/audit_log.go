package domain

import "time"

// AuditLog is one recorded workflow action.
type AuditLog struct {
	ID         string
	IdentityID string // empty when the action did not resolve to a record
	Action     string
	Resource   string
	IP         string
	Metadata   string
	CreatedAt  time.Time
}

// Actions recorded by the signup workflow.
const (
	ActionSignup            = "signup"
	ActionChallengeIssued   = "challenge_issued"
	ActionChallengeVerified = "challenge_verified"
	ActionChallengeFailed   = "challenge_failed"
	ActionPasswordSet       = "password_set"
	ActionStageResolved     = "stage_resolved"
	ActionLoginSuccess      = "login_success"
	ActionLoginFailure      = "login_failure"
	ActionDelete            = "delete"
)

// ResourceIdentity is the resource name for identity records.
const ResourceIdentity = "identity"
