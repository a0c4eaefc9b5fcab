// Package telemetry carries workflow events from the identity service to
// OTel logs, Kafka and Loki.
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the identity service.
const (
	EventIdentityCreated   = "identity.created"
	EventChallengeIssued   = "challenge.issued"
	EventChallengeVerified = "challenge.verified"
	EventChallengeFailed   = "challenge.failed"
	EventCredentialSet     = "credential.set"
	EventIdentityDeleted   = "identity.deleted"
	EventLoginSucceeded    = "login.succeeded"
	EventLoginFailed       = "login.failed"
)

// SourceIdentityService is the Source of events produced by the HTTP server.
const SourceIdentityService = "identity-service"

// Event is one workflow event. Attributes must never contain OTP codes or passwords.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	IdentityID string            `json:"identityId,omitempty"`
	Source     string            `json:"source"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// NewEvent returns an event of eventType for identityID stamped with now.
func NewEvent(eventType, identityID string, now time.Time, attrs map[string]string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		IdentityID: identityID,
		Source:     SourceIdentityService,
		Attributes: attrs,
		CreatedAt:  now.UTC(),
	}
}
