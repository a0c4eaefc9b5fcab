package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditdomain "phone-onboarding/backend/internal/audit/domain"
	"phone-onboarding/backend/internal/identity/domain"
	"phone-onboarding/backend/internal/telemetry"
)

// Challenge issuance reasons, used as metric labels and event attributes.
const (
	reasonSignup  = "signup"
	reasonRefresh = "refresh"
	reasonResend  = "resend"
)

// Signup validates the request, creates the identity and issues its first challenge.
// Validation runs before any store access.
func (s *Service) Signup(ctx context.Context, name, email, phone string) (*domain.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Signup")
	defer span.End()

	in, err := validateSignup(name, email, phone)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByPhone(ctx, in.phone)
	if err != nil {
		return nil, s.fail(span, persistence(err))
	}
	if existing != nil {
		return nil, domain.ErrPhoneTaken
	}
	code, err := s.codes.Generate()
	if err != nil {
		return nil, s.fail(span, persistence(err))
	}
	now := s.now().UTC()
	i := &domain.Identity{
		ID:        uuid.New().String(),
		Name:      in.name,
		Email:     in.email,
		Phone:     in.phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := i.IssueChallenge(code, now, s.ttl); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, i); err != nil {
		if errors.Is(err, domain.ErrPhoneTaken) {
			return nil, err
		}
		return nil, s.fail(span, persistence(err))
	}
	span.SetAttributes(attribute.String("identity.id", i.ID))

	s.metrics.Signups.Inc()
	s.metrics.ChallengesIssued.WithLabelValues(reasonSignup).Inc()
	s.audit.LogEvent(ctx, i.ID, auditdomain.ActionSignup, auditdomain.ResourceIdentity, "")
	s.emit(ctx, telemetry.EventIdentityCreated, i.ID, nil)
	s.emit(ctx, telemetry.EventChallengeIssued, i.ID, map[string]string{"reason": reasonSignup})
	s.deliver(ctx, i.ID, i.Phone, code)
	return i, nil
}

// IssueChallenge replaces the identity's challenge with a fresh code and
// delivers it. Verification state resets; a set password is kept.
func (s *Service) IssueChallenge(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "identity.IssueChallenge", trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()
	return s.fail(span, s.issue(ctx, id, reasonResend, nil))
}

// RefreshChallenge re-issues the challenge while the current window is still
// open. An expired window fails with domain.ErrChallengeExpired. Re-issues are
// throttled per identity.
func (s *Service) RefreshChallenge(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "identity.RefreshChallenge", trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()

	i, err := s.Get(ctx, id)
	if err != nil {
		return s.fail(span, err)
	}
	if i.OTPCode == "" || i.Expired(s.now()) {
		return domain.ErrChallengeExpired
	}
	if err := s.throttle(ctx, id); err != nil {
		return err
	}
	return s.fail(span, s.issue(ctx, id, reasonRefresh, func(i *domain.Identity) error {
		if i.OTPCode == "" || i.Expired(s.now()) {
			return domain.ErrChallengeExpired
		}
		return nil
	}))
}

// ResendChallenge re-issues the challenge regardless of expiry. Re-issues are
// throttled per identity.
func (s *Service) ResendChallenge(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "identity.ResendChallenge", trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()

	if _, err := s.Get(ctx, id); err != nil {
		return s.fail(span, err)
	}
	if err := s.throttle(ctx, id); err != nil {
		return err
	}
	return s.fail(span, s.issue(ctx, id, reasonResend, nil))
}

// issue generates one code and installs it with a version check. guard, if
// set, runs against the freshly read record before the change.
func (s *Service) issue(ctx context.Context, id, reason string, guard func(*domain.Identity) error) error {
	code, err := s.codes.Generate()
	if err != nil {
		return persistence(err)
	}
	i, err := s.mutate(ctx, id, func(i *domain.Identity) (bool, error) {
		if guard != nil {
			if err := guard(i); err != nil {
				return false, err
			}
		}
		if err := i.IssueChallenge(code, s.now().UTC(), s.ttl); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	s.metrics.ChallengesIssued.WithLabelValues(reason).Inc()
	s.audit.LogEvent(ctx, id, auditdomain.ActionChallengeIssued, auditdomain.ResourceIdentity, reason)
	s.emit(ctx, telemetry.EventChallengeIssued, id, map[string]string{"reason": reason})
	s.deliver(ctx, id, i.Phone, code)
	return nil
}

func (s *Service) throttle(ctx context.Context, id string) error {
	ok, err := s.limiter.Allow(ctx, "otp-issue:"+id)
	if err != nil {
		s.log.WarnContext(ctx, "otp issue throttle unavailable; allowing", "identity_id", id, "error", err)
		return nil
	}
	if !ok {
		return domain.ErrIssueThrottled
	}
	return nil
}

// VerifyChallenge checks code against the identity's current challenge. Expiry
// is checked before the code. A wrong code counts against the attempt bound.
// Repeating a correct code is a no-op success.
func (s *Service) VerifyChallenge(ctx context.Context, id, code string) error {
	ctx, span := s.tracer.Start(ctx, "identity.VerifyChallenge", trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()

	now := s.now().UTC()
	var (
		transitioned bool
		attempts     int
	)
	_, err := s.mutate(ctx, id, func(i *domain.Identity) (bool, error) {
		transitioned = false
		wasVerified := i.OTPVerified
		before := i.OTPFailedAttempts
		err := i.VerifyChallenge(code, now, s.maxAttempts)
		attempts = i.OTPFailedAttempts
		switch {
		case err == nil:
			transitioned = !wasVerified
			return transitioned, nil
		case errors.Is(err, domain.ErrInvalidChallenge):
			return attempts != before, err
		default:
			return false, err
		}
	})

	outcome := verifyOutcome(err, transitioned)
	s.metrics.Verifications.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("otp.outcome", outcome))
	switch {
	case err == nil && transitioned:
		s.audit.LogEvent(ctx, id, auditdomain.ActionChallengeVerified, auditdomain.ResourceIdentity, "")
		s.emit(ctx, telemetry.EventChallengeVerified, id, nil)
	case errors.Is(err, domain.ErrChallengeExpired),
		errors.Is(err, domain.ErrInvalidChallenge),
		errors.Is(err, domain.ErrTooManyAttempts):
		s.audit.LogEvent(ctx, id, auditdomain.ActionChallengeFailed, auditdomain.ResourceIdentity, outcome)
		s.emit(ctx, telemetry.EventChallengeFailed, id, map[string]string{
			"outcome":  outcome,
			"attempts": strconv.Itoa(attempts),
		})
	}
	return s.fail(span, err)
}

func verifyOutcome(err error, transitioned bool) string {
	switch {
	case err == nil && transitioned:
		return "verified"
	case err == nil:
		return "repeat"
	case errors.Is(err, domain.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, domain.ErrInvalidChallenge):
		return "mismatch"
	case errors.Is(err, domain.ErrTooManyAttempts):
		return "exhausted"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
