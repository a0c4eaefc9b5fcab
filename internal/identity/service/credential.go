package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditdomain "phone-onboarding/backend/internal/audit/domain"
	"phone-onboarding/backend/internal/identity/domain"
	"phone-onboarding/backend/internal/telemetry"
)

// LoginResult is the outcome of a successful password login.
type LoginResult struct {
	Token      string
	ExpiresAt  time.Time
	IdentityID string
}

// SetPassword establishes (or replaces) the identity's credential. The
// confirmation is checked first, then verification state, then password policy.
func (s *Service) SetPassword(ctx context.Context, id, password, confirmation string) error {
	ctx, span := s.tracer.Start(ctx, "identity.SetPassword", trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()

	if password != confirmation {
		return domain.ErrPasswordMismatch
	}
	var hash string
	_, err := s.mutate(ctx, id, func(i *domain.Identity) (bool, error) {
		if !i.OTPVerified {
			return false, domain.ErrNotVerified
		}
		if err := validatePassword(password); err != nil {
			return false, err
		}
		if hash == "" {
			h, err := s.hasher.Hash([]byte(password))
			if err != nil {
				return false, persistence(err)
			}
			hash = h
		}
		if err := i.SetPasswordHash(hash, s.now().UTC()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return s.fail(span, err)
	}
	s.metrics.PasswordsSet.Inc()
	s.audit.LogEvent(ctx, id, auditdomain.ActionPasswordSet, auditdomain.ResourceIdentity, "")
	s.emit(ctx, telemetry.EventCredentialSet, id, nil)
	return nil
}

// ResolveStage classifies the identity registered under phone. It never
// authenticates. An unknown phone returns domain.StageNoSuchIdentity with
// domain.ErrNotFound.
func (s *Service) ResolveStage(ctx context.Context, phone string) (string, domain.Stage, error) {
	ctx, span := s.tracer.Start(ctx, "identity.ResolveStage")
	defer span.End()

	stage, id, err := s.resolve(ctx, phone)
	s.metrics.StageResolutions.WithLabelValues(string(stage)).Inc()
	span.SetAttributes(attribute.String("identity.stage", string(stage)))
	if err != nil {
		return "", stage, s.fail(span, err)
	}
	s.audit.LogEvent(ctx, id, auditdomain.ActionStageResolved, auditdomain.ResourceIdentity, string(stage))
	return id, stage, nil
}

func (s *Service) resolve(ctx context.Context, phone string) (domain.Stage, string, error) {
	if !ValidPhone(phone) {
		return domain.StageNoSuchIdentity, "", domain.ErrNotFound
	}
	i, err := s.repo.GetByPhone(ctx, phone)
	if err != nil {
		return domain.StageNoSuchIdentity, "", persistence(err)
	}
	if i == nil {
		return domain.StageNoSuchIdentity, "", domain.ErrNotFound
	}
	return i.Stage(), i.ID, nil
}

// Login checks phone and password for an identity in StageReady and issues an
// access token. Every credential failure is domain.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, phone, password string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Login")
	defer span.End()

	if s.tokens == nil {
		return nil, ErrLoginDisabled
	}
	res, id, err := s.login(ctx, phone, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			s.metrics.Logins.WithLabelValues("failure").Inc()
			if id != "" {
				s.audit.LogEvent(ctx, id, auditdomain.ActionLoginFailure, auditdomain.ResourceIdentity, "")
			}
			s.emit(ctx, telemetry.EventLoginFailed, id, nil)
		}
		return nil, s.fail(span, err)
	}
	s.metrics.Logins.WithLabelValues("success").Inc()
	s.audit.LogEvent(ctx, id, auditdomain.ActionLoginSuccess, auditdomain.ResourceIdentity, "")
	s.emit(ctx, telemetry.EventLoginSucceeded, id, nil)
	return res, nil
}

func (s *Service) login(ctx context.Context, phone, password string) (*LoginResult, string, error) {
	if !ValidPhone(phone) || password == "" {
		return nil, "", domain.ErrInvalidCredentials
	}
	i, err := s.repo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, "", persistence(err)
	}
	if i == nil {
		return nil, "", domain.ErrInvalidCredentials
	}
	if i.Stage() != domain.StageReady {
		return nil, i.ID, domain.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(i.PasswordHash, []byte(password)); err != nil {
		return nil, i.ID, domain.ErrInvalidCredentials
	}
	token, _, exp, err := s.tokens.Issue(i.ID, i.Phone)
	if err != nil {
		return nil, i.ID, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, IdentityID: i.ID}, i.ID, nil
}
