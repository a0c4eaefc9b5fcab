// Package service implements the phone signup workflow: signup, OTP challenges,
// credential establishment, stage resolution and password login.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"phone-onboarding/backend/internal/audit"
	auditdomain "phone-onboarding/backend/internal/audit/domain"
	"phone-onboarding/backend/internal/identity/domain"
	"phone-onboarding/backend/internal/identity/repository"
	"phone-onboarding/backend/internal/metrics"
	"phone-onboarding/backend/internal/notify"
	"phone-onboarding/backend/internal/ratelimit"
	"phone-onboarding/backend/internal/security"
	"phone-onboarding/backend/internal/telemetry"
)

// ErrLoginDisabled is returned by Login when no signing key is configured.
var ErrLoginDisabled = errors.New("password login not configured")

// maxMutateAttempts bounds the read-apply-write loop under version conflicts.
const maxMutateAttempts = 3

const notifyTimeout = 10 * time.Second

// CodeGenerator produces OTP codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// AuditReader lists persisted audit entries for an identity.
type AuditReader interface {
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*auditdomain.AuditLog, error)
}

// DevCodes returns the code last delivered to a phone. Only set in dev OTP mode.
type DevCodes interface {
	Get(ctx context.Context, phone string) (string, bool)
}

// Deps are the collaborators of Service. Repo, Hasher and Codes are required;
// the rest default to no-ops.
type Deps struct {
	Repo        repository.Repository
	Hasher      security.PasswordHasher
	Codes       CodeGenerator
	Tokens      *security.TokenProvider
	Sender      notify.Sender
	Limiter     ratelimit.Limiter
	Events      telemetry.EventEmitter
	Audit       audit.AuditLogger
	AuditReader AuditReader
	DevCodes    DevCodes
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Options tune the challenge lifecycle.
type Options struct {
	// ChallengeTTL is the window a code stays valid for. Zero means domain.DefaultChallengeTTL.
	ChallengeTTL time.Duration
	// MaxAttempts bounds wrong codes per challenge. Zero disables the bound.
	MaxAttempts int
}

// Service runs the signup workflow against an identity Repository.
type Service struct {
	repo        repository.Repository
	hasher      security.PasswordHasher
	codes       CodeGenerator
	tokens      *security.TokenProvider
	sender      notify.Sender
	limiter     ratelimit.Limiter
	events      telemetry.EventEmitter
	audit       audit.AuditLogger
	auditReader AuditReader
	devCodes    DevCodes
	metrics     *metrics.Metrics
	log         *slog.Logger
	tracer      trace.Tracer

	ttl         time.Duration
	maxAttempts int
	now         func() time.Time

	// wg tracks in-flight OTP deliveries.
	wg sync.WaitGroup
}

// New returns a Service with the given dependencies.
func New(d Deps, opts Options) *Service {
	s := &Service{
		repo:        d.Repo,
		hasher:      d.Hasher,
		codes:       d.Codes,
		tokens:      d.Tokens,
		sender:      d.Sender,
		limiter:     d.Limiter,
		events:      d.Events,
		audit:       d.Audit,
		auditReader: d.AuditReader,
		devCodes:    d.DevCodes,
		metrics:     d.Metrics,
		log:         d.Logger,
		tracer:      otel.Tracer("phone-onboarding/identity"),
		ttl:         opts.ChallengeTTL,
		maxAttempts: opts.MaxAttempts,
		now:         time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = domain.DefaultChallengeTTL
	}
	if s.sender == nil {
		s.sender = notify.LogSender{Logger: d.Logger}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Unlimited{}
	}
	if s.events == nil {
		s.events = telemetry.Nop{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Wait blocks until in-flight OTP deliveries finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns every identity ordered by creation time.
func (s *Service) List(ctx context.Context) ([]*domain.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.List")
	defer span.End()
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.fail(span, persistence(err))
	}
	return list, nil
}

// Get returns the identity with id or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Identity, error) {
	i, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence(err)
	}
	if i == nil {
		return nil, domain.ErrNotFound
	}
	return i, nil
}

// Delete removes the identity. Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "identity.Delete", trace.WithAttributes(attribute.String("identity.id", id)))
	defer span.End()
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.fail(span, persistence(err))
	}
	s.audit.LogEvent(ctx, id, auditdomain.ActionDelete, auditdomain.ResourceIdentity, "")
	s.emit(ctx, telemetry.EventIdentityDeleted, id, nil)
	return nil
}

// DevOTP returns the code last delivered for identity id. It fails with
// domain.ErrNotFound unless dev OTP mode is on.
func (s *Service) DevOTP(ctx context.Context, id string) (string, error) {
	if s.devCodes == nil {
		return "", domain.ErrNotFound
	}
	i, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	code, ok := s.devCodes.Get(ctx, i.Phone)
	if !ok {
		return "", domain.ErrNotFound
	}
	return code, nil
}

// AuditTrail returns up to limit audit entries for id, newest first.
func (s *Service) AuditTrail(ctx context.Context, id string, limit int) ([]*auditdomain.AuditLog, error) {
	if s.auditReader == nil {
		return []*auditdomain.AuditLog{}, nil
	}
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}
	entries, err := s.auditReader.ListByIdentity(ctx, id, limit)
	if err != nil {
		return nil, persistence(err)
	}
	return entries, nil
}

// Ping reports whether the identity store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// transition applies a domain change to i. write reports whether i must be
// persisted; err is returned to the caller after any write.
type transition func(i *domain.Identity) (write bool, err error)

// mutate reads id, applies fn and writes the result with a version check.
// On a version conflict the record is re-read and fn re-applied.
func (s *Service) mutate(ctx context.Context, id string, fn transition) (*domain.Identity, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		i, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, persistence(err)
		}
		if i == nil {
			return nil, domain.ErrNotFound
		}
		write, applyErr := fn(i)
		if !write {
			return i, applyErr
		}
		err = s.repo.Update(ctx, i)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, persistence(err)
		}
		return i, applyErr
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, repository.ErrVersionConflict)
}

// deliver sends code to phone in the background. Failures are logged and counted.
func (s *Service) deliver(ctx context.Context, id, phone, code string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.sender.SendOTP(ctx, phone, code); err != nil {
			s.metrics.NotificationsFailed.Inc()
			s.log.Warn("otp delivery failed", "identity_id", id, "phone", notify.MaskPhone(phone), "error", err)
		}
	}()
}

func (s *Service) emit(ctx context.Context, eventType, id string, attrs map[string]string) {
	if err := s.events.Emit(ctx, telemetry.NewEvent(eventType, id, s.now(), attrs)); err != nil {
		s.log.Warn("event emit failed", "event_type", eventType, "error", err)
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func persistence(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}
