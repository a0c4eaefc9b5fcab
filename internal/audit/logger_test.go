package audit

import (
	"context"
	"errors"
	"testing"

	"phone-onboarding/backend/internal/audit/domain"
)

type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
	ctxErr    error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	m.ctxErr = ctx.Err()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByIdentity(context.Context, string, int) ([]*domain.AuditLog, error) {
	return m.entries, nil
}

func TestLogger_LogEvent(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, func(context.Context) string { return "192.168.1.1" })

	logger.LogEvent(context.Background(), "id-1", domain.ActionSignup, domain.ResourceIdentity, "phone=******3210")

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.IdentityID != "id-1" || e.Action != domain.ActionSignup || e.Resource != domain.ResourceIdentity {
		t.Errorf("entry = %+v", e)
	}
	if e.IP != "192.168.1.1" {
		t.Errorf("ip = %q", e.IP)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Error("id and created_at must be set")
	}
}

func TestLogger_DefaultIPFromContext(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil)

	logger.LogEvent(WithClientIP(context.Background(), "10.0.0.7"), "", domain.ActionStageResolved, domain.ResourceIdentity, "")
	logger.LogEvent(context.Background(), "", domain.ActionStageResolved, domain.ResourceIdentity, "")

	if repo.entries[0].IP != "10.0.0.7" {
		t.Errorf("ip = %q, want 10.0.0.7", repo.entries[0].IP)
	}
	if repo.entries[1].IP != "unknown" {
		t.Errorf("ip = %q, want unknown", repo.entries[1].IP)
	}
}

func TestLogger_BestEffort(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	NewLogger(repo, nil).LogEvent(context.Background(), "id-1", domain.ActionDelete, domain.ResourceIdentity, "")

	var nilLogger *Logger
	nilLogger.LogEvent(context.Background(), "id-1", domain.ActionDelete, domain.ResourceIdentity, "")
	NewLogger(nil, nil).LogEvent(context.Background(), "id-1", domain.ActionDelete, domain.ResourceIdentity, "")
	Nop{}.LogEvent(context.Background(), "", "", "", "")
}

func TestLogger_SurvivesCancelledRequest(t *testing.T) {
	repo := &mockAuditRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewLogger(repo, nil).LogEvent(ctx, "id-1", domain.ActionDelete, domain.ResourceIdentity, "")
	if len(repo.entries) != 1 || repo.ctxErr != nil {
		t.Errorf("entries = %d, ctx err = %v", len(repo.entries), repo.ctxErr)
	}
}
