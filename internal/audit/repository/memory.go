package repository

import (
	"context"
	"sync"

	"phone-onboarding/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	r.entries = append(r.entries, *a)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByIdentity(_ context.Context, identityID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for n := len(r.entries) - 1; n >= 0 && (limit <= 0 || len(out) < limit); n-- {
		if r.entries[n].IdentityID == identityID {
			a := r.entries[n]
			out = append(out, &a)
		}
	}
	return out, nil
}
