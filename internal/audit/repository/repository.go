package repository

import (
	"context"

	"phone-onboarding/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByIdentity returns the newest entries first, at most limit.
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuditLog, error)
}
