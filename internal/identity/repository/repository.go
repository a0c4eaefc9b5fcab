package repository

import (
	"context"
	"errors"

	"phone-onboarding/backend/internal/identity/domain"
)

// ErrVersionConflict is returned by Update when the stored version no longer
// matches the version the caller read. The record may also have been deleted.
var ErrVersionConflict = errors.New("identity version conflict")

// Repository defines persistence for identities.
//
// Reads return (nil, nil) when no record matches. Create returns
// domain.ErrPhoneTaken when the phone is already registered.
type Repository interface {
	Create(ctx context.Context, i *domain.Identity) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Identity, error)
	List(ctx context.Context) ([]*domain.Identity, error)
	// Update writes i if the stored version equals i.Version and bumps i.Version on success.
	Update(ctx context.Context, i *domain.Identity) error
	// Delete removes the record; deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
