package repository

import (
	"context"
	"sort"
	"sync"

	"phone-onboarding/backend/internal/identity/domain"
)

// MemoryRepository is an in-process Repository. Records are copied on the way
// in and out so callers never share state with the store.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.Identity
	byPhone map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.Identity),
		byPhone: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPhone[i.Phone]; ok {
		return domain.ErrPhoneTaken
	}
	if _, ok := r.byID[i.ID]; ok {
		return ErrVersionConflict
	}
	r.byID[i.ID] = clone(i)
	r.byPhone[i.Phone] = i.ID
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[id]; ok {
		return clone(i), nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetByPhone(_ context.Context, phone string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byPhone[phone]; ok {
		return clone(r.byID[id]), nil
	}
	return nil, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*domain.Identity, error) {
	r.mu.Lock()
	out := make([]*domain.Identity, 0, len(r.byID))
	for _, i := range r.byID {
		out = append(out, clone(i))
	}
	r.mu.Unlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[i.ID]
	if !ok || cur.Version != i.Version {
		return ErrVersionConflict
	}
	next := clone(i)
	next.Phone = cur.Phone
	next.CreatedAt = cur.CreatedAt
	next.Version++
	r.byID[i.ID] = next
	i.Version = next.Version
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[id]; ok {
		delete(r.byPhone, i.Phone)
		delete(r.byID, id)
	}
	return nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func clone(i *domain.Identity) *domain.Identity {
	c := *i
	if i.VerifiedAt != nil {
		t := *i.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}
