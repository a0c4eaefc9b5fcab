package notify

import (
	"context"
	"sync"
	"time"
)

type devEntry struct {
	code      string
	expiresAt time.Time
}

// DevStore is a Sender that keeps the latest code per phone in memory instead
// of delivering it, so local clients can fetch it from GET /dev/otp/{id}.
// Never wired when APP_ENV=production.
type DevStore struct {
	mu   sync.RWMutex
	m    map[string]devEntry
	ttl  time.Duration
	nowF func() time.Time
}

// NewDevStore returns a store whose entries live for ttl after delivery.
func NewDevStore(ttl time.Duration) *DevStore {
	return &DevStore{
		m:    make(map[string]devEntry),
		ttl:  ttl,
		nowF: time.Now,
	}
}

// SendOTP stores code for phone, replacing any previous code.
func (s *DevStore) SendOTP(ctx context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[phone] = devEntry{code: code, expiresAt: s.nowF().Add(s.ttl)}
	return nil
}

// Get returns the code last sent to phone if present and not expired.
func (s *DevStore) Get(ctx context.Context, phone string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[phone]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.nowF().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.m, phone)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}
