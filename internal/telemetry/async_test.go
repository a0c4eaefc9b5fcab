package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	ctxErrs []error
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func drain(t *testing.T, a *Async) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestAsync_NilEmitterAndEvent(t *testing.T) {
	if err := NewAsync(nil).Emit(context.Background(), NewEvent(EventIdentityCreated, "id", time.Now(), nil)); err != nil {
		t.Fatal(err)
	}
	m := &mockEventEmitter{}
	a := NewAsync(m)
	_ = a.Emit(context.Background(), nil)
	drain(t, a)
	if len(m.getEvents()) != 0 {
		t.Error("nil event should not be emitted")
	}
	var nilAsync *Async
	_ = nilAsync.Emit(context.Background(), &Event{})
	_ = nilAsync.Drain(context.Background())
}

func TestAsync_EmitsWithFreshContext(t *testing.T) {
	m := &mockEventEmitter{}
	a := NewAsync(m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_ = a.Emit(ctx, NewEvent(EventChallengeIssued, "id-1", time.Now(), nil))
	}
	drain(t, a)

	events := m.getEvents()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for _, err := range m.ctxErrs {
		if err != nil {
			t.Errorf("emit context should not inherit request cancellation: %v", err)
		}
	}
}

func TestAsync_ErrorIsSwallowed(t *testing.T) {
	a := NewAsync(&mockEventEmitter{emitErr: errors.New("broker down")})
	if err := a.Emit(context.Background(), NewEvent(EventLoginFailed, "", time.Now(), nil)); err != nil {
		t.Errorf("Emit should not surface async errors: %v", err)
	}
	drain(t, a)
}

func TestAsync_Timeout(t *testing.T) {
	m := &mockEventEmitter{delay: time.Second}
	a := NewAsync(m)
	a.timeout = 20 * time.Millisecond
	_ = a.Emit(context.Background(), NewEvent(EventLoginFailed, "", time.Now(), nil))
	drain(t, a)
	if len(m.getEvents()) != 0 {
		t.Error("slow emit should have been cut off by the timeout")
	}
}

func TestAsync_DrainHonoursContext(t *testing.T) {
	a := NewAsync(&mockEventEmitter{delay: 200 * time.Millisecond})
	_ = a.Emit(context.Background(), NewEvent(EventLoginFailed, "", time.Now(), nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := a.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain = %v, want DeadlineExceeded", err)
	}
}

func TestMulti(t *testing.T) {
	a, b := &mockEventEmitter{}, &mockEventEmitter{emitErr: errors.New("b failed")}
	ev := NewEvent(EventCredentialSet, "id-1", time.Now(), map[string]string{"hasher": "argon2id"})
	err := Multi{a, nil, b}.Emit(context.Background(), ev)
	if err == nil || err.Error() != "b failed" {
		t.Errorf("Multi err = %v", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("every emitter should receive the event")
	}
	if err := (Nop{}).Emit(context.Background(), ev); err != nil {
		t.Error(err)
	}
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("IST", 19800))
	ev := NewEvent(EventIdentityCreated, "id-1", now, nil)
	if ev.ID == "" || ev.Source != SourceIdentityService || ev.Type != EventIdentityCreated {
		t.Errorf("event = %+v", ev)
	}
	if ev.CreatedAt.Location() != time.UTC || !ev.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want UTC of %v", ev.CreatedAt, now)
	}
}
