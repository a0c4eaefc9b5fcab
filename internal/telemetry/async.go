package telemetry

import (
	"context"
	"log"
	"sync"
	"time"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// Async runs every Emit of the wrapped emitter in its own goroutine so the
// caller is never blocked. Request cancellation does not abort an in-flight emit.
type Async struct {
	emitter EventEmitter
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps emitter. A nil emitter yields an Async that drops events.
func NewAsync(emitter EventEmitter) *Async {
	return &Async{emitter: emitter, timeout: emitTimeout}
}

// Emit schedules event and returns nil immediately; failures are logged.
func (a *Async) Emit(_ context.Context, event *Event) error {
	if a == nil || a.emitter == nil || event == nil {
		return nil
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.emitter.Emit(ctx, event); err != nil {
			log.Printf("telemetry: async emit %s failed: %v", event.Type, err)
		}
	}()
	return nil
}

// Drain waits for in-flight emits or until ctx is done.
func (a *Async) Drain(ctx context.Context) error {
	if a == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
