// Package producer publishes workflow events to a message broker.
package producer

import (
	"context"

	"phone-onboarding/backend/internal/telemetry"
)

// Producer emits events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	Emit(ctx context.Context, event *telemetry.Event) error
	// Close flushes and releases resources. Safe to call if already closed.
	Close() error
}
