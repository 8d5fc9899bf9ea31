package ports

import (
	"context"

	"sniperswing/internal/domain"
)

// Notifier delivers structured lifecycle events to an external channel.
// Emit is fire-and-forget: implementations must never block the caller on
// delivery and the core never fails a state transition on notification
// errors.
type Notifier interface {
	Emit(ctx context.Context, kind domain.EventKind, payload map[string]interface{})
}
