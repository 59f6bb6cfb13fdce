// Package realtime implements the notification fabric: authenticated
// WebSocket connections grouped into per-user channels plus an admin
// audience, and best-effort fan-out of mutation events to them.
package realtime

import "context"

// Notifier routes domain events to live subscribers. Delivery is
// fire-and-forget: no acks, no retries, no persistence. The REST
// response is the authoritative acknowledgment of a mutation; these
// events are a convenience mirror.
type Notifier interface {
	// PublishOwnerEvent delivers an event to every live connection in
	// the owner's personal channel. No-op if the owner has none.
	PublishOwnerEvent(ctx context.Context, ownerID int, kind string, payload any) error

	// PublishAdminEvent delivers an event to every connection in the
	// admin audience, including the admin who triggered the action.
	PublishAdminEvent(ctx context.Context, kind string, payload any) error
}
