package types

import "encoding/json"

// Event kinds pushed to realtime subscribers.
const (
	EventJobCreated        = "jobCreated"
	EventJobUpdated        = "jobUpdated"
	EventJobDeleted        = "jobDeleted"
	EventAdminNotification = "adminNotification"
)

// Event is a transient notification message. It is never persisted;
// delivery is at-most-once and only to currently connected recipients.
type Event struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// AdminNotification is the payload of adminNotification events sent to
// the admin audience when any user mutates a job.
type AdminNotification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewEvent marshals payload into an Event of the given kind.
func NewEvent(kind string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, Payload: data}, nil
}
