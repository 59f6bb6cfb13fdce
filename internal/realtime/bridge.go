package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jobtrackr/apiserver/internal/mq"
	"github.com/sirupsen/logrus"
)

// Event scopes carried in bridge envelopes.
const (
	scopeOwner = "owner"
	scopeAdmin = "admin"
)

// envelope is the broker wire format for a notification event.
type envelope struct {
	Scope   string          `json:"scope"`
	OwnerID int             `json:"ownerId,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge is a Notifier that routes events through a message broker so
// every server instance delivers them to its own local hub. Behind the
// same interface as the hub, it is the multi-instance deployment
// strategy for the otherwise process-local channel registry.
type Bridge struct {
	mq      *mq.MQ
	hub     *Hub
	channel string
	log     *logrus.Logger
}

// NewBridge constructs a Bridge publishing on the named broker channel.
func NewBridge(queue *mq.MQ, hub *Hub, channel string, log *logrus.Logger) *Bridge {
	return &Bridge{mq: queue, hub: hub, channel: channel, log: log}
}

// PublishOwnerEvent implements Notifier by publishing to the broker.
func (b *Bridge) PublishOwnerEvent(ctx context.Context, ownerID int, kind string, payload any) error {
	return b.publish(ctx, envelope{Scope: scopeOwner, OwnerID: ownerID, Kind: kind}, payload)
}

// PublishAdminEvent implements Notifier by publishing to the broker.
func (b *Bridge) PublishAdminEvent(ctx context.Context, kind string, payload any) error {
	return b.publish(ctx, envelope{Scope: scopeAdmin, Kind: kind}, payload)
}

func (b *Bridge) publish(ctx context.Context, env envelope, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env.Payload = data

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := b.mq.Publish(ctx, b.channel, raw, map[string]string{"scope": env.Scope}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Run consumes broker messages and replays them into the local hub.
// It blocks until ctx is cancelled; the server runs it in its own
// goroutine.
func (b *Bridge) Run(ctx context.Context) error {
	return b.mq.Subscribe(ctx, b.channel, func(ctx context.Context, msg mq.Message) error {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			// Malformed events are dropped, not redelivered.
			b.log.WithError(err).Warn("dropping malformed notification envelope")
			return nil
		}

		switch env.Scope {
		case scopeOwner:
			return b.hub.PublishOwnerEvent(ctx, env.OwnerID, env.Kind, env.Payload)
		case scopeAdmin:
			return b.hub.PublishAdminEvent(ctx, env.Kind, env.Payload)
		default:
			b.log.WithField("scope", env.Scope).Warn("dropping notification with unknown scope")
			return nil
		}
	})
}

// Close releases the broker connection.
func (b *Bridge) Close() error {
	return b.mq.Close()
}
