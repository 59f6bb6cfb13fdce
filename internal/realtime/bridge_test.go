package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/jobtrackr/apiserver/internal/mq"
	"github.com/jobtrackr/apiserver/types"
)

// loopbackBackend is an in-process broker: everything published on a
// channel is handed to that channel's subscriber.
type loopbackBackend struct {
	messages chan mq.Message
	nextID   int
}

func newLoopbackBackend() *loopbackBackend {
	return &loopbackBackend{messages: make(chan mq.Message, 16)}
}

func (b *loopbackBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.nextID++
	id := strconv.Itoa(b.nextID)
	b.messages <- mq.Message{ID: id, Data: data, Attributes: attrs}
	return id, nil
}

func (b *loopbackBackend) Subscribe(ctx context.Context, channel string, handler mq.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.messages:
			_ = handler(ctx, msg)
		}
	}
}

func (b *loopbackBackend) Close() error { return nil }

func newBridgeEnv(t *testing.T) (*Bridge, *Hub, *loopbackBackend) {
	t.Helper()

	hub := NewHub(testLogger())
	backend := newLoopbackBackend()
	bridge := NewBridge(mq.New(backend), hub, "notifications", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		hub.Close()
	})

	return bridge, hub, backend
}

func waitEvent(t *testing.T, c *Client) types.Event {
	t.Helper()
	select {
	case data := <-c.send:
		var event types.Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered through bridge")
		return types.Event{}
	}
}

func TestBridgeDeliversOwnerEvents(t *testing.T) {
	bridge, hub, _ := newBridgeEnv(t)

	owner := testClient(hub, 1, types.RoleApplicant)
	other := testClient(hub, 2, types.RoleApplicant)
	hub.Register(owner)
	hub.Register(other)

	job := types.Job{ID: 5, Company: "Acme", RoleTitle: "Engineer", UserID: 1}
	if err := bridge.PublishOwnerEvent(context.Background(), 1, types.EventJobCreated, job); err != nil {
		t.Fatalf("PublishOwnerEvent: %v", err)
	}

	event := waitEvent(t, owner)
	if event.Kind != types.EventJobCreated {
		t.Errorf("kind = %q, want jobCreated", event.Kind)
	}
	var got types.Job
	if err := json.Unmarshal(event.Payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Company != "Acme" || got.ID != 5 {
		t.Errorf("payload = %+v", got)
	}
	assertNoEvent(t, other)
}

func TestBridgeDeliversAdminEvents(t *testing.T) {
	bridge, hub, _ := newBridgeEnv(t)

	admin := testClient(hub, 1, types.RoleAdmin)
	applicant := testClient(hub, 2, types.RoleApplicant)
	hub.Register(admin)
	hub.Register(applicant)

	notification := types.AdminNotification{Type: "jobDelete", Message: "Job deleted"}
	if err := bridge.PublishAdminEvent(context.Background(), types.EventAdminNotification, notification); err != nil {
		t.Fatalf("PublishAdminEvent: %v", err)
	}

	event := waitEvent(t, admin)
	if event.Kind != types.EventAdminNotification {
		t.Errorf("kind = %q, want adminNotification", event.Kind)
	}
	assertNoEvent(t, applicant)
}

// Garbage on the broker channel is logged and dropped; the subscription
// keeps running and later events still arrive.
func TestBridgeDropsMalformedEnvelopes(t *testing.T) {
	bridge, hub, backend := newBridgeEnv(t)

	owner := testClient(hub, 1, types.RoleApplicant)
	hub.Register(owner)

	if _, err := backend.Publish(context.Background(), "notifications", []byte("{broken"), nil); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	if _, err := backend.Publish(context.Background(), "notifications", []byte(`{"scope":"galaxy","kind":"x","payload":null}`), nil); err != nil {
		t.Fatalf("publish unknown scope: %v", err)
	}

	if err := bridge.PublishOwnerEvent(context.Background(), 1, types.EventJobDeleted, "5"); err != nil {
		t.Fatalf("PublishOwnerEvent: %v", err)
	}

	event := waitEvent(t, owner)
	if event.Kind != types.EventJobDeleted {
		t.Errorf("kind = %q, want jobDeleted", event.Kind)
	}
}
