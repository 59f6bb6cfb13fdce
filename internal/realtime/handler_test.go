package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jobtrackr/apiserver/internal/auth"
	"github.com/jobtrackr/apiserver/types"
)

type fakeLoader struct {
	users map[int]types.User
}

func (f *fakeLoader) GetByID(ctx context.Context, id int) (types.User, error) {
	user, ok := f.users[id]
	if !ok {
		return types.User{}, errors.New("not found")
	}
	return user, nil
}

type wsEnv struct {
	hub    *Hub
	tokens *auth.TokenService
	loader *fakeLoader
	server *httptest.Server
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	hub := NewHub(testLogger())
	loader := &fakeLoader{users: make(map[int]types.User)}
	handler := NewHandler(hub, tokens, loader, testLogger())

	server := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))
	t.Cleanup(func() {
		server.Close()
		hub.Close()
	})

	return &wsEnv{hub: hub, tokens: tokens, loader: loader, server: server}
}

func (e *wsEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *wsEnv) addUser(t *testing.T, id int, role string) (types.User, string) {
	t.Helper()
	user := types.User{ID: id, Email: "u@example.com", Role: role}
	e.loader.users[id] = user
	token, err := e.tokens.Issue(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

// join completes the handshake and waits for hub membership.
func (e *wsEnv) join(t *testing.T, conn *websocket.Conn, token string, userID, wantConns int) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"token": token}); err != nil {
		t.Fatalf("send auth frame: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if conns, _ := e.hub.ConnectionCounts(userID); conns >= wantConns {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection for user %d never joined", userID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event types.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return event
}

func expectPolicyClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("read after bad handshake: err = %v, want policy violation close", err)
	}
}

func TestHandshakeDeliversOwnerEvents(t *testing.T) {
	env := newWSEnv(t)
	user, token := env.addUser(t, 1, types.RoleApplicant)

	conn := env.dial(t)
	env.join(t, conn, token, user.ID, 1)

	if err := env.hub.PublishOwnerEvent(context.Background(), user.ID, types.EventJobCreated, map[string]string{"company": "Acme"}); err != nil {
		t.Fatalf("PublishOwnerEvent: %v", err)
	}

	event := readEvent(t, conn)
	if event.Kind != types.EventJobCreated {
		t.Errorf("kind = %q, want jobCreated", event.Kind)
	}
}

func TestHandshakeSecondTabJoinsSameChannel(t *testing.T) {
	env := newWSEnv(t)
	user, token := env.addUser(t, 1, types.RoleApplicant)

	first := env.dial(t)
	env.join(t, first, token, user.ID, 1)
	second := env.dial(t)
	env.join(t, second, token, user.ID, 2)

	if err := env.hub.PublishOwnerEvent(context.Background(), user.ID, types.EventJobUpdated, "x"); err != nil {
		t.Fatalf("PublishOwnerEvent: %v", err)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		if event := readEvent(t, conn); event.Kind != types.EventJobUpdated {
			t.Errorf("kind = %q, want jobUpdated", event.Kind)
		}
	}
}

func TestHandshakeAdminJoinsAdminAudience(t *testing.T) {
	env := newWSEnv(t)
	admin, token := env.addUser(t, 1, types.RoleAdmin)

	conn := env.dial(t)
	env.join(t, conn, token, admin.ID, 1)

	if err := env.hub.PublishAdminEvent(context.Background(), types.EventAdminNotification, types.AdminNotification{Type: "newJob", Message: "hi"}); err != nil {
		t.Fatalf("PublishAdminEvent: %v", err)
	}

	if event := readEvent(t, conn); event.Kind != types.EventAdminNotification {
		t.Errorf("kind = %q, want adminNotification", event.Kind)
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	env := newWSEnv(t)

	conn := env.dial(t)
	if err := conn.WriteJSON(map[string]string{"token": "garbage"}); err != nil {
		t.Fatalf("send auth frame: %v", err)
	}
	expectPolicyClose(t, conn)
}

func TestHandshakeRejectsMalformedFrame(t *testing.T) {
	env := newWSEnv(t)

	conn := env.dial(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	expectPolicyClose(t, conn)
}

// A valid token whose account no longer exists fails the handshake:
// the record is loaded fresh at join time.
func TestHandshakeRejectsDeletedUser(t *testing.T) {
	env := newWSEnv(t)
	user, token := env.addUser(t, 1, types.RoleApplicant)
	delete(env.loader.users, user.ID)

	conn := env.dial(t)
	if err := conn.WriteJSON(map[string]string{"token": token}); err != nil {
		t.Fatalf("send auth frame: %v", err)
	}
	expectPolicyClose(t, conn)
}

func TestDisconnectLeavesChannel(t *testing.T) {
	env := newWSEnv(t)
	user, token := env.addUser(t, 1, types.RoleApplicant)

	conn := env.dial(t)
	env.join(t, conn, token, user.ID, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if conns, _ := env.hub.ConnectionCounts(user.ID); conns == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never left the hub after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
