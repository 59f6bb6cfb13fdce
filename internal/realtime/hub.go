package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jobtrackr/apiserver/types"
	"github.com/sirupsen/logrus"
)

// Hub is the process-local channel registry. It tracks every live
// connection, groups them into personal channels keyed by user id, and
// keeps the set of admin connections as a separate audience.
//
// Membership is rebuilt from live connections only: nothing here is
// persisted or shared across server instances.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	users   map[int]map[*Client]bool
	admins  map[*Client]bool
	closed  bool
	log     *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		users:   make(map[int]map[*Client]bool),
		admins:  make(map[*Client]bool),
		log:     log,
	}
}

// Register adds an authenticated connection to its personal channel
// and, if the user's role is admin, to the admin audience. A user with
// several tabs or devices joins the same channel once per connection.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(client.send)
		return
	}

	h.clients[client] = true
	if h.users[client.userID] == nil {
		h.users[client.userID] = make(map[*Client]bool)
	}
	h.users[client.userID][client] = true
	if client.role == types.RoleAdmin {
		h.admins[client] = true
	}

	h.log.WithFields(logrus.Fields{
		"connection_id": client.id,
		"user_id":       client.userID,
		"role":          client.role,
	}).Info("realtime client joined")
}

// Unregister removes a connection from every registry. Membership is
// dropped immediately and never retried; a reconnecting client goes
// through the full handshake again.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	delete(h.admins, client)
	if channel := h.users[client.userID]; channel != nil {
		delete(channel, client)
		if len(channel) == 0 {
			delete(h.users, client.userID)
		}
	}
	close(client.send)

	h.log.WithFields(logrus.Fields{
		"connection_id": client.id,
		"user_id":       client.userID,
	}).Info("realtime client left")
}

// PublishOwnerEvent implements Notifier against local connections.
func (h *Hub) PublishOwnerEvent(ctx context.Context, ownerID int, kind string, payload any) error {
	event, err := types.NewEvent(kind, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.users[ownerID] {
		client.trySend(data)
	}
	return nil
}

// PublishAdminEvent implements Notifier against local connections.
func (h *Hub) PublishAdminEvent(ctx context.Context, kind string, payload any) error {
	event, err := types.NewEvent(kind, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.admins {
		client.trySend(data)
	}
	return nil
}

// ConnectionCounts reports live connections for a user and the admin
// audience size.
func (h *Hub) ConnectionCounts(userID int) (user, admins int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]), len(h.admins)
}

// Close drops every live connection. Used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*Client]bool)
	h.users = make(map[int]map[*Client]bool)
	h.admins = make(map[*Client]bool)
}
