package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jobtrackr/apiserver/internal/auth"
	"github.com/jobtrackr/apiserver/types"
	"github.com/sirupsen/logrus"
)

// How long a freshly upgraded connection has to present its token.
const handshakeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth happens via the token frame, not the Origin header.
		return true
	},
}

// UserLoader loads the current user record during the handshake.
type UserLoader interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// Handler authenticates WebSocket connections and hands them to the hub.
type Handler struct {
	hub    *Hub
	tokens *auth.TokenService
	users  UserLoader
	log    *logrus.Logger
}

// NewHandler constructs the realtime handshake handler.
func NewHandler(hub *Hub, tokens *auth.TokenService, users UserLoader, log *logrus.Logger) *Handler {
	return &Handler{hub: hub, tokens: tokens, users: users, log: log}
}

type authFrame struct {
	Token string `json:"token"`
}

// HandleConnection upgrades the request and runs the handshake: the
// client's first frame must carry {"token": "..."}. The token is
// verified and the user record freshly loaded, so a deleted account or
// a role change is seen at join time regardless of what the token
// claims. Success is silent; failure closes the connection.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	user, err := h.authenticate(r, conn)
	if err != nil {
		h.log.WithError(err).Info("realtime handshake rejected")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
		return
	}

	client := NewClient(h.hub, conn, user.ID, user.Role, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) authenticate(r *http.Request, conn *websocket.Conn) (types.User, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	conn.SetReadLimit(maxMessageSize)

	_, data, err := conn.ReadMessage()
	if err != nil {
		return types.User{}, errors.New("no auth frame")
	}

	var frame authFrame
	if err := json.Unmarshal(data, &frame); err != nil || strings.TrimSpace(frame.Token) == "" {
		return types.User{}, errors.New("missing token")
	}

	claims, err := h.tokens.Verify(frame.Token)
	if err != nil {
		return types.User{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return types.User{}, err
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		return types.User{}, errors.New("user not found")
	}
	return user, nil
}
