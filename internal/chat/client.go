package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/flowrooms/server/internal/auth"
	"github.com/flowrooms/server/internal/engine"
	"github.com/flowrooms/server/internal/models"
	"github.com/flowrooms/server/internal/presence"
	"github.com/flowrooms/server/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	opTimeout      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Services are the room operations a socket may drive.
type Services struct {
	Engine   *engine.Engine
	Presence *presence.Tracker
	Relay    *relay.Relay
}

type Client struct {
	id       string
	hub      *Hub
	svc      Services
	conn     *websocket.Conn
	identity models.Identity
	roomID   string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// ServeWS upgrades a connection for the caller's current room. The token and
// room travel as query parameters since browsers cannot set headers on a
// websocket handshake.
func ServeWS(hub *Hub, svc Services, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		claims, err := auth.ValidateToken(token, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		roomID := r.URL.Query().Get("room")
		if roomID == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}
		if err := svc.Engine.RequireMember(r.Context(), claims.UserID, roomID); err != nil {
			switch models.KindOf(err) {
			case models.KindNotFound:
				http.Error(w, "room not found", http.StatusNotFound)
			case models.KindValidation:
				http.Error(w, "not a member of this room", http.StatusForbidden)
			default:
				http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			}
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Str("module", "chat").Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			id:       uuid.NewString(),
			hub:      hub,
			svc:      svc,
			conn:     conn,
			identity: claims.Identity(),
			roomID:   roomID,
			send:     make(chan []byte, 256),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		go client.writePump()
		go client.forwardPresence(ctx)
		go client.readPump(cancel)
	}
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Str("module", "chat").Str("user", c.identity.UserID).Err(err).Msg("ws read error")
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError(models.Validation("chat.read", "malformed message"))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardPresence pushes the room's occupant list whenever it changes.
func (c *Client) forwardPresence(ctx context.Context) {
	for snap := range c.svc.Presence.Subscribe(ctx, c.roomID) {
		data, err := NewWSMessage(TypePresenceUpdate, PresenceUpdatePayload{RoomID: c.roomID, Occupants: snap})
		if err != nil {
			continue
		}
		c.trySend(data)
	}
}

func (c *Client) handleMessage(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch msg.Type {
	case TypeHeartbeat:
		if !c.stillMember(ctx) {
			return
		}
		if err := c.svc.Presence.Heartbeat(ctx, c.roomID, c.identity); err != nil {
			c.sendError(err)
		}
	case TypeMessageSend:
		var payload SendMessagePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(models.Validation("chat.send", "invalid payload"))
			return
		}
		if !c.stillMember(ctx) {
			return
		}
		if _, err := c.svc.Relay.Append(ctx, c.roomID, c.identity.UserID, c.identity.Alias, payload.Body); err != nil {
			c.sendError(err)
		}
	case TypePing:
		data, _ := NewWSMessage(TypePong, nil)
		c.trySend(data)
	default:
		c.sendError(models.Validation("chat.read", "unknown message type %q", msg.Type))
	}
}

// stillMember re-checks the membership the socket was opened under. Once the
// user has left, the error is sent and the socket closed.
func (c *Client) stillMember(ctx context.Context) bool {
	err := c.svc.Engine.RequireMember(ctx, c.identity.UserID, c.roomID)
	if err == nil {
		return true
	}
	c.sendError(err)
	if models.IsRetryable(err) {
		return false
	}
	log.Info().Str("module", "chat").Str("user", c.identity.UserID).Str("room", c.roomID).Msg("closing socket after leave")
	c.close()
	return false
}

func (c *Client) sendError(err error) {
	msg := "internal error"
	var e *models.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	data, _ := NewWSMessage(TypeError, ErrorPayload{
		Message:   msg,
		Code:      models.KindOf(err).String(),
		Retryable: models.IsRetryable(err),
	})
	c.trySend(data)
}
