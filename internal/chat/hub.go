package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/flowrooms/server/internal/models"
)

type broadcastMessage struct {
	RoomID string
	Data   []byte
}

// Hub fans room events out to the websocket clients connected to this
// process. With Redis configured it is fed by the pub/sub subscription
// instead of by the relay directly.
type Hub struct {
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.roomID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.roomID] = room
			}
			room[client] = true
			h.mu.Unlock()
			log.Info().Str("module", "chat").Str("user", client.identity.UserID).Str("room", client.roomID).Str("conn", client.id).Msg("client connected")

		case client := <-h.unregister:
			h.remove(client)
			log.Info().Str("module", "chat").Str("user", client.identity.UserID).Str("room", client.roomID).Str("conn", client.id).Msg("client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.rooms[msg.RoomID] {
				if !client.trySend(msg.Data) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				log.Warn().Str("module", "chat").Str("user", client.identity.UserID).Msg("dropping slow client")
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[client.roomID]
	if _, ok := room[client]; ok {
		delete(room, client)
		client.close()
		if len(room) == 0 {
			delete(h.rooms, client.roomID)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, room := range h.rooms {
		for client := range room {
			client.close()
		}
		delete(h.rooms, roomID)
	}
}

// Publish queues msg for every client in its room. It satisfies the relay's
// publisher.
func (h *Hub) Publish(ctx context.Context, msg models.Message) error {
	data, err := NewWSMessage(TypeMessageNew, msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &broadcastMessage{RoomID: msg.RoomID, Data: data}:
		return nil
	case <-h.done:
		return errors.New("hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver is the handler for messages arriving from Redis pub/sub.
func (h *Hub) Deliver(msg models.Message) {
	if err := h.Publish(context.Background(), msg); err != nil {
		log.Warn().Str("module", "chat").Err(err).Msg("deliver failed")
	}
}

func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
