package presence

import (
	"context"
	"sync"
	"time"

	"github.com/flowrooms/server/internal/models"
)

// MemoryStore keeps presence in process. It is the default when no Redis is
// configured.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]models.PresenceEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]models.PresenceEntry)}
}

func (s *MemoryStore) Put(_ context.Context, e models.PresenceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[e.RoomID]
	if !ok {
		room = make(map[string]models.PresenceEntry)
		s.rooms[e.RoomID] = room
	}
	if prev, ok := room[e.UserID]; ok {
		e.JoinedAt = prev.JoinedAt
	}
	room[e.UserID] = e
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, roomID string) ([]models.PresenceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.rooms[roomID]
	out := make([]models.PresenceEntry, 0, len(room))
	for _, e := range room {
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Evict(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for roomID, room := range s.rooms {
		for userID, e := range room {
			if !e.LastHeartbeat.After(before) {
				delete(room, userID)
				n++
			}
		}
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
	return n, nil
}
