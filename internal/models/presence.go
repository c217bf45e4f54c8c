package models

import "time"

// PresenceEntry is a liveness record. It is never used for capacity decisions.
type PresenceEntry struct {
	UserID        string    `json:"user_id"`
	Alias         string    `json:"alias"`
	RoomID        string    `json:"room_id"`
	JoinedAt      time.Time `json:"joined_at"`
	LastHeartbeat time.Time `json:"last_seen"`
}

// Identity is what the authentication collaborator hands us for a session.
type Identity struct {
	UserID string
	Alias  string
}
