package models

import "time"

const (
	DefaultSoftCap = 8
	DefaultHardCap = 12
)

type Room struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Name      string    `json:"name"`
	Occupancy int       `json:"user_count"`
	SoftCap   int       `json:"soft_cap"`
	HardCap   int       `json:"hard_cap"`
	CreatedAt time.Time `json:"created_at"`
}

// Available reports whether nextRoom may still offer the room to new arrivals.
func (r Room) Available() bool {
	return r.Occupancy < r.SoftCap
}

// Full reports whether join must be refused.
func (r Room) Full() bool {
	return r.Occupancy >= r.HardCap
}

type Membership struct {
	UserID   string    `json:"user_id"`
	RoomID   string    `json:"room_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// NextRoomResult is the answer to "the next room after seq N". Room is nil
// only when IsEndOfFlow is set.
type NextRoomResult struct {
	Room        *Room  `json:"room,omitempty"`
	IsEndOfFlow bool   `json:"end_of_flow"`
	IsNewRoom   bool   `json:"new_room"`
	Message     string `json:"message,omitempty"`
}
