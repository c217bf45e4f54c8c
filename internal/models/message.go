package models

import "time"

const (
	MaxBodyLen     = 200
	AnonymousAlias = "Anonymous"
)

type Message struct {
	ID           int64     `json:"id"`
	RoomID       string    `json:"room_id"`
	SenderUserID string    `json:"sender_user_id"`
	SenderAlias  string    `json:"sender_alias"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}
