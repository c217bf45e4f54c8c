package chat

import (
	"encoding/json"

	"github.com/flowrooms/server/internal/models"
)

const (
	TypeHeartbeat   = "heartbeat"
	TypeMessageSend = "message.send"
	TypePing        = "ping"

	TypeMessageNew     = "message.new"
	TypePresenceUpdate = "presence.update"
	TypeError          = "error"
	TypePong           = "pong"
)

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	Body string `json:"body"`
}

type PresenceUpdatePayload struct {
	RoomID    string                 `json:"room_id"`
	Occupants []models.PresenceEntry `json:"occupants"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func NewWSMessage(msgType string, payload interface{}) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	msg := WSMessage{Type: msgType, Payload: p}
	return json.Marshal(msg)
}
