package redisc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/flowrooms/server/internal/models"
)

const messageChannelPrefix = "room:messages:"

// Publisher fans room messages out to every server instance.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, messageChannelPrefix+msg.RoomID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// SubscribeMessages delivers every published room message to handler until
// ctx is done.
func SubscribeMessages(ctx context.Context, client *redis.Client, handler func(models.Message)) error {
	pubsub := client.PSubscribe(ctx, messageChannelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m models.Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Warn().Str("module", "redis").Str("channel", msg.Channel).Err(err).Msg("dropping malformed message")
				continue
			}
			if m.RoomID == "" {
				m.RoomID = strings.TrimPrefix(msg.Channel, messageChannelPrefix)
			}
			handler(m)
		}
	}
}
