// Package relay is the per-room message log: append, bounded reads, and
// expiry of old messages.
package relay

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/flowrooms/server/internal/database"
	"github.com/flowrooms/server/internal/models"
)

const (
	DefaultLimit    = 50
	MaxLimit        = 100
	DefaultTTL      = 24 * time.Hour
	DefaultInterval = time.Minute
)

type Store interface {
	CreateMessage(ctx context.Context, m models.Message) (models.Message, error)
	GetMessages(ctx context.Context, q database.MessageQuery) ([]models.Message, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher pushes appended messages to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg models.Message) error
}

type Config struct {
	TTL           time.Duration
	MaxBodyLen    int
	PurgeInterval time.Duration
}

type Relay struct {
	store     Store
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

func New(store Store, publisher Publisher, cfg Config) *Relay {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxBodyLen <= 0 {
		cfg.MaxBodyLen = models.MaxBodyLen
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = DefaultInterval
	}
	return &Relay{store: store, publisher: publisher, cfg: cfg, now: time.Now}
}

// Append stores body in roomID's log and publishes it. An empty alias is
// stored as "Anonymous".
func (r *Relay) Append(ctx context.Context, roomID, senderUserID, senderAlias, body string) (models.Message, error) {
	const op = "relay.append"
	if strings.TrimSpace(body) == "" {
		return models.Message{}, models.Validation(op, "message body must not be empty")
	}
	if n := utf8.RuneCountInString(body); n > r.cfg.MaxBodyLen {
		return models.Message{}, models.Validation(op, "message body is %d characters, limit is %d", n, r.cfg.MaxBodyLen)
	}
	if roomID == "" {
		return models.Message{}, models.Validation(op, "room id is required")
	}
	alias := strings.TrimSpace(senderAlias)
	if alias == "" {
		alias = models.AnonymousAlias
	}

	msg, err := r.store.CreateMessage(ctx, models.Message{
		RoomID:       roomID,
		SenderUserID: senderUserID,
		SenderAlias:  alias,
		Body:         body,
		CreatedAt:    r.now(),
	})
	if err != nil {
		return models.Message{}, err
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			log.Warn().Str("module", "relay").Str("room", roomID).Int64("message", msg.ID).Err(err).Msg("publish failed")
		}
	}
	return msg, nil
}

// Read returns the newest limit live messages in ascending order.
func (r *Relay) Read(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	return r.read(ctx, roomID, 0, limit)
}

// ReadAfter returns up to limit live messages with id greater than afterID.
func (r *Relay) ReadAfter(ctx context.Context, roomID string, afterID int64, limit int) ([]models.Message, error) {
	if afterID < 0 {
		return nil, models.Validation("relay.read_after", "after must not be negative")
	}
	return r.read(ctx, roomID, afterID, limit)
}

func (r *Relay) read(ctx context.Context, roomID string, afterID int64, limit int) ([]models.Message, error) {
	return r.store.GetMessages(ctx, database.MessageQuery{
		RoomID:  roomID,
		Since:   r.now().Add(-r.cfg.TTL),
		AfterID: afterID,
		Limit:   clampLimit(limit),
	})
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func (r *Relay) PurgeExpired(ctx context.Context) (int64, error) {
	return r.store.DeleteMessagesBefore(ctx, r.now().Add(-r.cfg.TTL))
}

// Run purges expired messages on an interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Str("module", "relay").Err(err).Msg("purge failed")
				continue
			}
			if n > 0 {
				log.Info().Str("module", "relay").Int64("deleted", n).Msg("purged expired messages")
			}
		}
	}
}
