package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/flowrooms/server/internal/models"
)

type SessionConfig struct {
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	// ErrorBackoff replaces PollInterval after a failed poll.
	ErrorBackoff time.Duration
	PageSize     int
}

func (c *SessionConfig) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
}

// Session holds a joined room and keeps it alive: it heartbeats and polls
// for new messages until Close.
type Session struct {
	client   *Client
	room     models.Room
	cfg      SessionConfig
	messages chan models.Message

	cancel    context.CancelFunc
	wg        conc.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Enter joins roomID and starts the session loops. Messages already in the
// room's window are delivered first.
func (c *Client) Enter(ctx context.Context, roomID string, cfg SessionConfig) (*Session, error) {
	cfg.setDefaults()
	room, err := c.Join(ctx, roomID)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:   c,
		room:     room,
		cfg:      cfg,
		messages: make(chan models.Message, cfg.PageSize),
		cancel:   cancel,
	}
	s.wg.Go(func() { s.heartbeatLoop(loopCtx) })
	s.wg.Go(func() { s.pollLoop(loopCtx) })
	return s, nil
}

func (s *Session) Room() models.Room { return s.room }

// Messages is closed by Close. A message is never delivered twice.
func (s *Session) Messages() <-chan models.Message { return s.messages }

// Close stops the loops, waits for them and leaves the room. Nothing is sent
// on the session's behalf after Close returns.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.messages)
		s.closeErr = s.client.Leave(ctx, s.room.ID)
	})
	return s.closeErr
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		if err := s.client.Heartbeat(ctx, s.room.ID); err != nil && ctx.Err() == nil {
			log.Warn().Str("module", "client").Str("room", s.room.ID).Err(err).Msg("heartbeat failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) pollLoop(ctx context.Context) {
	var lastID int64
	first := true
	for {
		var (
			batch []models.Message
			err   error
		)
		if first {
			batch, err = s.client.Messages(ctx, s.room.ID, s.cfg.PageSize)
		} else {
			batch, err = s.client.MessagesAfter(ctx, s.room.ID, lastID, s.cfg.PageSize)
		}

		wait := s.cfg.PollInterval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Str("module", "client").Str("room", s.room.ID).Err(err).Msg("poll failed")
			if models.IsRetryable(err) {
				wait = s.cfg.ErrorBackoff
			}
		} else {
			first = false
			for _, m := range batch {
				if m.ID <= lastID {
					continue
				}
				select {
				case s.messages <- m:
					lastID = m.ID
				case <-ctx.Done():
					return
				}
			}
			// a full page means more may be waiting
			if len(batch) == s.cfg.PageSize {
				wait = 0
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
