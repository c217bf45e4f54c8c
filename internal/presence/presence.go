// Package presence tracks who is currently in a room, driven by client
// heartbeats. Entries are ephemeral and independent of room occupancy.
package presence

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowrooms/server/internal/models"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// Store keeps presence entries. Put keeps the JoinedAt of an existing entry.
type Store interface {
	Put(ctx context.Context, e models.PresenceEntry) error
	Remove(ctx context.Context, roomID, userID string) error
	List(ctx context.Context, roomID string) ([]models.PresenceEntry, error)
	Evict(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	Timeout       time.Duration
	PollInterval  time.Duration
	SweepInterval time.Duration
}

type Tracker struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func New(store Store, cfg Config) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Timeout / 2
	}
	return &Tracker{store: store, cfg: cfg, now: time.Now}
}

// Join marks the user present in roomID.
func (t *Tracker) Join(ctx context.Context, roomID string, id models.Identity) error {
	return t.touch(ctx, "presence.join", roomID, id)
}

// Heartbeat refreshes the user's entry. A user whose entry already expired
// is re-added.
func (t *Tracker) Heartbeat(ctx context.Context, roomID string, id models.Identity) error {
	return t.touch(ctx, "presence.heartbeat", roomID, id)
}

func (t *Tracker) touch(ctx context.Context, op, roomID string, id models.Identity) error {
	if roomID == "" || id.UserID == "" {
		return models.Validation(op, "room id and user id are required")
	}
	now := t.now()
	err := t.store.Put(ctx, models.PresenceEntry{
		UserID:        id.UserID,
		Alias:         id.Alias,
		RoomID:        roomID,
		JoinedAt:      now,
		LastHeartbeat: now,
	})
	if err != nil {
		return models.Unavailable(op, err)
	}
	return nil
}

func (t *Tracker) Leave(ctx context.Context, roomID, userID string) error {
	if err := t.store.Remove(ctx, roomID, userID); err != nil {
		return models.Unavailable("presence.leave", err)
	}
	return nil
}

// Snapshot lists the live entries of roomID ordered by user id. Entries past
// the timeout are left out even if the sweeper has not reached them yet.
func (t *Tracker) Snapshot(ctx context.Context, roomID string) ([]models.PresenceEntry, error) {
	entries, err := t.store.List(ctx, roomID)
	if err != nil {
		return nil, models.Unavailable("presence.snapshot", err)
	}
	cutoff := t.now().Add(-t.cfg.Timeout)
	live := make([]models.PresenceEntry, 0, len(entries))
	for _, e := range entries {
		if e.LastHeartbeat.After(cutoff) {
			live = append(live, e)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].UserID < live[j].UserID })
	return live, nil
}

// Sweep evicts entries whose last heartbeat is older than the timeout.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	n, err := t.store.Evict(ctx, t.now().Add(-t.cfg.Timeout))
	if err != nil {
		return 0, models.Unavailable("presence.sweep", err)
	}
	return n, nil
}

// Run sweeps on an interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := t.Sweep(ctx)
			if err != nil {
				log.Warn().Str("module", "presence").Err(err).Msg("sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Str("module", "presence").Int("evicted", n).Msg("swept stale presence")
			}
		}
	}
}

// Subscribe emits the room's snapshot immediately and then whenever the set
// of occupants changes. Every emission is a full replacement. The channel is
// closed when ctx is done.
func (t *Tracker) Subscribe(ctx context.Context, roomID string) <-chan []models.PresenceEntry {
	out := make(chan []models.PresenceEntry, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(t.cfg.PollInterval)
		defer ticker.Stop()

		var last []models.PresenceEntry
		first := true
		for {
			snap, err := t.Snapshot(ctx, roomID)
			if err != nil {
				log.Warn().Str("module", "presence").Str("room", roomID).Err(err).Msg("presence poll failed")
			} else if first || !sameOccupants(last, snap) {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				last, first = snap, false
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func sameOccupants(a, b []models.PresenceEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].UserID != b[i].UserID || a[i].Alias != b[i].Alias {
			return false
		}
	}
	return true
}
