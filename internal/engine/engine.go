// Package engine implements room rotation: offering the next room after a
// sequence position, and joining and leaving rooms under their capacity caps.
//
// Per user the flow is UNASSIGNED -> CANDIDATE (NextRoom) -> ASSIGNED (Join)
// -> UNASSIGNED (Leave). A candidate room is a recommendation, not a
// reservation: its capacity may be taken before the join arrives, in which
// case Join fails with a capacity error and the caller asks for a new room.
package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/flowrooms/server/internal/models"
)

const EndOfFlowMessage = "You've reached calm waters. No more rooms can be opened right now."

type Directory interface {
	FindNextAvailable(ctx context.Context, fromSeq int64) (*models.Room, error)
	CreateRoom(ctx context.Context, name string) (models.Room, error)
	GetRoom(ctx context.Context, id string) (models.Room, error)
	Join(ctx context.Context, roomID, userID string) (models.Room, string, error)
	Leave(ctx context.Context, roomID, userID string) (models.Room, bool, error)
	MembershipOf(ctx context.Context, userID string) (*models.Membership, error)
}

// PresenceMarker is the slice of the presence tracker the engine drives on
// join and leave. Presence is updated after the directory and independently
// of it; a failure here never undoes a join.
type PresenceMarker interface {
	Join(ctx context.Context, roomID string, id models.Identity) error
	Leave(ctx context.Context, roomID, userID string) error
}

type Engine struct {
	dir      Directory
	presence PresenceMarker
	names    NameFunc
	// creating admits one room creation at a time.
	creating *semaphore.Weighted
}

type Option func(*Engine)

func WithPresence(p PresenceMarker) Option {
	return func(e *Engine) { e.presence = p }
}

func WithNameFunc(f NameFunc) Option {
	return func(e *Engine) { e.names = f }
}

func New(dir Directory, opts ...Option) *Engine {
	e := &Engine{dir: dir, names: RandomName, creating: semaphore.NewWeighted(1)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NextRoom returns the lowest-seq room after fromSeq that is under its soft
// cap. When there is none a room is created; when creation is refused by the
// room limit the result is end-of-flow.
func (e *Engine) NextRoom(ctx context.Context, fromSeq int64) (models.NextRoomResult, error) {
	if fromSeq < 0 {
		return models.NextRoomResult{}, models.Validation("engine.next_room", "from_seq must not be negative")
	}
	room, err := e.dir.FindNextAvailable(ctx, fromSeq)
	if err != nil {
		return models.NextRoomResult{}, err
	}
	if room != nil {
		return models.NextRoomResult{Room: room}, nil
	}

	// A new room outranks every existing seq, so one creation serves all
	// concurrent misses whatever their position. Each waiter re-checks
	// under the semaphore and only creates if it still finds nothing.
	if err := e.creating.Acquire(ctx, 1); err != nil {
		return models.NextRoomResult{}, err
	}
	defer e.creating.Release(1)
	return e.openRoomAfter(ctx, fromSeq)
}

func (e *Engine) openRoomAfter(ctx context.Context, fromSeq int64) (models.NextRoomResult, error) {
	// A creation that finished while we waited may already cover us.
	room, err := e.dir.FindNextAvailable(ctx, fromSeq)
	if err != nil {
		return models.NextRoomResult{}, err
	}
	if room != nil {
		return models.NextRoomResult{Room: room}, nil
	}

	for attempt := 0; ; attempt++ {
		created, err := e.dir.CreateRoom(ctx, e.names())
		switch {
		case err == nil:
			return models.NextRoomResult{Room: &created, IsNewRoom: true}, nil
		case errors.Is(err, models.ErrRoomLimitReached):
			log.Info().Str("module", "engine").Int64("from_seq", fromSeq).Msg("end of flow")
			return models.NextRoomResult{IsEndOfFlow: true, Message: EndOfFlowMessage}, nil
		case models.KindOf(err) == models.KindConflict && attempt == 0:
			log.Warn().Str("module", "engine").Err(err).Msg("seq conflict, retrying room creation")
			continue
		default:
			return models.NextRoomResult{}, err
		}
	}
}

// Join takes a slot in roomID for the caller. A user holds one room at a
// time: a previous membership is released in the same step, and kept when the
// join is refused. Joining the room already held is a caller error and is
// reported, not absorbed. On a capacity error the room is stale and the
// caller should ask NextRoom again.
func (e *Engine) Join(ctx context.Context, id models.Identity, roomID string) (models.Room, error) {
	const op = "engine.join"
	if id.UserID == "" {
		return models.Room{}, models.Validation(op, "user id is required")
	}
	if roomID == "" {
		return models.Room{}, models.Validation(op, "room id is required")
	}

	room, prev, err := e.dir.Join(ctx, roomID, id.UserID)
	if err != nil {
		log.Info().Str("module", "engine").Str("user", id.UserID).Str("room", roomID).Err(err).Msg("join refused")
		return models.Room{}, err
	}
	log.Info().Str("module", "engine").Str("user", id.UserID).Str("room", roomID).Str("prev", prev).Int("occupancy", room.Occupancy).Msg("joined")

	if e.presence != nil {
		if prev != "" {
			if err := e.presence.Leave(ctx, prev, id.UserID); err != nil {
				log.Warn().Str("module", "engine").Str("user", id.UserID).Err(err).Msg("presence leave failed")
			}
		}
		if err := e.presence.Join(ctx, roomID, id); err != nil {
			log.Warn().Str("module", "engine").Str("user", id.UserID).Err(err).Msg("presence join failed")
		}
	}
	return room, nil
}

// Leave releases the caller's slot. Leaving a room the caller does not hold
// (for example a second leave) succeeds without touching occupancy.
func (e *Engine) Leave(ctx context.Context, userID, roomID string) error {
	const op = "engine.leave"
	if userID == "" {
		return models.Validation(op, "user id is required")
	}
	room, left, err := e.dir.Leave(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if left {
		log.Info().Str("module", "engine").Str("user", userID).Str("room", roomID).Int("occupancy", room.Occupancy).Msg("left")
	}
	if e.presence != nil {
		if err := e.presence.Leave(ctx, roomID, userID); err != nil {
			log.Warn().Str("module", "engine").Str("user", userID).Err(err).Msg("presence leave failed")
		}
	}
	return nil
}

// CurrentRoom returns the room the user holds, or nil.
func (e *Engine) CurrentRoom(ctx context.Context, userID string) (*models.Room, error) {
	m, err := e.dir.MembershipOf(ctx, userID)
	if err != nil || m == nil {
		return nil, err
	}
	room, err := e.dir.GetRoom(ctx, m.RoomID)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (e *Engine) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	return e.dir.GetRoom(ctx, roomID)
}

// RequireMember fails with a validation error unless userID currently holds
// roomID.
func (e *Engine) RequireMember(ctx context.Context, userID, roomID string) error {
	m, err := e.dir.MembershipOf(ctx, userID)
	if err != nil {
		return err
	}
	if m == nil || m.RoomID != roomID {
		if _, err := e.dir.GetRoom(ctx, roomID); err != nil {
			return err
		}
		return models.Validation("engine.require_member", "user %s has not joined room %s", userID, roomID)
	}
	return nil
}
