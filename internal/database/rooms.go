package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/flowrooms/server/internal/models"
)

const roomColumns = `id, seq, name, occupancy, soft_cap, hard_cap, created_at`

// NewRoom carries everything CreateRoom needs besides the allocated seq.
type NewRoom struct {
	Name      string
	SoftCap   int
	HardCap   int
	MaxRooms  int // 0 means unbounded
	CreatedAt time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (models.Room, error) {
	var r models.Room
	var createdAt int64
	err := row.Scan(&r.ID, &r.Seq, &r.Name, &r.Occupancy, &r.SoftCap, &r.HardCap, &createdAt)
	r.CreatedAt = fromMicros(createdAt)
	return r, err
}

// CreateRoom allocates the next seq from the counter row and inserts the room
// in the same transaction. The counter update holds the row lock until commit,
// so concurrent creators are serialized and the room-limit count is exact.
func (s *Store) CreateRoom(ctx context.Context, p NewRoom) (models.Room, error) {
	const op = "database.create_room"
	var room models.Room
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		err := tx.QueryRowContext(ctx, s.rebind(
			`UPDATE counters SET value = value + 1 WHERE name = 'room_seq' RETURNING value`,
		)).Scan(&seq)
		if err != nil {
			return err
		}
		if p.MaxRooms > 0 {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
				return err
			}
			if count >= p.MaxRooms {
				return models.ErrRoomLimitReached
			}
		}
		room, err = scanRoom(tx.QueryRowContext(ctx, s.rebind(
			`INSERT INTO rooms (id, seq, name, occupancy, soft_cap, hard_cap, created_at)
			 VALUES (?, ?, ?, 0, ?, ?, ?)
			 RETURNING `+roomColumns),
			uuid.NewString(), seq, p.Name, p.SoftCap, p.HardCap, micros(p.CreatedAt),
		))
		return err
	})
	switch {
	case err == nil:
		return room, nil
	case errors.Is(err, models.ErrRoomLimitReached):
		return models.Room{}, err
	case isUniqueViolation(err):
		return models.Room{}, models.Conflict(op, err)
	default:
		return models.Room{}, models.Unavailable(op, err)
	}
}

func (s *Store) GetRoom(ctx context.Context, id string) (models.Room, error) {
	return s.getRoom(ctx, s.db, id)
}

func (s *Store) getRoom(ctx context.Context, q querier, id string) (models.Room, error) {
	room, err := scanRoom(q.QueryRowContext(ctx, s.rebind(
		`SELECT `+roomColumns+` FROM rooms WHERE id = ?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Room{}, models.NotFound("database.get_room", "room %s not found", id)
		}
		return models.Room{}, models.Unavailable("database.get_room", err)
	}
	return room, nil
}

// FindNextAvailable returns the lowest-seq room after fromSeq that is still
// under its soft cap, or nil.
func (s *Store) FindNextAvailable(ctx context.Context, fromSeq int64) (*models.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+roomColumns+` FROM rooms
		 WHERE seq > ? AND occupancy < soft_cap
		 ORDER BY seq ASC LIMIT 1`), fromSeq))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, models.Unavailable("database.find_next_available", err)
	}
	return &room, nil
}

func (s *Store) CountRooms(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		return 0, models.Unavailable("database.count_rooms", err)
	}
	return count, nil
}

func (s *Store) IncrementOccupancy(ctx context.Context, id string) (models.Room, error) {
	return s.incrementOccupancy(ctx, s.db, id)
}

// incrementOccupancy is a compare-and-increment: the guard in the WHERE
// clause makes the hard cap hold under concurrent joins.
func (s *Store) incrementOccupancy(ctx context.Context, q querier, id string) (models.Room, error) {
	const op = "database.increment_occupancy"
	room, err := scanRoom(q.QueryRowContext(ctx, s.rebind(
		`UPDATE rooms SET occupancy = occupancy + 1
		 WHERE id = ? AND occupancy < hard_cap
		 RETURNING `+roomColumns), id))
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, models.Unavailable(op, err)
	}
	if _, err := s.getRoom(ctx, q, id); err != nil {
		return models.Room{}, err
	}
	return models.Room{}, models.CapacityExceeded(op, id)
}

func (s *Store) DecrementOccupancy(ctx context.Context, id string) (models.Room, error) {
	return s.decrementOccupancy(ctx, s.db, id)
}

// decrementOccupancy clamps at zero so duplicate leaves are harmless.
func (s *Store) decrementOccupancy(ctx context.Context, q querier, id string) (models.Room, error) {
	room, err := scanRoom(q.QueryRowContext(ctx, s.rebind(
		`UPDATE rooms SET occupancy = CASE WHEN occupancy > 0 THEN occupancy - 1 ELSE 0 END
		 WHERE id = ?
		 RETURNING `+roomColumns), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Room{}, models.NotFound("database.decrement_occupancy", "room %s not found", id)
		}
		return models.Room{}, models.Unavailable("database.decrement_occupancy", err)
	}
	return room, nil
}
