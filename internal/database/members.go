package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flowrooms/server/internal/models"
)

// JoinRoom records userID as a member of roomID and takes one slot. A user
// holds at most one membership: a membership of another room is released in
// the same transaction and its room id returned as prev. If the target is
// full the whole move rolls back and the old membership stands. Joining the
// room already held is a validation error; a concurrent second join by the
// same user fails with a conflict on the user_id key.
func (s *Store) JoinRoom(ctx context.Context, roomID, userID string, joinedAt time.Time) (room models.Room, prev string, err error) {
	const op = "database.join_room"
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var held string
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT room_id FROM room_members WHERE user_id = ?`), userID).Scan(&held)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case held == roomID:
			return models.Validation(op, "user %s already joined room %s", userID, roomID)
		default:
			res, err := tx.ExecContext(ctx, s.rebind(
				`DELETE FROM room_members WHERE user_id = ? AND room_id = ?`), userID, held)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n > 0 {
				if _, err := s.decrementOccupancy(ctx, tx, held); err != nil {
					return err
				}
				prev = held
			}
		}

		room, err = s.incrementOccupancy(ctx, tx, roomID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO room_members (user_id, room_id, joined_at) VALUES (?, ?, ?)`),
			userID, roomID, micros(joinedAt))
		return err
	})
	switch {
	case err == nil:
		return room, prev, nil
	case models.KindOf(err) != models.KindUnknown:
		return models.Room{}, "", err
	case isUniqueViolation(err):
		return models.Room{}, "", models.Conflict(op, err)
	default:
		return models.Room{}, "", models.Unavailable(op, err)
	}
}

// LeaveRoom removes the user's membership of roomID and decrements occupancy
// only if a membership was actually removed. left is false for a repeated
// leave, in which case the room is returned unchanged.
func (s *Store) LeaveRoom(ctx context.Context, roomID, userID string) (room models.Room, left bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(
			`DELETE FROM room_members WHERE user_id = ? AND room_id = ?`), userID, roomID)
		if err != nil {
			return models.Unavailable("database.leave_room", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return models.Unavailable("database.leave_room", err)
		}
		if n == 0 {
			room, err = s.getRoom(ctx, tx, roomID)
			return err
		}
		left = true
		room, err = s.decrementOccupancy(ctx, tx, roomID)
		return err
	})
	if err != nil {
		if models.KindOf(err) == models.KindUnknown {
			err = models.Unavailable("database.leave_room", err)
		}
		return models.Room{}, false, err
	}
	return room, left, nil
}

// GetMembership returns the user's active membership, or nil.
func (s *Store) GetMembership(ctx context.Context, userID string) (*models.Membership, error) {
	var m models.Membership
	var joinedAt int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT user_id, room_id, joined_at FROM room_members WHERE user_id = ?`), userID,
	).Scan(&m.UserID, &m.RoomID, &joinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, models.Unavailable("database.get_membership", err)
	}
	m.JoinedAt = fromMicros(joinedAt)
	return &m, nil
}
