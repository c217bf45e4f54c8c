package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flowrooms/server/internal/models"
)

const messageColumns = `id, room_id, sender_id, sender_alias, body, created_at`

// CreateMessage bumps the room's message counter and inserts the message
// under the new id, so ids are strictly increasing per room.
func (s *Store) CreateMessage(ctx context.Context, m models.Message) (models.Message, error) {
	const op = "database.create_message"
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.rebind(
			`UPDATE rooms SET last_message_id = last_message_id + 1 WHERE id = ? RETURNING last_message_id`),
			m.RoomID,
		).Scan(&m.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.NotFound(op, "room %s not found", m.RoomID)
			}
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
			m.ID, m.RoomID, m.SenderUserID, m.SenderAlias, m.Body, micros(m.CreatedAt))
		return err
	})
	if err != nil {
		if models.KindOf(err) == models.KindUnknown {
			err = models.Unavailable(op, err)
		}
		return models.Message{}, err
	}
	m.CreatedAt = fromMicros(micros(m.CreatedAt))
	return m, nil
}

// MessageQuery selects a window of a room's log. With AfterID set the window
// is the oldest Limit messages after that id; otherwise it is the newest Limit.
// Either way the result is in ascending id order.
type MessageQuery struct {
	RoomID  string
	Since   time.Time
	AfterID int64
	Limit   int
}

func (s *Store) GetMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	const op = "database.get_messages"
	if _, err := s.getRoom(ctx, s.db, q.RoomID); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error
	if q.AfterID > 0 {
		rows, err = s.db.QueryContext(ctx, s.rebind(
			`SELECT `+messageColumns+` FROM messages
			 WHERE room_id = ? AND created_at >= ? AND id > ?
			 ORDER BY id ASC LIMIT ?`),
			q.RoomID, micros(q.Since), q.AfterID, q.Limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.rebind(
			`SELECT `+messageColumns+` FROM messages
			 WHERE room_id = ? AND created_at >= ?
			 ORDER BY id DESC LIMIT ?`),
			q.RoomID, micros(q.Since), q.Limit)
	}
	if err != nil {
		return nil, models.Unavailable(op, err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderUserID, &m.SenderAlias, &m.Body, &createdAt); err != nil {
			return nil, models.Unavailable(op, err)
		}
		m.CreatedAt = fromMicros(createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable(op, err)
	}

	if q.AfterID <= 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

// DeleteMessagesBefore purges messages created before cutoff.
func (s *Store) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE created_at < ?`), micros(cutoff))
	if err != nil {
		return 0, models.Unavailable("database.delete_messages_before", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.Unavailable("database.delete_messages_before", err)
	}
	return n, nil
}
