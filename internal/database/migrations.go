package database

import (
	"context"
	"fmt"
)

// Statements are written in the subset shared by PostgreSQL and SQLite.
// Timestamps are stored as unix microseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS counters (
    name  VARCHAR(32) PRIMARY KEY,
    value BIGINT NOT NULL
)`,
	`INSERT INTO counters (name, value) VALUES ('room_seq', 0) ON CONFLICT (name) DO NOTHING`,

	`CREATE TABLE IF NOT EXISTS rooms (
    id              VARCHAR(36) PRIMARY KEY,
    seq             BIGINT NOT NULL UNIQUE,
    name            VARCHAR(100) NOT NULL DEFAULT '',
    occupancy       INTEGER NOT NULL DEFAULT 0,
    soft_cap        INTEGER NOT NULL,
    hard_cap        INTEGER NOT NULL,
    last_message_id BIGINT NOT NULL DEFAULT 0,
    created_at      BIGINT NOT NULL,
    CHECK (occupancy >= 0 AND occupancy <= hard_cap),
    CHECK (soft_cap > 0 AND soft_cap <= hard_cap)
)`,

	`CREATE TABLE IF NOT EXISTS room_members (
    user_id   VARCHAR(64) PRIMARY KEY,
    room_id   VARCHAR(36) NOT NULL REFERENCES rooms(id),
    joined_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_room_members_room ON room_members (room_id)`,

	`CREATE TABLE IF NOT EXISTS messages (
    room_id      VARCHAR(36) NOT NULL REFERENCES rooms(id),
    id           BIGINT NOT NULL,
    sender_id    VARCHAR(64) NOT NULL,
    sender_alias VARCHAR(64) NOT NULL,
    body         TEXT NOT NULL,
    created_at   BIGINT NOT NULL,
    PRIMARY KEY (room_id, id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at)`,
}

func (s *Store) RunMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i, err)
		}
	}
	return tx.Commit()
}
