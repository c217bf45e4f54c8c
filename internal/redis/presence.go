package redisc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowrooms/server/internal/models"
)

const roomsKey = "presence:rooms"

func heartbeatsKey(roomID string) string { return "presence:room:" + roomID }
func metaKey(roomID string) string       { return "presence:meta:" + roomID }

type entryMeta struct {
	Alias    string `json:"alias"`
	JoinedAt int64  `json:"joined_at"`
}

// PresenceStore keeps one sorted set per room, scored by last heartbeat in
// milliseconds, plus a hash of alias and join time per member.
type PresenceStore struct {
	client *redis.Client
}

func NewPresenceStore(client *redis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func (s *PresenceStore) Put(ctx context.Context, e models.PresenceEntry) error {
	joined := e.JoinedAt.UnixMilli()
	raw, err := s.client.HGet(ctx, metaKey(e.RoomID), e.UserID).Result()
	switch {
	case err == nil:
		var prev entryMeta
		if json.Unmarshal([]byte(raw), &prev) == nil {
			joined = prev.JoinedAt
		}
	case !errors.Is(err, redis.Nil):
		return fmt.Errorf("failed to read presence: %w", err)
	}

	meta, err := json.Marshal(entryMeta{Alias: e.Alias, JoinedAt: joined})
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, heartbeatsKey(e.RoomID), redis.Z{Score: float64(e.LastHeartbeat.UnixMilli()), Member: e.UserID})
	pipe.HSet(ctx, metaKey(e.RoomID), e.UserID, meta)
	pipe.SAdd(ctx, roomsKey, e.RoomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

func (s *PresenceStore) Remove(ctx context.Context, roomID, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, heartbeatsKey(roomID), userID)
	pipe.HDel(ctx, metaKey(roomID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

func (s *PresenceStore) List(ctx context.Context, roomID string) ([]models.PresenceEntry, error) {
	beats, err := s.client.ZRangeWithScores(ctx, heartbeatsKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}
	metas, err := s.client.HGetAll(ctx, metaKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	entries := make([]models.PresenceEntry, 0, len(beats))
	for _, z := range beats {
		userID, _ := z.Member.(string)
		seen := time.UnixMilli(int64(z.Score))
		e := models.PresenceEntry{UserID: userID, RoomID: roomID, JoinedAt: seen, LastHeartbeat: seen}
		var m entryMeta
		if raw, ok := metas[userID]; ok && json.Unmarshal([]byte(raw), &m) == nil {
			e.Alias = m.Alias
			e.JoinedAt = time.UnixMilli(m.JoinedAt)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *PresenceStore) Evict(ctx context.Context, before time.Time) (int, error) {
	rooms, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list presence rooms: %w", err)
	}
	maxScore := strconv.FormatInt(before.UnixMilli(), 10)
	evicted := 0
	for _, roomID := range rooms {
		stale, err := s.client.ZRangeByScore(ctx, heartbeatsKey(roomID), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
		if err != nil {
			return evicted, fmt.Errorf("failed to scan presence: %w", err)
		}
		if len(stale) > 0 {
			members := make([]any, len(stale))
			for i, m := range stale {
				members[i] = m
			}
			pipe := s.client.TxPipeline()
			pipe.ZRem(ctx, heartbeatsKey(roomID), members...)
			pipe.HDel(ctx, metaKey(roomID), stale...)
			if _, err := pipe.Exec(ctx); err != nil {
				return evicted, fmt.Errorf("failed to evict presence: %w", err)
			}
			evicted += len(stale)
		}
		left, err := s.client.ZCard(ctx, heartbeatsKey(roomID)).Result()
		if err == nil && left == 0 {
			s.client.SRem(ctx, roomsKey, roomID)
		}
	}
	return evicted, nil
}
