package redisc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrooms/server/internal/models"
	"github.com/flowrooms/server/internal/presence"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := InitRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestInitRedisRejectsBadURL(t *testing.T) {
	_, err := InitRedis(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestPresenceStorePutKeepsJoinTime(t *testing.T) {
	store := NewPresenceStore(newTestClient(t))
	ctx := context.Background()
	joined := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.Put(ctx, models.PresenceEntry{
		UserID: "alice", Alias: "A", RoomID: "r", JoinedAt: joined, LastHeartbeat: joined,
	}))
	later := joined.Add(10 * time.Second)
	require.NoError(t, store.Put(ctx, models.PresenceEntry{
		UserID: "alice", Alias: "A2", RoomID: "r", JoinedAt: later, LastHeartbeat: later,
	}))

	entries, err := store.List(ctx, "r")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A2", entries[0].Alias)
	assert.True(t, entries[0].JoinedAt.Equal(joined))
	assert.True(t, entries[0].LastHeartbeat.Equal(later))
}

func TestPresenceStoreEvict(t *testing.T) {
	store := NewPresenceStore(newTestClient(t))
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, user := range []string{"alice", "bob", "carol"} {
		at := base.Add(time.Duration(i) * 10 * time.Second)
		require.NoError(t, store.Put(ctx, models.PresenceEntry{
			UserID: user, RoomID: "r", JoinedAt: at, LastHeartbeat: at,
		}))
	}

	n, err := store.Evict(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := store.List(ctx, "r")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "carol", entries[0].UserID)

	require.NoError(t, store.Remove(ctx, "r", "carol"))
	entries, err = store.List(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPresenceStoreBacksTracker(t *testing.T) {
	tr := presence.New(NewPresenceStore(newTestClient(t)), presence.Config{})
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, "r", models.Identity{UserID: "bob", Alias: "B"}))
	require.NoError(t, tr.Join(ctx, "r", models.Identity{UserID: "alice", Alias: "A"}))
	require.NoError(t, tr.Heartbeat(ctx, "r", models.Identity{UserID: "bob", Alias: "B"}))

	snap, err := tr.Snapshot(ctx, "r")
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "alice", snap[0].UserID)
	assert.Equal(t, "B", snap[1].Alias)
}

func TestPublishSubscribeMessages(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan models.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- SubscribeMessages(ctx, client, func(m models.Message) { got <- m })
	}()

	pub := NewPublisher(client)
	msg := models.Message{ID: 7, RoomID: "r1", SenderUserID: "u", SenderAlias: "U", Body: "hi"}
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumPat(ctx).Result()
		return err == nil && n > 0
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, pub.Publish(ctx, msg))

	select {
	case m := <-got:
		assert.Equal(t, int64(7), m.ID)
		assert.Equal(t, "r1", m.RoomID)
		assert.Equal(t, "hi", m.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
