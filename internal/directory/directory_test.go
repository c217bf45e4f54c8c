package directory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrooms/server/internal/database"
	"github.com/flowrooms/server/internal/models"
)

func newTestDirectory(t *testing.T, cfg Config) *Directory {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	store, err := database.Open(database.DriverSQLite, "sqlite://file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.RunMigrations(context.Background()))

	dir, err := New(store, cfg)
	require.NoError(t, err)
	return dir
}

func TestNewAppliesDefaultCaps(t *testing.T) {
	dir := newTestDirectory(t, Config{})
	assert.Equal(t, models.DefaultSoftCap, dir.Config().SoftCap)
	assert.Equal(t, models.DefaultHardCap, dir.Config().HardCap)
}

func TestNewRejectsInvertedCaps(t *testing.T) {
	_, err := New(nil, Config{SoftCap: 5, HardCap: 4})
	assert.Error(t, err)

	_, err = New(nil, Config{SoftCap: 1, HardCap: 1, MaxRooms: -1})
	assert.Error(t, err)
}

func TestCreateRoomUsesConfiguredCaps(t *testing.T) {
	dir := newTestDirectory(t, Config{SoftCap: 3, HardCap: 5})
	ctx := context.Background()

	room, err := dir.CreateRoom(ctx, "Quiet Harbor")
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.Seq)
	assert.Equal(t, "Quiet Harbor", room.Name)
	assert.Equal(t, 3, room.SoftCap)
	assert.Equal(t, 5, room.HardCap)

	next, err := dir.CreateRoom(ctx, "Still Pond")
	require.NoError(t, err)
	assert.Greater(t, next.Seq, room.Seq)

	n, err := dir.CountRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreateRoomLimit(t *testing.T) {
	dir := newTestDirectory(t, Config{SoftCap: 1, HardCap: 1, MaxRooms: 1})
	ctx := context.Background()

	_, err := dir.CreateRoom(ctx, "only")
	require.NoError(t, err)
	_, err = dir.CreateRoom(ctx, "extra")
	assert.ErrorIs(t, err, models.ErrRoomLimitReached)
}

func TestFindNextAvailableSkipsSoftFullRooms(t *testing.T) {
	dir := newTestDirectory(t, Config{SoftCap: 1, HardCap: 2})
	ctx := context.Background()

	first, err := dir.CreateRoom(ctx, "first")
	require.NoError(t, err)
	second, err := dir.CreateRoom(ctx, "second")
	require.NoError(t, err)

	_, err = dir.IncrementOccupancy(ctx, first.ID)
	require.NoError(t, err)

	got, err := dir.FindNextAvailable(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	got, err = dir.FindNextAvailable(ctx, second.Seq)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOccupancyBounds(t *testing.T) {
	dir := newTestDirectory(t, Config{SoftCap: 1, HardCap: 2})
	ctx := context.Background()
	room, err := dir.CreateRoom(ctx, "r")
	require.NoError(t, err)

	_, err = dir.IncrementOccupancy(ctx, room.ID)
	require.NoError(t, err)
	_, err = dir.IncrementOccupancy(ctx, room.ID)
	require.NoError(t, err)
	_, err = dir.IncrementOccupancy(ctx, room.ID)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)

	for i := 0; i < 3; i++ {
		_, err = dir.DecrementOccupancy(ctx, room.ID)
		require.NoError(t, err)
	}
	got, err := dir.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Occupancy)

	_, err = dir.DecrementOccupancy(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJoinLeaveTracksMembership(t *testing.T) {
	dir := newTestDirectory(t, Config{})
	ctx := context.Background()
	room, err := dir.CreateRoom(ctx, "r")
	require.NoError(t, err)

	got, prev, err := dir.Join(ctx, room.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Occupancy)
	assert.Empty(t, prev)

	m, err := dir.MembershipOf(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, room.ID, m.RoomID)

	_, left, err := dir.Leave(ctx, room.ID, "u1")
	require.NoError(t, err)
	assert.True(t, left)

	got, left, err = dir.Leave(ctx, room.ID, "u1")
	require.NoError(t, err)
	assert.False(t, left)
	assert.Zero(t, got.Occupancy)
}

func TestCheckRoom(t *testing.T) {
	assert.NoError(t, checkRoom(models.Room{Occupancy: 3, SoftCap: 2, HardCap: 3}))
	assert.Error(t, checkRoom(models.Room{Occupancy: 4, SoftCap: 2, HardCap: 3}))
	assert.Error(t, checkRoom(models.Room{Occupancy: -1, SoftCap: 2, HardCap: 3}))
	assert.Error(t, checkRoom(models.Room{SoftCap: 4, HardCap: 3}))
}
