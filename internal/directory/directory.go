// Package directory holds the set of rooms: their sequence order, capacity
// limits and live occupancy counts.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowrooms/server/internal/database"
	"github.com/flowrooms/server/internal/models"
)

// Store is the durable backing of the directory. *database.Store satisfies it.
type Store interface {
	CreateRoom(ctx context.Context, p database.NewRoom) (models.Room, error)
	GetRoom(ctx context.Context, id string) (models.Room, error)
	FindNextAvailable(ctx context.Context, fromSeq int64) (*models.Room, error)
	CountRooms(ctx context.Context) (int, error)
	IncrementOccupancy(ctx context.Context, id string) (models.Room, error)
	DecrementOccupancy(ctx context.Context, id string) (models.Room, error)
	JoinRoom(ctx context.Context, roomID, userID string, joinedAt time.Time) (models.Room, string, error)
	LeaveRoom(ctx context.Context, roomID, userID string) (models.Room, bool, error)
	GetMembership(ctx context.Context, userID string) (*models.Membership, error)
}

type Config struct {
	SoftCap  int
	HardCap  int
	MaxRooms int
}

func (c Config) validate() error {
	if c.SoftCap <= 0 || c.HardCap <= 0 {
		return fmt.Errorf("caps must be positive (soft=%d hard=%d)", c.SoftCap, c.HardCap)
	}
	if c.SoftCap > c.HardCap {
		return fmt.Errorf("soft cap %d exceeds hard cap %d", c.SoftCap, c.HardCap)
	}
	if c.MaxRooms < 0 {
		return fmt.Errorf("max rooms must not be negative")
	}
	return nil
}

type Directory struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New returns a directory over store. Zero caps fall back to the defaults.
func New(store Store, cfg Config) (*Directory, error) {
	if cfg.SoftCap == 0 {
		cfg.SoftCap = models.DefaultSoftCap
	}
	if cfg.HardCap == 0 {
		cfg.HardCap = models.DefaultHardCap
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Directory{store: store, cfg: cfg, now: time.Now}, nil
}

func (d *Directory) Config() Config { return d.cfg }

// CreateRoom assigns the next seq and returns the empty room. It returns
// models.ErrRoomLimitReached once MaxRooms rooms exist.
func (d *Directory) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	room, err := d.store.CreateRoom(ctx, database.NewRoom{
		Name:      name,
		SoftCap:   d.cfg.SoftCap,
		HardCap:   d.cfg.HardCap,
		MaxRooms:  d.cfg.MaxRooms,
		CreatedAt: d.now(),
	})
	if err != nil {
		return models.Room{}, err
	}
	if err := checkRoom(room); err != nil {
		return models.Room{}, err
	}
	log.Info().Str("module", "directory").Str("room", room.ID).Int64("seq", room.Seq).Str("name", room.Name).Msg("room created")
	return room, nil
}

func (d *Directory) GetRoom(ctx context.Context, id string) (models.Room, error) {
	return d.store.GetRoom(ctx, id)
}

func (d *Directory) CountRooms(ctx context.Context) (int, error) {
	return d.store.CountRooms(ctx)
}

// FindNextAvailable returns the lowest-seq room with seq > fromSeq and
// occupancy below its soft cap, or nil when there is none.
func (d *Directory) FindNextAvailable(ctx context.Context, fromSeq int64) (*models.Room, error) {
	room, err := d.store.FindNextAvailable(ctx, fromSeq)
	if err != nil || room == nil {
		return nil, err
	}
	if room.Seq <= fromSeq || !room.Available() {
		return nil, fmt.Errorf("store returned room %s (seq %d, occupancy %d/%d) for seq > %d",
			room.ID, room.Seq, room.Occupancy, room.SoftCap, fromSeq)
	}
	return room, nil
}

func (d *Directory) IncrementOccupancy(ctx context.Context, id string) (models.Room, error) {
	room, err := d.store.IncrementOccupancy(ctx, id)
	if err != nil {
		return models.Room{}, err
	}
	return room, checkRoom(room)
}

func (d *Directory) DecrementOccupancy(ctx context.Context, id string) (models.Room, error) {
	room, err := d.store.DecrementOccupancy(ctx, id)
	if err != nil {
		return models.Room{}, err
	}
	return room, checkRoom(room)
}

// Join records userID as a member of roomID and takes one slot. prev is the
// room the user was moved out of, or empty. A refused join leaves any
// previous membership in place.
func (d *Directory) Join(ctx context.Context, roomID, userID string) (room models.Room, prev string, err error) {
	room, prev, err = d.store.JoinRoom(ctx, roomID, userID, d.now())
	if err != nil {
		return models.Room{}, "", err
	}
	return room, prev, checkRoom(room)
}

// Leave frees userID's slot in roomID. left is false when the user held no
// membership there, in which case occupancy is untouched.
func (d *Directory) Leave(ctx context.Context, roomID, userID string) (models.Room, bool, error) {
	room, left, err := d.store.LeaveRoom(ctx, roomID, userID)
	if err != nil {
		return models.Room{}, false, err
	}
	return room, left, checkRoom(room)
}

func (d *Directory) MembershipOf(ctx context.Context, userID string) (*models.Membership, error) {
	return d.store.GetMembership(ctx, userID)
}

// checkRoom asserts the room invariants on every value the store hands back.
func checkRoom(r models.Room) error {
	if r.Occupancy < 0 || r.Occupancy > r.HardCap || r.SoftCap > r.HardCap {
		return fmt.Errorf("room %s violates capacity invariant: occupancy=%d soft=%d hard=%d",
			r.ID, r.Occupancy, r.SoftCap, r.HardCap)
	}
	return nil
}
