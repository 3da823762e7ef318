package collab

import (
	"log"
	"sync"
	"time"

	"github.com/Realm-101/unbuilt-collab/internal/stats"
)

// Registry owns the room-id to Room mapping. Rooms are created lazily on
// first join and reaped once empty and idle.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	log   *log.Logger
	stats stats.StatsProvider
}

func NewRegistry(logger *log.Logger, su stats.StatsProvider) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		log:   logger,
		stats: su,
	}
}

// GetOrCreate returns the room for id, creating it if absent. Concurrent
// calls for the same id always observe the same Room instance.
func (reg *Registry) GetOrCreate(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room
	}

	room := NewRoom(id, reg.log, reg.stats)
	reg.rooms[id] = room
	reg.log.Printf("created room %q", id)
	if reg.stats != nil {
		reg.stats.Incr("NumRooms")
	}

	return room
}

// Get is the non-creating lookup used by leaf operations and diagnostics.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[id]
	return room, ok
}

// Snapshot returns the current rooms. Used for disconnect cleanup and the
// diagnostics endpoint; callers operate on each room through its own lock.
func (reg *Registry) Snapshot() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// ReapIdle removes every room that has no participants and has been
// untouched for longer than threshold. It works over a snapshot so the
// registry lock is taken only briefly per candidate, never for the whole
// scan; an occupied room is never removed regardless of age.
func (reg *Registry) ReapIdle(threshold time.Duration, now time.Time) int {
	var reaped int
	for _, room := range reg.Snapshot() {
		reg.mu.Lock()
		room.mu.Lock()
		idle := len(room.participants) == 0 && now.Sub(room.lastActivity) >= threshold
		if idle {
			room.removed = true
			delete(reg.rooms, room.id)
			reaped++
		}
		room.mu.Unlock()
		reg.mu.Unlock()

		if idle {
			reg.log.Printf("reaped idle room %q", room.id)
			if reg.stats != nil {
				reg.stats.Decr("NumRooms")
				reg.stats.Incr("RoomsReaped")
			}
		}
	}

	return reaped
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
