package app

import (
	"sync"
	"time"

	"github.com/dkeye/openrooms/internal/core"
	"github.com/dkeye/openrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps room ids to rooms. A single mutex covers the whole map and
// every room in it; holders only do map and field bookkeeping.
type Registry struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*core.Room
	now   func() time.Time
}

type RegistryOption func(*Registry)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms: make(map[domain.RoomID]*core.Room),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Now() time.Time { return r.now() }

// GetOrCreate returns the room with the given id, creating an empty one if needed.
// created reports whether this call made it.
func (r *Registry) GetOrCreate(id domain.RoomID) (info core.RoomInfo, created bool) {
	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok {
		room = core.NewRoom(id, "", r.now())
		r.rooms[id] = room
	}
	info = room.Info()
	r.mu.Unlock()

	if !ok {
		log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room created")
	}
	return info, !ok
}

// Create registers a new room under a fresh id and stores its password.
func (r *Registry) Create(password domain.Password) core.RoomInfo {
	r.mu.Lock()
	id := domain.NewRoomID()
	for _, taken := r.rooms[id]; taken; _, taken = r.rooms[id] {
		id = domain.NewRoomID()
	}
	room := core.NewRoom(id, password, r.now())
	r.rooms[id] = room
	info := room.Info()
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("room", string(id)).Bool("password", password != "").Msg("room created")
	return info
}

// Attach adds s to the room and refreshes its activity. It fails with
// domain.ErrRoomNotFound when the room has been reclaimed in the meantime.
func (r *Registry) Attach(id domain.RoomID, s *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if !room.Add(s) {
		return domain.ErrSessionExists
	}
	room.Touch(r.now())
	log.Info().Str("module", "app.registry").Str("room", string(id)).Str("sid", string(s.ID)).Msg("session attached")
	return nil
}

// Detach removes a session and returns it, or nil if the room or session is
// already gone. The caller owns releasing the returned session's connection.
func (r *Registry) Detach(id domain.RoomID, sid domain.SessionID) *core.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil
	}
	s, ok := room.Remove(sid)
	if !ok {
		return nil
	}
	room.Touch(r.now())
	log.Info().Str("module", "app.registry").Str("room", string(id)).Str("sid", string(sid)).Msg("session detached")
	return s
}

// SweepIdle removes every empty room idle for at least idleTimeout. Scan and
// removal share one critical section, so a room that gains a participant
// before the sweep takes the lock is never removed.
func (r *Registry) SweepIdle(idleTimeout time.Duration) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var removed []domain.RoomID
	for id, room := range r.rooms {
		if room.Idle(now, idleTimeout) {
			delete(r.rooms, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (r *Registry) Get(id domain.RoomID) (core.RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return core.RoomInfo{}, false
	}
	return room.Info(), true
}

func (r *Registry) List() []core.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room.Info())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, room := range r.rooms {
		n += room.Len()
	}
	return n
}
