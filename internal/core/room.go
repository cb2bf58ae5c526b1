package core

import (
	"sort"
	"time"

	"github.com/dkeye/openrooms/internal/domain"
)

// Room is plain state. It is not safe for concurrent use: the registry
// serializes every access under its own lock.
type Room struct {
	ID        domain.RoomID
	Password  domain.Password
	CreatedAt time.Time

	lastActivity time.Time
	participants map[domain.SessionID]*Session
}

func NewRoom(id domain.RoomID, password domain.Password, now time.Time) *Room {
	return &Room{
		ID:           id,
		Password:     password,
		CreatedAt:    now,
		lastActivity: now,
		participants: make(map[domain.SessionID]*Session),
	}
}

// Touch moves last activity forward; it never goes back.
func (r *Room) Touch(now time.Time) {
	if now.After(r.lastActivity) {
		r.lastActivity = now
	}
}

func (r *Room) LastActivity() time.Time { return r.lastActivity }

func (r *Room) Len() int { return len(r.participants) }

// Add inserts s unless a session with the same id is already present.
func (r *Room) Add(s *Session) bool {
	if _, ok := r.participants[s.ID]; ok {
		return false
	}
	r.participants[s.ID] = s
	return true
}

func (r *Room) Remove(sid domain.SessionID) (*Session, bool) {
	s, ok := r.participants[sid]
	if ok {
		delete(r.participants, sid)
	}
	return s, ok
}

func (r *Room) Session(sid domain.SessionID) (*Session, bool) {
	s, ok := r.participants[sid]
	return s, ok
}

// Idle reports whether the room is empty and has seen no activity for at least timeout.
func (r *Room) Idle(now time.Time, timeout time.Duration) bool {
	return len(r.participants) == 0 && now.Sub(r.lastActivity) >= timeout
}

func (r *Room) Info() RoomInfo {
	sessions := make([]domain.SessionID, 0, len(r.participants))
	for sid := range r.participants {
		sessions = append(sessions, sid)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i] < sessions[j] })
	return RoomInfo{
		ID:           r.ID,
		Sessions:     sessions,
		Participants: len(sessions),
		HasPassword:  r.Password != "",
		CreatedAt:    r.CreatedAt,
		LastActivity: r.lastActivity,
	}
}
