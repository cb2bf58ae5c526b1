package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/openrooms/internal/domain"
)

// ConnHandle is a reference counted owner of a PeerConnection.
// The connection is closed when the last owner releases it.
type ConnHandle struct {
	conn PeerConnection
	refs atomic.Int32
	once sync.Once
	err  error
}

// NewConnHandle returns a handle holding one reference.
func NewConnHandle(conn PeerConnection) *ConnHandle {
	h := &ConnHandle{conn: conn}
	h.refs.Store(1)
	return h
}

func (h *ConnHandle) Conn() PeerConnection { return h.conn }

func (h *ConnHandle) Refs() int32 { return h.refs.Load() }

// Acquire adds an owner. It reports false once the connection has been released.
func (h *ConnHandle) Acquire() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one owner and closes the connection when none remain.
// Extra releases are ignored.
func (h *ConnHandle) Release() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return nil
		}
		if h.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				h.once.Do(func() { h.err = h.conn.Close() })
				return h.err
			}
			return nil
		}
	}
}

// Session is one participant connection inside a room.
type Session struct {
	ID       domain.SessionID
	RoomID   domain.RoomID
	JoinedAt time.Time

	handle *ConnHandle
}

func NewSession(roomID domain.RoomID, conn PeerConnection, now time.Time) *Session {
	return &Session{
		ID:       domain.NewSessionID(),
		RoomID:   roomID,
		JoinedAt: now,
		handle:   NewConnHandle(conn),
	}
}

// Handle returns the connection handle; the session owns the initial reference.
func (s *Session) Handle() *ConnHandle { return s.handle }
